// Package board holds the address book and the Kanban board: entity writes,
// the batched task save and the live views built on collection mirrors.
package board

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/elma1989/join/changefeed"
	"github.com/elma1989/join/domain"
)

// Store is the document store the board writes to.
type Store interface {
	Insert(ctx context.Context, coll domain.Collection, doc domain.Document) (string, error)
	Put(ctx context.Context, coll domain.Collection, id string, doc domain.Document) error
	Update(ctx context.Context, coll domain.Collection, id string, doc domain.Document) error
	Delete(ctx context.Context, coll domain.Collection, id string) error
	Get(ctx context.Context, coll domain.Collection, id string) (domain.Document, error)
	List(ctx context.Context, coll domain.Collection) ([]domain.Document, error)
}

// Publisher announces writes to collection mirrors.
type Publisher interface {
	Publish(ctx context.Context, n changefeed.Notice) error
}

// Repository writes entities to the collection they declare and announces
// every successful write.
type Repository struct {
	store  Store
	feed   Publisher
	logger *log.Logger
}

func NewRepository(store Store, feed Publisher, logger *log.Logger) *Repository {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Repository{store: store, feed: feed, logger: logger}
}

// Insert stores a new entity and returns the id the store assigned.
func (r *Repository) Insert(ctx context.Context, e domain.Entity) (string, error) {
	id, err := r.store.Insert(ctx, e.Collection(), e.ToDocument())
	if err != nil {
		return "", err
	}
	r.announce(ctx, e.Collection(), id, domain.OpInsert)
	return id, nil
}

// Update replaces a stored entity.
func (r *Repository) Update(ctx context.Context, e domain.Entity) error {
	return r.UpdateDocument(ctx, e.Collection(), e.DocumentID(), e.ToDocument())
}

// Put creates or replaces an entity under its own id.
func (r *Repository) Put(ctx context.Context, e domain.Entity) error {
	return r.PutDocument(ctx, e.Collection(), e.DocumentID(), e.ToDocument())
}

func (r *Repository) UpdateDocument(ctx context.Context, coll domain.Collection, id string, doc domain.Document) error {
	if err := r.store.Update(ctx, coll, id, doc); err != nil {
		return err
	}
	r.announce(ctx, coll, id, domain.OpUpdate)
	return nil
}

func (r *Repository) PutDocument(ctx context.Context, coll domain.Collection, id string, doc domain.Document) error {
	if err := r.store.Put(ctx, coll, id, doc); err != nil {
		return err
	}
	r.announce(ctx, coll, id, domain.OpUpdate)
	return nil
}

func (r *Repository) InsertDocument(ctx context.Context, coll domain.Collection, doc domain.Document) (string, error) {
	id, err := r.store.Insert(ctx, coll, doc)
	if err != nil {
		return "", err
	}
	r.announce(ctx, coll, id, domain.OpInsert)
	return id, nil
}

// Delete removes a document.
func (r *Repository) Delete(ctx context.Context, coll domain.Collection, id string) error {
	if err := r.store.Delete(ctx, coll, id); err != nil {
		return err
	}
	r.announce(ctx, coll, id, domain.OpDelete)
	return nil
}

func (r *Repository) Get(ctx context.Context, coll domain.Collection, id string) (domain.Document, error) {
	return r.store.Get(ctx, coll, id)
}

func (r *Repository) List(ctx context.Context, coll domain.Collection) ([]domain.Document, error) {
	return r.store.List(ctx, coll)
}

// announce publishes a notice. The write already happened, so a failed
// publish is logged rather than returned; mirrors catch up on the next one.
func (r *Repository) announce(ctx context.Context, coll domain.Collection, id string, op domain.Op) {
	if r.feed == nil {
		return
	}
	if err := r.feed.Publish(ctx, changefeed.NewNotice(coll, id, op)); err != nil {
		r.logger.WithError(err).WithFields(log.Fields{
			"collection": coll,
			"id":         id,
			"op":         op,
		}).Warn("publish change notice failed")
	}
}
