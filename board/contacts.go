package board

import (
	"context"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/elma1989/join/changefeed"
	"github.com/elma1989/join/domain"
	"github.com/elma1989/join/mirror"
)

// Group is the contacts whose first name starts with Letter.
type Group struct {
	Letter   string            `json:"letter"`
	Contacts []*domain.Contact `json:"contacts"`
}

// Unassigner removes a contact from the tasks it is assigned to.
type Unassigner interface {
	UnassignContact(ctx context.Context, contactID string) (int, error)
}

// ContactBook is the address book.
type ContactBook struct {
	repo   *Repository
	tasks  Unassigner
	logger *log.Logger

	contacts *mirror.Mirror[*domain.Contact]

	mu       sync.RWMutex
	groups   []Group
	selected string
}

func NewContactBook(repo *Repository, tasks Unassigner, logger *log.Logger) *ContactBook {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ContactBook{repo: repo, tasks: tasks, logger: logger}
}

// Watch mirrors the contacts collection and regroups on every snapshot.
func (b *ContactBook) Watch(ctx context.Context, feed changefeed.Feed, opts mirror.Options[*domain.Contact]) error {
	onReplace := opts.OnReplace
	opts.OnReplace = func(items []*domain.Contact) {
		groups := GroupContacts(items)
		b.mu.Lock()
		b.groups = groups
		b.mu.Unlock()
		if onReplace != nil {
			onReplace(items)
		}
	}
	m, err := mirror.Subscribe(ctx, b.repo, feed, domain.ContactsCollection, domain.ContactFromDocument, opts)
	if err != nil {
		return err
	}
	b.contacts = m
	return nil
}

// Close stops the mirror started by Watch.
func (b *ContactBook) Close() {
	if b.contacts != nil {
		b.contacts.Unsubscribe()
	}
}

// Groups returns the contacts grouped by first letter.
func (b *ContactBook) Groups(ctx context.Context) ([]Group, error) {
	if b.contacts != nil && b.contacts.Ready() {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return b.groups, nil
	}
	contacts, err := b.Contacts(ctx)
	if err != nil {
		return nil, err
	}
	return GroupContacts(contacts), nil
}

// Contacts returns every contact.
func (b *ContactBook) Contacts(ctx context.Context) ([]*domain.Contact, error) {
	if b.contacts != nil && b.contacts.Ready() {
		return b.contacts.Items(), nil
	}
	return listAs(ctx, b.repo, domain.ContactsCollection, domain.ContactFromDocument)
}

// Get loads a single contact.
func (b *ContactBook) Get(ctx context.Context, id string) (*domain.Contact, error) {
	doc, err := b.repo.Get(ctx, domain.ContactsCollection, id)
	if err != nil {
		return nil, err
	}
	return domain.ContactFromDocument(doc)
}

// Select highlights one contact; an empty id clears the selection.
func (b *ContactBook) Select(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selected = id
}

func (b *ContactBook) Selected() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selected
}

// Create stores a new contact and sets its id.
func (b *ContactBook) Create(ctx context.Context, c *domain.Contact) error {
	c.UpdateGroup()
	if c.Color == "" {
		c.Color = domain.RandomColor()
	}
	id, err := b.repo.Insert(ctx, c)
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

// Update stores changes to a contact.
func (b *ContactBook) Update(ctx context.Context, c *domain.Contact) error {
	c.UpdateGroup()
	return b.repo.Update(ctx, c)
}

// Delete removes a contact and unassigns it from every task.
func (b *ContactBook) Delete(ctx context.Context, id string) error {
	if err := b.repo.Delete(ctx, domain.ContactsCollection, id); err != nil {
		return err
	}
	if b.Selected() == id {
		b.Select("")
	}
	if b.tasks == nil {
		return nil
	}
	n, err := b.tasks.UnassignContact(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		b.logger.WithFields(log.Fields{"contact": id, "tasks": n}).Debug("contact unassigned from tasks")
	}
	return nil
}

// GroupContacts sorts contacts into letter groups. Groups are ordered by
// letter and contacts inside a group by first then last name.
func GroupContacts(contacts []*domain.Contact) []Group {
	sorted := make([]*domain.Contact, len(contacts))
	copy(sorted, contacts)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		if fa, fb := strings.ToLower(a.FirstName), strings.ToLower(b.FirstName); fa != fb {
			return fa < fb
		}
		return strings.ToLower(a.LastName) < strings.ToLower(b.LastName)
	})
	groups := []Group{}
	for _, c := range sorted {
		if n := len(groups); n == 0 || groups[n-1].Letter != c.Group {
			groups = append(groups, Group{Letter: c.Group})
		}
		groups[len(groups)-1].Contacts = append(groups[len(groups)-1].Contacts, c)
	}
	return groups
}
