package board

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/elma1989/join/domain"
	"github.com/elma1989/join/storage"
)

type opKey struct {
	coll domain.Collection
	op   string
}

type fakeStore struct {
	mu     sync.Mutex
	docs   map[domain.Collection]map[string]domain.Document
	calls  map[opKey]int
	nextID int
	// fail lets a test reject a write before it is applied.
	fail func(coll domain.Collection, op string, doc domain.Document) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[domain.Collection]map[string]domain.Document{}, calls: map[opKey]int{}}
}

func (f *fakeStore) count(coll domain.Collection, op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[opKey{coll, op}]
}

func (f *fakeStore) seed(coll domain.Collection, doc domain.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs[coll] == nil {
		f.docs[coll] = map[string]domain.Document{}
	}
	f.docs[coll][doc.ID()] = doc.Clone()
}

func (f *fakeStore) doc(coll domain.Collection, id string) (domain.Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[coll][id]
	return d, ok
}

func (f *fakeStore) check(coll domain.Collection, op string, doc domain.Document) error {
	f.calls[opKey{coll, op}]++
	if f.fail != nil {
		return f.fail(coll, op, doc)
	}
	return nil
}

func (f *fakeStore) Insert(_ context.Context, coll domain.Collection, doc domain.Document) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(coll, "insert", doc); err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("%s-%d", coll, f.nextID)
	stored := doc.Clone()
	stored["id"] = id
	if f.docs[coll] == nil {
		f.docs[coll] = map[string]domain.Document{}
	}
	f.docs[coll][id] = stored
	return id, nil
}

func (f *fakeStore) Put(_ context.Context, coll domain.Collection, id string, doc domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(coll, "put", doc); err != nil {
		return err
	}
	if f.docs[coll] == nil {
		f.docs[coll] = map[string]domain.Document{}
	}
	stored := doc.Clone()
	stored["id"] = id
	f.docs[coll][id] = stored
	return nil
}

func (f *fakeStore) Update(_ context.Context, coll domain.Collection, id string, doc domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(coll, "update", doc); err != nil {
		return err
	}
	if _, ok := f.docs[coll][id]; !ok {
		return domain.ErrNotFound
	}
	stored := doc.Clone()
	stored["id"] = id
	f.docs[coll][id] = stored
	return nil
}

func (f *fakeStore) Delete(_ context.Context, coll domain.Collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(coll, "delete", domain.Document{"id": id}); err != nil {
		return err
	}
	if _, ok := f.docs[coll][id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.docs[coll], id)
	return nil
}

func (f *fakeStore) Get(_ context.Context, coll domain.Collection, id string) (domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[coll][id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d.Clone(), nil
}

func (f *fakeStore) List(_ context.Context, coll domain.Collection) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.docs[coll]))
	for id := range f.docs[coll] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]domain.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.docs[coll][id].Clone())
	}
	return out, nil
}

type fakeParker struct {
	mu     sync.Mutex
	parked []storage.PendingWrite
}

func (p *fakeParker) Park(_ context.Context, w storage.PendingWrite) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.parked = append(p.parked, w)
	return nil
}
