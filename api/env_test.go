package api

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/elma1989/join/account"
	"github.com/elma1989/join/board"
	"github.com/elma1989/join/changefeed"
	"github.com/elma1989/join/domain"
	"github.com/elma1989/join/session"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type memStore struct {
	mu   sync.Mutex
	docs map[domain.Collection]map[string]domain.Document
}

func newMemStore() *memStore {
	return &memStore{docs: map[domain.Collection]map[string]domain.Document{}}
}

func (m *memStore) put(coll domain.Collection, id string, doc domain.Document) {
	if m.docs[coll] == nil {
		m.docs[coll] = map[string]domain.Document{}
	}
	stored := doc.Clone()
	stored["id"] = id
	m.docs[coll][id] = stored
}

func (m *memStore) Insert(_ context.Context, coll domain.Collection, doc domain.Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := m.docs[coll][id]; ok {
		return "", domain.ErrConflict
	}
	m.put(coll, id, doc)
	return id, nil
}

func (m *memStore) Put(_ context.Context, coll domain.Collection, id string, doc domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(coll, id, doc)
	return nil
}

func (m *memStore) Update(_ context.Context, coll domain.Collection, id string, doc domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[coll][id]; !ok {
		return domain.ErrNotFound
	}
	m.put(coll, id, doc)
	return nil
}

func (m *memStore) Delete(_ context.Context, coll domain.Collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[coll][id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.docs[coll], id)
	return nil
}

func (m *memStore) Get(_ context.Context, coll domain.Collection, id string) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[coll][id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d.Clone(), nil
}

func (m *memStore) List(_ context.Context, coll domain.Collection) ([]domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.docs[coll]))
	for id := range m.docs[coll] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]domain.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.docs[coll][id].Clone())
	}
	return out, nil
}

func (m *memStore) count(coll domain.Collection) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs[coll])
}

type testEnv struct {
	e      *echo.Echo
	srv    *Server
	store  *memStore
	feed   *changefeed.Memory
	mr     *miniredis.Miniredis
	tokens *account.Tokens
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := log.New()
	logger.SetOutput(io.Discard)

	store := newMemStore()
	feed := changefeed.NewMemory()
	t.Cleanup(feed.Close)
	repo := board.NewRepository(store, feed, logger)
	tasks := board.NewTaskBoard(repo, board.TaskBoardOptions{Logger: logger})
	contacts := board.NewContactBook(repo, tasks, logger)

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	tokens := &account.Tokens{Secret: []byte(testSecret), Issuer: "join"}
	srv := New(Options{
		Auth:           NewLocalAuth([]byte(testSecret), "", "join"),
		Accounts:       account.NewService(repo, bcrypt.MinCost, logger),
		Tokens:         tokens,
		Sessions:       session.New(rc, time.Hour),
		Contacts:       contacts,
		Board:          tasks,
		Source:         repo,
		Feed:           feed,
		Logger:         logger,
		ToastTTL:       time.Minute,
		BackoffInitial: 10 * time.Millisecond,
		Now:            func() time.Time { return testNow },
	})
	e := echo.New()
	srv.Register(e)
	return &testEnv{e: e, srv: srv, store: store, feed: feed, mr: mr, tokens: tokens}
}

func (env *testEnv) bearer(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := env.tokens.Issue(userID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + token
}

type request struct {
	method string
	path   string
	body   any
	auth   string
	client string
}

func (env *testEnv) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.body != nil {
		raw, err := sonic.Marshal(r.body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(r.method, r.path, body)
	if r.body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if r.auth != "" {
		req.Header.Set(echo.HeaderAuthorization, r.auth)
	}
	if r.client != "" {
		req.Header.Set(clientHeader, r.client)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := sonic.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}
