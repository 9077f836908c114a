package account

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/elma1989/join/domain"
)

type fakeRepo struct {
	docs    map[domain.Collection]map[string]domain.Document
	nextID  int
	failPut error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{docs: map[domain.Collection]map[string]domain.Document{}}
}

func (f *fakeRepo) store(coll domain.Collection, id string, doc domain.Document) {
	if f.docs[coll] == nil {
		f.docs[coll] = map[string]domain.Document{}
	}
	doc = doc.Clone()
	doc["id"] = id
	f.docs[coll][id] = doc
}

func (f *fakeRepo) Insert(_ context.Context, e domain.Entity) (string, error) {
	f.nextID++
	id := fmt.Sprintf("user-%d", f.nextID)
	f.store(e.Collection(), id, e.ToDocument())
	return id, nil
}

func (f *fakeRepo) Put(_ context.Context, e domain.Entity) error {
	if f.failPut != nil {
		return f.failPut
	}
	f.store(e.Collection(), e.DocumentID(), e.ToDocument())
	return nil
}

func (f *fakeRepo) Delete(_ context.Context, coll domain.Collection, id string) error {
	delete(f.docs[coll], id)
	return nil
}

func (f *fakeRepo) Get(_ context.Context, coll domain.Collection, id string) (domain.Document, error) {
	doc, ok := f.docs[coll][id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return doc.Clone(), nil
}

func TestRegisterAndSignIn(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, bcrypt.MinCost, nil)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Anna  Maria Berg", " Anna@Example.com ", "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.FirstName != "Anna Maria" || user.LastName != "Berg" || user.Group != "A" || user.Password != "" {
		t.Fatalf("unexpected user: %+v", user)
	}
	acc, ok := repo.docs[domain.AccountsCollection]["anna@example.com"]
	if !ok || acc.String("userId") != user.ID {
		t.Fatalf("account not stored by email: %v", repo.docs[domain.AccountsCollection])
	}
	if acc.String("passwordHash") == "secret123" {
		t.Fatalf("password stored in clear text")
	}
	if _, ok := repo.docs[domain.ContactsCollection][user.ID]["password"]; ok {
		t.Fatalf("contact must not carry the password")
	}

	id, err := svc.SignIn(ctx, "ANNA@example.com", "secret123")
	if err != nil || id != user.ID {
		t.Fatalf("sign in: %q %v", id, err)
	}
	if _, err := svc.SignIn(ctx, "anna@example.com", "wrong"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "bob@example.com", "secret123"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}

	profile, err := svc.Profile(ctx, user.ID)
	if err != nil || profile.Email != "anna@example.com" {
		t.Fatalf("profile: %+v %v", profile, err)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, bcrypt.MinCost, nil)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "Anna Berg", "anna@example.com", "secret123"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "Other Anna", "ANNA@example.com", "secret456"); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("expected email taken, got %v", err)
	}
}

func TestRegisterRemovesContactWhenAccountFails(t *testing.T) {
	repo := newFakeRepo()
	repo.failPut = errors.New("down")
	svc := NewService(repo, bcrypt.MinCost, nil)
	if _, err := svc.Register(context.Background(), "Anna Berg", "anna@example.com", "secret123"); err == nil {
		t.Fatalf("expected error")
	}
	if len(repo.docs[domain.ContactsCollection]) != 0 {
		t.Fatalf("orphan contact left behind")
	}
}

func TestSplitName(t *testing.T) {
	tests := map[string][2]string{
		"Anna Berg":       {"Anna", "Berg"},
		" Anna ":          {"Anna", ""},
		"Anna Maria Berg": {"Anna Maria", "Berg"},
		"":                {"", ""},
	}
	for in, want := range tests {
		first, last := SplitName(in)
		if first != want[0] || last != want[1] {
			t.Fatalf("%q: got %q %q", in, first, last)
		}
	}
}

func TestIssueToken(t *testing.T) {
	now := time.Now()
	tokens := &Tokens{Secret: []byte("s3cret"), Issuer: "join", Audience: "join-api", TTL: time.Hour, now: func() time.Time { return now }}
	signed, expires, err := tokens.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if expires.Unix() != now.Add(time.Hour).Unix() {
		t.Fatalf("unexpected expiry: %v", expires)
	}

	parsed, err := jwt.Parse(signed, func(*jwt.Token) (any, error) { return []byte("s3cret"), nil }, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["sub"] != "user-1" || claims["iss"] != "join" || claims["aud"] != "join-api" {
		t.Fatalf("unexpected claims: %v", claims)
	}

	if _, _, err := (&Tokens{}).Issue("user-1"); err == nil {
		t.Fatalf("expected error without secret")
	}
}
