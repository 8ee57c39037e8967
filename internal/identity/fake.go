package identity

import (
	"context"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/shell/internal/model"
)

const minPasswordLen = 6

type fakeAccount struct {
	id       string
	password string
}

// Fake is the in-memory identity platform used by tests and local
// development. It enforces the same error taxonomy as the real
// platform so the session store cannot tell them apart.
type Fake struct {
	mu        sync.Mutex
	accounts  map[string]*fakeAccount
	docs      map[string]model.Identity
	currentID string
	watchers  watcherSet
}

func NewFake() *Fake {
	return &Fake{
		accounts: make(map[string]*fakeAccount),
		docs:     make(map[string]model.Identity),
	}
}

// NewSeededFake returns a fake pre-loaded with the demo accounts the
// dashboards expect: one student, one faculty member and one admin,
// all with the password "correctpass".
func NewSeededFake() *Fake {
	f := NewFake()
	department := "Computer Science"
	phone := "+1234567890"
	studentNo := "CS2024001"
	facultyNo := "FAC001"
	createdAt := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

	f.Seed("student1@example.com", "correctpass", model.Identity{
		Email:      "student1@example.com",
		Name:       "Alice Johnson",
		Role:       model.RoleStudent,
		Department: &department,
		StudentID:  &studentNo,
		Phone:      &phone,
		CreatedAt:  createdAt,
	})
	f.Seed("faculty1@example.com", "correctpass", model.Identity{
		Email:      "faculty1@example.com",
		Name:       "Dr. Sarah Mitchell",
		Role:       model.RoleFaculty,
		Department: &department,
		FacultyID:  &facultyNo,
		Phone:      &phone,
		CreatedAt:  createdAt,
	})
	f.Seed("admin1@example.com", "correctpass", model.Identity{
		Email:     "admin1@example.com",
		Name:      "Campus Admin",
		Role:      model.RoleAdmin,
		CreatedAt: createdAt,
	})
	return f
}

// Seed registers an account and its document without notifying watchers.
func (f *Fake) Seed(email, password string, doc model.Identity) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	doc.ID = id
	f.accounts[normalizeEmail(email)] = &fakeAccount{id: id, password: password}
	f.docs[id] = doc
	return id
}

func (f *Fake) SignIn(_ context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return "", ErrInvalidEmail
	}

	f.mu.Lock()
	account, ok := f.accounts[email]
	if !ok || account.password != password {
		f.mu.Unlock()
		return "", ErrInvalidCredentials
	}
	now := time.Now().UTC()
	doc := f.docs[account.id]
	doc.LastLogin = &now
	f.docs[account.id] = doc
	f.currentID = account.id
	notified := f.documentLocked(account.id)
	f.mu.Unlock()

	f.watchers.notify(&notified)
	return account.id, nil
}

func (f *Fake) SignUp(_ context.Context, req model.RegistrationRequest) (string, error) {
	email := normalizeEmail(req.Email)
	if !validEmail(email) {
		return "", ErrInvalidEmail
	}
	if len(req.Password) < minPasswordLen {
		return "", ErrWeakPassword
	}

	f.mu.Lock()
	if _, exists := f.accounts[email]; exists {
		f.mu.Unlock()
		return "", ErrEmailAlreadyRegistered
	}
	now := time.Now().UTC()
	id := uuid.NewString()
	f.accounts[email] = &fakeAccount{id: id, password: req.Password}
	f.docs[id] = model.Identity{
		ID:           id,
		Email:        email,
		Name:         req.Name,
		Role:         req.Role,
		Department:   req.Department,
		StudentID:    req.StudentID,
		FacultyID:    req.FacultyID,
		Phone:        req.Phone,
		ProfileImage: req.ProfileImage,
		CreatedAt:    now,
		LastLogin:    &now,
	}
	f.currentID = id
	notified := f.documentLocked(id)
	f.mu.Unlock()

	f.watchers.notify(&notified)
	return id, nil
}

func (f *Fake) SignOut(_ context.Context) error {
	f.mu.Lock()
	f.currentID = ""
	f.mu.Unlock()

	f.watchers.notify(nil)
	return nil
}

func (f *Fake) GetDocument(_ context.Context, userID string) (model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[userID]; !ok {
		return model.Identity{}, ErrNotFound
	}
	return f.documentLocked(userID), nil
}

func (f *Fake) PutDocument(_ context.Context, doc model.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
	return nil
}

func (f *Fake) CurrentUserID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentID
}

func (f *Fake) Watch(fn func(*model.Identity)) func() {
	return f.watchers.add(fn)
}

// documentLocked returns a copy with the creation-timestamp fallback
// applied; the caller must hold f.mu.
func (f *Fake) documentLocked(userID string) model.Identity {
	doc := f.docs[userID]
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	return doc
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
