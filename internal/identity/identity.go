package identity

import (
	"context"
	"errors"
	"sync"

	"rollcall/shell/internal/model"
)

var (
	ErrInvalidCredentials     = errors.New("invalid_credentials")
	ErrInvalidEmail           = errors.New("invalid_email")
	ErrEmailAlreadyRegistered = errors.New("email_already_registered")
	ErrWeakPassword           = errors.New("weak_password")
	ErrNotFound               = errors.New("document_not_found")
)

// Backend is the sole boundary to the identity platform. Two
// implementations exist: the in-memory Fake for tests and development,
// and the Remote HTTP adapter for a real deployment. Which one runs is
// a configuration choice, never a code duplication.
type Backend interface {
	SignIn(ctx context.Context, email, password string) (string, error)
	SignUp(ctx context.Context, req model.RegistrationRequest) (string, error)
	// SignOut never fails observably; transport errors are logged and
	// swallowed so the return to anonymous state cannot be blocked.
	SignOut(ctx context.Context) error
	GetDocument(ctx context.Context, userID string) (model.Identity, error)
	PutDocument(ctx context.Context, doc model.Identity) error
	CurrentUserID() string
	// Watch registers a continuous subscription to auth-state
	// transitions. The callback receives the populated identity on
	// sign-in and nil on sign-out. The returned func unsubscribes;
	// the owner must call it at shutdown.
	Watch(fn func(*model.Identity)) func()
}

type watcherSet struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(*model.Identity)
}

func (w *watcherSet) add(fn func(*model.Identity)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fns == nil {
		w.fns = make(map[int]func(*model.Identity))
	}
	id := w.next
	w.next++
	w.fns[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.fns, id)
	}
}

func (w *watcherSet) notify(doc *model.Identity) {
	w.mu.Lock()
	fns := make([]func(*model.Identity), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn(doc)
	}
}
