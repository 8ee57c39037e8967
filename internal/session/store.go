package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"rollcall/shell/internal/identity"
	"rollcall/shell/internal/model"
)

var opResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rollcall_session_operations_total",
	Help: "Session credential operations by outcome.",
}, []string{"op", "result"})

func countOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	opResults.WithLabelValues(op, result).Inc()
}

var (
	// ErrSessionBusy rejects a login/register/logout issued while a
	// previous credential operation is still in flight. Overlapping
	// calls would race the shared loading flag, so they are refused
	// outright instead of being serialized.
	ErrSessionBusy = errors.New("session_busy")

	ErrInvalidRegistration = errors.New("invalid_registration")
)

// sessionRecordKey is the single persisted session record. It is read
// once at startup to restore the previous identity, rewritten on every
// login/register and removed on logout.
const sessionRecordKey = "rollcall:session"

// Snapshot is the observable session value: the current identity (nil
// when anonymous) plus the loading flag and coarse state.
type Snapshot struct {
	State    model.SessionState `json:"state"`
	Loading  bool               `json:"loading"`
	Identity *model.Identity    `json:"user,omitempty"`
}

type subscriber func(Snapshot)

// Store is the process-wide holder of the current session. It owns the
// Identity exclusively; everything else reads snapshots. One instance
// is created by main and injected where needed.
type Store struct {
	backend   identity.Backend
	redis     *redis.Client
	opTimeout time.Duration

	mu       sync.Mutex
	identity *model.Identity
	state    model.SessionState
	loading  bool
	busy     bool
	subs     map[int]subscriber
	nextSub  int
	unwatch  func()
}

func NewStore(backend identity.Backend, redisClient *redis.Client, opTimeout time.Duration) *Store {
	if opTimeout <= 0 {
		opTimeout = 15 * time.Second
	}
	return &Store{
		backend:   backend,
		redis:     redisClient,
		opTimeout: opTimeout,
		state:     model.StateUnknown,
		subs:      make(map[int]subscriber),
	}
}

// Subscribe registers an observer of session snapshots and immediately
// delivers the current one. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	snap := s.snapshotLocked()
	s.mu.Unlock()

	fn(snap)
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Start restores any previously observed identity and registers the
// backend change subscription. The subscription stays active for the
// lifetime of the store; Close releases it.
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	s.state = model.StateRestoring
	s.loading = true
	s.unwatch = s.backend.Watch(s.mirror)
	subs, snap := s.publishLocked()
	s.mu.Unlock()
	deliver(subs, snap)

	restoreCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	restored := s.restore(restoreCtx)

	s.mu.Lock()
	s.identity = restored
	if restored != nil {
		s.state = model.StateAuthenticated
	} else {
		s.state = model.StateAnonymous
	}
	s.loading = false
	subs, snap = s.publishLocked()
	s.mu.Unlock()
	deliver(subs, snap)
}

// Close releases the backend watch subscription so a torn-down store is
// never notified again.
func (s *Store) Close() {
	s.mu.Lock()
	unwatch := s.unwatch
	s.unwatch = nil
	s.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
}

// Login signs in against the backend and resolves the identity in the
// same call by fetching the per-user document directly. The backend
// change subscription is only a secondary consistency signal, so a
// delayed or dropped event cannot leave the caller with loading=false
// and no identity.
func (s *Store) Login(ctx context.Context, email, password string) (model.Identity, error) {
	release, err := s.acquire()
	if err != nil {
		return model.Identity{}, err
	}
	defer release()

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	userID, err := s.backend.SignIn(opCtx, email, password)
	if err != nil {
		countOp("login", err)
		return model.Identity{}, err
	}
	ident, err := s.adopt(opCtx, userID)
	countOp("login", err)
	return ident, err
}

// Register creates the account and document, then resolves the new
// identity the same way Login does.
func (s *Store) Register(ctx context.Context, req model.RegistrationRequest) (model.Identity, error) {
	if err := validateRegistration(req); err != nil {
		return model.Identity{}, err
	}

	release, err := s.acquire()
	if err != nil {
		return model.Identity{}, err
	}
	defer release()

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	userID, err := s.backend.SignUp(opCtx, req)
	if err != nil {
		countOp("register", err)
		return model.Identity{}, err
	}
	ident, err := s.adopt(opCtx, userID)
	countOp("register", err)
	return ident, err
}

// Logout always lands in the anonymous state. A failing backend
// sign-out is logged by the adapter and swallowed; the local identity
// and the persisted record are cleared regardless.
func (s *Store) Logout(ctx context.Context) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.backend.SignOut(opCtx); err != nil {
		log.Printf("session logout: backend sign-out error ignored: %v", err)
	}
	s.clearRecord(opCtx)

	s.mu.Lock()
	s.identity = nil
	s.state = model.StateAnonymous
	subs, snap := s.publishLocked()
	s.mu.Unlock()
	deliver(subs, snap)
	countOp("logout", nil)
	return nil
}

// Refresh re-fetches the current identity document and mirrors it into
// the store. Used by the periodic refresh job as the consistency signal
// for backend-driven changes.
func (s *Store) Refresh(ctx context.Context) error {
	userID := s.backend.CurrentUserID()
	if userID == "" {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	doc, err := s.backend.GetDocument(opCtx, userID)
	if err != nil {
		return err
	}
	s.mirror(&doc)
	return nil
}

// mirror applies a backend-driven auth transition. During an in-flight
// credential operation the loading flag belongs to that operation and
// is left alone.
func (s *Store) mirror(doc *model.Identity) {
	s.mu.Lock()
	if doc != nil {
		copied := *doc
		s.identity = &copied
		s.state = model.StateAuthenticated
	} else if !s.busy {
		s.identity = nil
		s.state = model.StateAnonymous
	}
	if !s.busy {
		s.loading = false
	}
	subs, snap := s.publishLocked()
	s.mu.Unlock()
	deliver(subs, snap)

	if doc != nil {
		s.persistRecord(context.Background(), *doc)
	}
}

func (s *Store) adopt(ctx context.Context, userID string) (model.Identity, error) {
	doc, err := s.backend.GetDocument(ctx, userID)
	if err != nil {
		return model.Identity{}, err
	}

	s.mu.Lock()
	copied := doc
	s.identity = &copied
	s.state = model.StateAuthenticated
	subs, snap := s.publishLocked()
	s.mu.Unlock()
	deliver(subs, snap)

	s.persistRecord(ctx, doc)
	return doc, nil
}

// acquire takes the single in-flight-operation slot. The returned
// release resets busy and loading on every path, success or failure.
func (s *Store) acquire() (func(), error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, ErrSessionBusy
	}
	s.busy = true
	s.loading = true
	subs, snap := s.publishLocked()
	s.mu.Unlock()
	deliver(subs, snap)

	return func() {
		s.mu.Lock()
		s.busy = false
		s.loading = false
		subs, snap := s.publishLocked()
		s.mu.Unlock()
		deliver(subs, snap)
	}, nil
}

// restore resolves the identity to adopt at startup: the persisted
// session record first, then whatever the backend still considers
// signed in. A corrupt record is discarded.
func (s *Store) restore(ctx context.Context) *model.Identity {
	if s.redis != nil {
		raw, err := s.redis.Get(ctx, sessionRecordKey).Result()
		switch {
		case err == nil:
			var doc model.Identity
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				log.Printf("session restore: corrupt record dropped: %v", err)
				s.clearRecord(ctx)
			} else {
				return &doc
			}
		case err != redis.Nil:
			log.Printf("session restore: record read failed: %v", err)
		}
	}

	if userID := s.backend.CurrentUserID(); userID != "" {
		doc, err := s.backend.GetDocument(ctx, userID)
		if err != nil {
			log.Printf("session restore: document fetch failed: %v", err)
			return nil
		}
		return &doc
	}
	return nil
}

func (s *Store) persistRecord(ctx context.Context, doc model.Identity) {
	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		log.Printf("session record encode failed: %v", err)
		return
	}
	if err := s.redis.Set(ctx, sessionRecordKey, raw, 0).Err(); err != nil {
		log.Printf("session record write failed: %v", err)
	}
}

func (s *Store) clearRecord(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, sessionRecordKey).Err(); err != nil {
		log.Printf("session record delete failed: %v", err)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{State: s.state, Loading: s.loading}
	if s.identity != nil {
		copied := *s.identity
		snap.Identity = &copied
	}
	return snap
}

// publishLocked captures the subscriber list and the snapshot while the
// lock is held; deliver runs the callbacks after it is released so the
// mutation is fully visible before any observer is scheduled.
func (s *Store) publishLocked() ([]subscriber, Snapshot) {
	subs := make([]subscriber, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs, s.snapshotLocked()
}

func deliver(subs []subscriber, snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}

func validateRegistration(req model.RegistrationRequest) error {
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return ErrInvalidRegistration
	}
	if !req.Role.Valid() {
		return ErrInvalidRegistration
	}
	// Exactly one of studentId/facultyId is meaningful, selected by
	// role; an admin has neither.
	switch req.Role {
	case model.RoleStudent:
		if req.FacultyID != nil {
			return ErrInvalidRegistration
		}
	case model.RoleFaculty:
		if req.StudentID != nil {
			return ErrInvalidRegistration
		}
	case model.RoleAdmin:
		if req.StudentID != nil || req.FacultyID != nil {
			return ErrInvalidRegistration
		}
	}
	return nil
}
