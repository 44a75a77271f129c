package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"health-companion/internal/apperr"
	"health-companion/internal/remote"
	"health-companion/internal/storage"
)

// RecordKey is the fixed storage key of the persisted session.
const RecordKey = "currentUser"

type Remote interface {
	Post(ctx context.Context, op, endpoint string, body, out any) error
}

type Options struct {
	AuthURL string
	Secret  string
	// MaxAge after which a restored record should be refreshed. Zero disables.
	MaxAge  time.Duration
	PinCost int
}

// Store owns the authenticated identity. It is the only writer of the
// persisted session record.
type Store struct {
	remote  Remote
	storage storage.Storage
	authURL string
	signer  *Signer
	maxAge  time.Duration
	pinCost int
	now     func() time.Time

	// writeMu serializes every change to the session record, from reading
	// the current record through persisting its successor.
	writeMu sync.Mutex

	mu      sync.RWMutex
	current *Record
	hooks   []func()
}

func NewStore(r Remote, st storage.Storage, opts Options) *Store {
	cost := opts.PinCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Store{
		remote:  r,
		storage: st,
		authURL: opts.AuthURL,
		signer:  NewSigner(opts.Secret),
		maxAge:  opts.MaxAge,
		pinCost: cost,
		now:     time.Now,
	}
}

// OnLogout registers a hook that clears state derived from the session.
func (s *Store) OnLogout(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

type registerRequest struct {
	Action string `json:"action"`
	Registration
}

type loginRequest struct {
	Action string `json:"action"`
	Phone  string `json:"phone"`
}

type authResponse struct {
	remote.Envelope
	User *User `json:"user"`
}

func (s *Store) Register(ctx context.Context, reg Registration) (User, error) {
	if err := reg.Validate(); err != nil {
		return User{}, err
	}

	var resp authResponse
	if err := s.remote.Post(ctx, "auth.register", s.authURL, registerRequest{Action: "register", Registration: reg}, &resp); err != nil {
		return User{}, err
	}
	if !resp.Success || resp.User == nil {
		return User{}, &apperr.TransportError{Op: "auth.register", Err: errors.New(resp.Reason())}
	}

	pinHash, err := bcrypt.GenerateFromPassword([]byte(reg.SosPinCode), s.pinCost)
	if err != nil {
		return User{}, fmt.Errorf("hash sos pin: %w", err)
	}

	rec := Record{
		User:     *resp.User,
		PinHash:  string(pinHash),
		Version:  1,
		SyncedAt: s.now().UTC(),
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.persist(ctx, &rec); err != nil {
		return User{}, err
	}
	log.Printf("session: registered user %d", rec.User.ID)
	return rec.User, nil
}

func (s *Store) Login(ctx context.Context, phone string) (User, error) {
	if phone == "" {
		return User{}, apperr.Validation("login", "phone")
	}
	user, err := s.lookup(ctx, phone)
	if err != nil {
		return User{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec := Record{User: user, Version: 1, SyncedAt: s.now().UTC()}
	s.mu.RLock()
	// The PIN hash never leaves the device, so keep it when the same user logs in again.
	if prev := s.current; prev != nil && prev.User.ID == user.ID {
		rec.PinHash = prev.PinHash
		rec.Version = prev.Version + 1
	}
	s.mu.RUnlock()

	if err := s.persist(ctx, &rec); err != nil {
		return User{}, err
	}
	log.Printf("session: user %d logged in", user.ID)
	return user, nil
}

func (s *Store) lookup(ctx context.Context, phone string) (User, error) {
	var resp authResponse
	err := s.remote.Post(ctx, "auth.login", s.authURL, loginRequest{Action: "login", Phone: phone}, &resp)
	if err != nil {
		var te *apperr.TransportError
		if errors.As(err, &te) && te.StatusCode == http.StatusNotFound {
			return User{}, &apperr.NotFoundError{Phone: phone}
		}
		return User{}, err
	}
	if !resp.Success || resp.User == nil {
		return User{}, &apperr.NotFoundError{Phone: phone}
	}
	return *resp.User, nil
}

// Restore loads the persisted record without contacting the remote. A
// missing or tampered record yields a nil user.
func (s *Store) Restore(ctx context.Context) (*User, error) {
	data, err := s.storage.Load(ctx, RecordKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Printf("session: discarding unreadable record: %v", err)
		return nil, s.storage.Delete(ctx, RecordKey)
	}
	if err := s.signer.Verify(rec); err != nil {
		log.Printf("session: discarding record for user %d: %v", rec.User.ID, err)
		return nil, s.storage.Delete(ctx, RecordKey)
	}

	s.mu.Lock()
	s.current = &rec
	s.mu.Unlock()
	user := rec.User
	return &user, nil
}

// NeedsRefresh reports whether the cached record is older than MaxAge.
func (s *Store) NeedsRefresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil || s.maxAge <= 0 {
		return false
	}
	return s.now().Sub(s.current.SyncedAt) > s.maxAge
}

// Refresh replaces the cached user with the remote's current copy.
func (s *Store) Refresh(ctx context.Context) (User, error) {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur == nil {
		return User{}, apperr.ErrNoSession
	}

	user, err := s.lookup(ctx, cur.User.Phone)
	if err != nil {
		return User{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	cur = s.current
	s.mu.RUnlock()
	// The session ended or changed hands while the remote was answering.
	if cur == nil || cur.User.ID != user.ID {
		return User{}, apperr.ErrNoSession
	}
	rec := Record{
		User:     user,
		PinHash:  cur.PinHash,
		Version:  cur.Version + 1,
		SyncedAt: s.now().UTC(),
	}
	if err := s.persist(ctx, &rec); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *Store) Logout(ctx context.Context) error {
	s.writeMu.Lock()
	err := s.storage.Delete(ctx, RecordKey)

	s.mu.Lock()
	s.current = nil
	hooks := append([]func(){}, s.hooks...)
	s.mu.Unlock()
	s.writeMu.Unlock()

	for _, hook := range hooks {
		hook()
	}
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// UpdateCached merges a patch into the session after the remote has
// acknowledged the mutation.
func (s *Store) UpdateCached(ctx context.Context, patch Patch) (User, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur == nil {
		return User{}, apperr.ErrNoSession
	}

	rec := *cur
	patch.apply(&rec.User)
	if patch.SosPinCode != nil {
		pinHash, err := bcrypt.GenerateFromPassword([]byte(*patch.SosPinCode), s.pinCost)
		if err != nil {
			return User{}, fmt.Errorf("hash sos pin: %w", err)
		}
		rec.PinHash = string(pinHash)
	}
	rec.Version++
	if err := s.persist(ctx, &rec); err != nil {
		return User{}, err
	}
	return rec.User, nil
}

// persist must be called with writeMu held.
func (s *Store) persist(ctx context.Context, rec *Record) error {
	token, err := s.signer.Sign(*rec)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}
	rec.Token = token

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.storage.Save(ctx, RecordKey, data); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	s.mu.Lock()
	s.current = rec
	s.mu.Unlock()
	return nil
}

func (s *Store) Current() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return User{}, false
	}
	return s.current.User, true
}

func (s *Store) UserID() (int64, error) {
	user, ok := s.Current()
	if !ok {
		return 0, apperr.ErrNoSession
	}
	return user.ID, nil
}

func (s *Store) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0
	}
	return s.current.Version
}

func (s *Store) HasPin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil && s.current.PinHash != ""
}

// VerifyPin checks an entered SOS PIN against the hash held for this session.
func (s *Store) VerifyPin(pin string) error {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur == nil {
		return apperr.ErrNoSession
	}
	if cur.PinHash == "" {
		return apperr.ErrPinUnavailable
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cur.PinHash), []byte(pin)); err != nil {
		return &apperr.PinMismatchError{}
	}
	return nil
}
