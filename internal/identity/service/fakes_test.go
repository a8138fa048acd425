package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cryptoforum/backend/internal/identity/events"
	"cryptoforum/backend/internal/security"
	sessiondomain "cryptoforum/backend/internal/session/domain"
	sessionrepo "cryptoforum/backend/internal/session/repository"
	"cryptoforum/backend/internal/user/contract"
)

var testSecret = []byte("service-test-secret")

const (
	testAccessTTL  = 15 * time.Minute
	testRefreshTTL = 7 * 24 * time.Hour
)

// countingSessions wraps the memory repository and counts every call.
type countingSessions struct {
	*sessionrepo.MemoryRepository
	mu    sync.Mutex
	calls int
}

func newCountingSessions() *countingSessions {
	return &countingSessions{MemoryRepository: sessionrepo.NewMemoryRepository()}
}

func (c *countingSessions) hit() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *countingSessions) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *countingSessions) GetByUser(ctx context.Context, userID string) (*sessiondomain.Session, error) {
	c.hit()
	return c.MemoryRepository.GetByUser(ctx, userID)
}

func (c *countingSessions) GetByID(ctx context.Context, id string) (*sessiondomain.Session, error) {
	c.hit()
	return c.MemoryRepository.GetByID(ctx, id)
}

func (c *countingSessions) Create(ctx context.Context, s *sessiondomain.Session) error {
	c.hit()
	return c.MemoryRepository.Create(ctx, s)
}

func (c *countingSessions) Replace(ctx context.Context, s *sessiondomain.Session) error {
	c.hit()
	return c.MemoryRepository.Replace(ctx, s)
}

func (c *countingSessions) Rotate(ctx context.Context, previousID string, next *sessiondomain.Session) error {
	c.hit()
	return c.MemoryRepository.Rotate(ctx, previousID, next)
}

func (c *countingSessions) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	c.hit()
	return c.MemoryRepository.DeleteByUser(ctx, userID)
}

func (c *countingSessions) DeleteByID(ctx context.Context, id string) (int64, error) {
	c.hit()
	return c.MemoryRepository.DeleteByID(ctx, id)
}

// memProfiles is an in-memory ProfileClient.
type memProfiles struct {
	mu        sync.Mutex
	users     map[string]*memProfile // by id
	lookupErr error
	verifyErr []error // returned in order before normal behavior
	createErr error
}

type memProfile struct {
	ref      contract.UserRef
	password string
	token    string
}

func newMemProfiles() *memProfiles {
	return &memProfiles{users: make(map[string]*memProfile)}
}

func (p *memProfiles) add(id, email, password, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[id] = &memProfile{
		ref:      contract.UserRef{ID: id, Email: email, Username: "user-" + id, Status: status},
		password: password,
	}
}

func (p *memProfiles) remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.users, id)
}

func (p *memProfiles) byEmail(email string) *memProfile {
	for _, u := range p.users {
		if u.ref.Email == email {
			return u
		}
	}
	return nil
}

func (p *memProfiles) Lookup(ctx context.Context, userID string) (*contract.UserRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lookupErr != nil {
		return nil, p.lookupErr
	}
	u, ok := p.users[userID]
	if !ok {
		return nil, nil
	}
	ref := u.ref
	return &ref, nil
}

func (p *memProfiles) Create(ctx context.Context, req contract.CreateRequest) (*contract.CreateResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	if p.byEmail(req.Email) != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	id := fmt.Sprintf("new-%d", len(p.users)+1)
	p.users[id] = &memProfile{
		ref:      contract.UserRef{ID: id, Email: req.Email, Username: req.Username, Status: "pending"},
		password: req.Password,
		token:    "confirm-" + id,
	}
	return &contract.CreateResponse{UserID: id, Email: req.Email, ConfirmationToken: "confirm-" + id}, nil
}

func (p *memProfiles) VerifyCredentials(ctx context.Context, email, password string) (*contract.UserRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.verifyErr) > 0 {
		err := p.verifyErr[0]
		p.verifyErr = p.verifyErr[1:]
		return nil, err
	}
	u := p.byEmail(email)
	if u == nil || u.password != password {
		return nil, ErrInvalidCredentials
	}
	switch u.ref.Status {
	case "pending":
		return nil, ErrAccountNotConfirmed
	case "closed":
		return nil, ErrAccountClosed
	}
	ref := u.ref
	return &ref, nil
}

func (p *memProfiles) Confirm(ctx context.Context, token string) (*contract.UserRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.users {
		if u.token != "" && u.token == token {
			u.token = ""
			u.ref.Status = "active"
			ref := u.ref
			return &ref, nil
		}
	}
	return nil, ErrInvalidConfirmation
}

func (p *memProfiles) Update(ctx context.Context, userID string, fields map[string]string) (*contract.UpdateResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	var changed []string
	for _, f := range []string{contract.FieldEmail, contract.FieldUsername, contract.FieldPassword} {
		v, ok := fields[f]
		if !ok {
			continue
		}
		switch f {
		case contract.FieldEmail:
			if v == u.ref.Email {
				continue
			}
			u.ref.Email = v
		case contract.FieldUsername:
			if v == u.ref.Username {
				continue
			}
			u.ref.Username = v
		case contract.FieldPassword:
			u.password = v
		}
		changed = append(changed, f)
	}
	return &contract.UpdateResponse{UserID: userID, Changed: changed}, nil
}

func (p *memProfiles) Close(ctx context.Context, userID, password string) (*contract.UserRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	if u.password != password {
		return nil, ErrInvalidCredentials
	}
	u.ref.Status = "closed"
	ref := u.ref
	return &ref, nil
}

// recordingPublisher keeps every event it is handed.
type recordingPublisher struct {
	mu       sync.Mutex
	sync     []events.Event
	async    []events.Event
	failures int
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("bus unavailable")
	}
	p.sync = append(p.sync, e)
	return nil
}

func (p *recordingPublisher) PublishAsync(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.async = append(p.async, e)
}

func (p *recordingPublisher) published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.sync...)
}

func (p *recordingPublisher) audits() []events.LogAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.LogAction
	for _, e := range p.async {
		if la, ok := e.(events.LogAction); ok {
			out = append(out, la)
		}
	}
	return out
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	clock     *testClock
	codec     *security.TokenCodec
	sessions  *countingSessions
	profiles  *memProfiles
	publisher *recordingPublisher
	tokens    *TokenManager
	auth      *AuthService
}

func newHarness() *harness {
	h := &harness{
		clock:     &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		sessions:  newCountingSessions(),
		profiles:  newMemProfiles(),
		publisher: &recordingPublisher{},
	}
	h.codec = security.NewTokenCodec(testSecret, "cryptoforum-test", security.WithClock(h.clock.Now))
	h.tokens = NewTokenManager(h.codec, h.sessions, h.profiles, testAccessTTL, testRefreshTTL)
	h.tokens.now = h.clock.Now
	h.auth = NewAuthService(h.tokens, h.profiles, h.publisher)
	h.auth.initialInterval = time.Millisecond
	h.auth.now = h.clock.Now
	return h
}
