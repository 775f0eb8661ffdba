// Package authctx holds the authentication state for one client session.
//
// A Provider is owned by whoever creates it; there is no package-level state.
// It starts in Loading, resolves through a session.Store, and passes through
// Loading again on every sign-in or sign-out.
package authctx

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ngdi-portal/portal/internal/auth"
	"github.com/ngdi-portal/portal/internal/session"
)

// Status is the phase of the state machine
type Status int

const (
	Loading Status = iota
	Authenticated
	Unauthenticated
	Failed
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// State is a snapshot of the provider. User is set only when Authenticated,
// Reason only when Failed.
type State struct {
	Status Status
	User   *auth.AuthUser
	Reason string
}

// RacePolicy decides which resolution sets the state when calls overlap
type RacePolicy int

const (
	// LastResolutionWins applies every resolution in the order it arrives
	LastResolutionWins RacePolicy = iota
	// LatestCallWins discards resolutions of calls that a newer call superseded
	LatestCallWins
)

// ErrTornDown is returned by calls made after Teardown
var ErrTornDown = errors.New("auth context torn down")

// Option configures a Provider
type Option func(*Provider)

// WithRacePolicy selects how overlapping sign-in and sign-out calls resolve
func WithRacePolicy(p RacePolicy) Option {
	return func(pr *Provider) { pr.policy = p }
}

// WithLogger sets the provider's logger
func WithLogger(l zerolog.Logger) Option {
	return func(pr *Provider) { pr.logger = l }
}

// Provider is the auth state machine for one session
type Provider struct {
	store  session.Store
	policy RacePolicy
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	seq       uint64
	listeners map[int]func(State)
	nextID    int
	torn      bool
}

// New creates a provider in the Loading state
func New(store session.Store, opts ...Option) *Provider {
	p := &Provider{
		store:     store,
		logger:    zerolog.Nop(),
		state:     State{Status: Loading},
		listeners: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current snapshot
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Subscribe registers fn for every state change and returns a func that removes it
func (p *Provider) Subscribe(fn func(State)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.torn {
		return func() {}
	}
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// Mount resolves the initial state from the store. It always ends in
// Authenticated or Unauthenticated.
func (p *Provider) Mount(ctx context.Context) State {
	call, ok := p.begin()
	if !ok {
		return p.State()
	}
	return p.finish(call, resolved(p.store.GetSession(ctx)))
}

// SignIn authenticates through the store. A failed attempt leaves the
// provider in Failed with the error's message as the reason.
func (p *Provider) SignIn(ctx context.Context, creds session.Credentials) (State, error) {
	call, ok := p.begin()
	if !ok {
		return p.State(), ErrTornDown
	}

	sess, err := p.store.SignIn(ctx, creds)
	if err != nil {
		p.logger.Warn().Err(err).Str("email", creds.Email).Msg("Sign-in failed")
		return p.finish(call, State{Status: Failed, Reason: err.Error()}), err
	}

	p.logger.Info().Str("user_id", sess.UserID).Msg("Signed in")
	return p.finish(call, resolved(sess)), nil
}

// SignOut ends the session through the store
func (p *Provider) SignOut(ctx context.Context) (State, error) {
	call, ok := p.begin()
	if !ok {
		return p.State(), ErrTornDown
	}

	if err := p.store.SignOut(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Sign-out failed")
		return p.finish(call, State{Status: Failed, Reason: err.Error()}), err
	}
	return p.finish(call, State{Status: Unauthenticated}), nil
}

// Teardown drops every listener and rejects later calls. Call it once the
// session ends; a new session gets a new Provider.
func (p *Provider) Teardown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.torn = true
	p.listeners = make(map[int]func(State))
}

func resolved(sess *session.Session) State {
	if sess == nil {
		return State{Status: Unauthenticated}
	}
	user := sess.User()
	return State{Status: Authenticated, User: &user}
}

// begin starts a call: it takes a sequence number and enters Loading
func (p *Provider) begin() (uint64, bool) {
	p.mu.Lock()
	if p.torn {
		p.mu.Unlock()
		return 0, false
	}
	p.seq++
	call := p.seq
	p.state = State{Status: Loading}
	listeners := p.snapshot()
	p.mu.Unlock()

	notify(listeners, State{Status: Loading})
	return call, true
}

// finish applies a resolution unless the race policy discards it
func (p *Provider) finish(call uint64, next State) State {
	p.mu.Lock()
	if p.torn {
		p.mu.Unlock()
		return next
	}
	if p.policy == LatestCallWins && call != p.seq {
		current := p.state
		p.mu.Unlock()
		p.logger.Debug().Uint64("call", call).Msg("Discarding superseded resolution")
		return current
	}
	p.state = next
	listeners := p.snapshot()
	p.mu.Unlock()

	notify(listeners, next)
	return next
}

// snapshot copies the listeners; callers hold p.mu
func (p *Provider) snapshot() []func(State) {
	out := make([]func(State), 0, len(p.listeners))
	for _, fn := range p.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []func(State), s State) {
	for _, fn := range listeners {
		fn(s)
	}
}
