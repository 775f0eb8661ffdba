package authctx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngdi-portal/portal/internal/auth"
	clientauth "github.com/ngdi-portal/portal/internal/cli/auth"
	"github.com/ngdi-portal/portal/internal/cli/client"
	"github.com/ngdi-portal/portal/internal/session"
)

// fakeStore accepts any password for a@b.com. When gate is set, each call
// blocks until a value arrives on it.
type fakeStore struct {
	mu      sync.Mutex
	current *session.Session
	gate    chan struct{}
}

func (f *fakeStore) wait() {
	if f.gate != nil {
		<-f.gate
	}
}

func (f *fakeStore) GetSession(ctx context.Context) *session.Session {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeStore) SignIn(ctx context.Context, creds session.Credentials) (*session.Session, error) {
	f.wait()
	if creds.Email != "a@b.com" {
		return nil, &session.AuthError{Kind: session.KindInvalidCredentials, Message: "Invalid email or password"}
	}
	sess := &session.Session{
		UserID: "u1",
		Email:  creds.Email,
		Role:   auth.RoleUser,
		Expiry: time.Now().Add(time.Hour),
	}
	f.mu.Lock()
	f.current = sess
	f.mu.Unlock()
	return sess, nil
}

func (f *fakeStore) SignOut(ctx context.Context) error {
	f.wait()
	f.mu.Lock()
	f.current = nil
	f.mu.Unlock()
	return nil
}

func TestNew_StartsLoading(t *testing.T) {
	p := New(&fakeStore{})
	assert.Equal(t, Loading, p.State().Status)
}

func TestMount(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		p := New(&fakeStore{})
		assert.Equal(t, Unauthenticated, p.Mount(context.Background()).Status)
	})

	t.Run("existing session", func(t *testing.T) {
		store := &fakeStore{current: &session.Session{UserID: "u1", Email: "a@b.com", Role: auth.RoleAdmin}}
		state := New(store).Mount(context.Background())
		require.Equal(t, Authenticated, state.Status)
		assert.Equal(t, auth.RoleAdmin, state.User.Role)
	})
}

func TestSignIn_ValidCredentials(t *testing.T) {
	p := New(&fakeStore{})
	p.Mount(context.Background())

	var seen []Status
	p.Subscribe(func(s State) { seen = append(seen, s.Status) })

	state, err := p.SignIn(context.Background(), session.Credentials{Email: "a@b.com", Password: "x"})
	require.NoError(t, err)
	require.Equal(t, Authenticated, state.Status)
	assert.Equal(t, "a@b.com", state.User.Email)
	assert.Equal(t, []Status{Loading, Authenticated}, seen)
	assert.Equal(t, state, p.State())
}

func TestSignIn_Failure(t *testing.T) {
	p := New(&fakeStore{})

	state, err := p.SignIn(context.Background(), session.Credentials{Email: "x@y.com", Password: "x"})
	require.Error(t, err)
	assert.Equal(t, Failed, state.Status)
	assert.Equal(t, "Invalid email or password", state.Reason)
	assert.Nil(t, state.User)
}

func TestSignOut(t *testing.T) {
	p := New(&fakeStore{})
	_, err := p.SignIn(context.Background(), session.Credentials{Email: "a@b.com", Password: "x"})
	require.NoError(t, err)

	state, err := p.SignOut(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Unauthenticated, state.Status)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	p := New(&fakeStore{})

	calls := 0
	unsubscribe := p.Subscribe(func(State) { calls++ })
	p.Mount(context.Background())
	assert.Equal(t, 2, calls)

	unsubscribe()
	p.Mount(context.Background())
	assert.Equal(t, 2, calls)
}

func TestTeardown(t *testing.T) {
	p := New(&fakeStore{})

	calls := 0
	p.Subscribe(func(State) { calls++ })
	p.Teardown()

	_, err := p.SignIn(context.Background(), session.Credentials{Email: "a@b.com", Password: "x"})
	assert.ErrorIs(t, err, ErrTornDown)
	assert.Equal(t, 0, calls)

	p.Subscribe(func(State) { calls++ })
	p.Mount(context.Background())
	assert.Equal(t, 0, calls)
}

func TestConcurrentMounts_ResolveToOneTerminalState(t *testing.T) {
	for _, policy := range []RacePolicy{LastResolutionWins, LatestCallWins} {
		store := &fakeStore{gate: make(chan struct{})}
		p := New(store, WithRacePolicy(policy))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.Mount(context.Background())
			}()
		}
		for i := 0; i < 8; i++ {
			store.gate <- struct{}{}
		}
		wg.Wait()

		assert.Equal(t, Unauthenticated, p.State().Status, "policy %d", policy)
	}
}

// race runs a sign-in and a sign-out that overlap, resolving the sign-in last
func race(t *testing.T, policy RacePolicy) State {
	t.Helper()

	signInGate := make(chan struct{})
	store := &gatedStore{fakeStore: &fakeStore{}, signInGate: signInGate}
	p := New(store, WithRacePolicy(policy))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.SignIn(context.Background(), session.Credentials{Email: "a@b.com", Password: "x"})
	}()

	// wait until the sign-in is in flight
	require.Eventually(t, func() bool { return store.signInStarted() }, time.Second, time.Millisecond)

	_, err := p.SignOut(context.Background())
	require.NoError(t, err)

	close(signInGate)
	<-done
	return p.State()
}

type gatedStore struct {
	*fakeStore
	signInGate chan struct{}

	mu      sync.Mutex
	started bool
}

func (g *gatedStore) SignIn(ctx context.Context, creds session.Credentials) (*session.Session, error) {
	g.mu.Lock()
	g.started = true
	g.mu.Unlock()
	<-g.signInGate
	return g.fakeStore.SignIn(ctx, creds)
}

func (g *gatedStore) signInStarted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

func TestRacePolicy_LastResolutionWins(t *testing.T) {
	state := race(t, LastResolutionWins)
	assert.Equal(t, Authenticated, state.Status)
}

func TestRacePolicy_LatestCallWins(t *testing.T) {
	state := race(t, LatestCallWins)
	assert.Equal(t, Unauthenticated, state.Status)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "loading", Loading.String())
	assert.Equal(t, "authenticated", Authenticated.String())
	assert.Equal(t, "unauthenticated", Unauthenticated.String())
	assert.Equal(t, "error", Failed.String())
}

func TestSignIn_ExpiredSessionFromPortalFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tok","user":{"id":"u1","email":"a@b.com","role":"SUPERUSER"},"expires_at":"2000-01-01T00:00:00Z"}`))
	}))
	defer ts.Close()

	store := session.NewHTTPStore(client.New(ts.URL), clientauth.NewMemoryStore(), zerolog.Nop())
	p := New(store)

	state, err := p.SignIn(context.Background(), session.Credentials{Email: "a@b.com", Password: "x"})
	require.Error(t, err)
	assert.Equal(t, Failed, state.Status)
	assert.Nil(t, state.User)
}
