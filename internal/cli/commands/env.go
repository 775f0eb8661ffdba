package commands

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ngdi-portal/portal/internal/authctx"
	"github.com/ngdi-portal/portal/internal/cli/auth"
	"github.com/ngdi-portal/portal/internal/cli/client"
	"github.com/ngdi-portal/portal/internal/cli/userconfig"
	"github.com/ngdi-portal/portal/internal/session"
)

// ErrNoAPIURL is returned when no portal URL is configured anywhere
var ErrNoAPIURL = errors.New("portal URL is not set (use --api, NGDI_API_URL, or 'ngdi login --api <url>')")

// Env carries what every command needs. Tests swap the token store, output
// and HTTP client.
type Env struct {
	APIURL     string
	Tokens     auth.TokenStore
	Out        io.Writer
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// NewEnv returns the environment used by the real binary
func NewEnv() *Env {
	return &Env{
		Tokens: auth.Default,
		Out:    os.Stdout,
		Logger: zerolog.Nop(),
	}
}

// baseURL resolves the portal URL: flag, then NGDI_API_URL, then the user config
func (e *Env) baseURL() (string, error) {
	if e.APIURL != "" {
		return strings.TrimRight(e.APIURL, "/"), nil
	}
	if v := os.Getenv("NGDI_API_URL"); v != "" {
		return strings.TrimRight(v, "/"), nil
	}

	cfg, err := userconfig.Load()
	if err != nil {
		return "", err
	}
	if cfg.APIURL == "" {
		return "", ErrNoAPIURL
	}
	return cfg.APIURL, nil
}

func (e *Env) newClient(baseURL string) *client.Client {
	c := client.New(baseURL)
	if e.HTTPClient != nil {
		c.SetHTTPClient(e.HTTPClient)
	}
	return c
}

// authedClient returns a client carrying the stored token for the portal
func (e *Env) authedClient() (*client.Client, error) {
	base, err := e.baseURL()
	if err != nil {
		return nil, err
	}

	token, err := e.Tokens.LoadToken(base)
	if err != nil {
		return nil, err
	}

	c := e.newClient(base)
	c.SetToken(token)
	return c, nil
}

// provider builds a fresh auth context over the portal's session store
func (e *Env) provider() (*authctx.Provider, string, error) {
	base, err := e.baseURL()
	if err != nil {
		return nil, "", err
	}

	store := session.NewHTTPStore(e.newClient(base), e.Tokens, e.Logger)
	return authctx.New(store, authctx.WithLogger(e.Logger)), base, nil
}

func (e *Env) printf(format string, args ...interface{}) {
	fmt.Fprintf(e.Out, format, args...)
}
