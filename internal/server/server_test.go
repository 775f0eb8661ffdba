package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngdi-portal/portal/internal/accounts"
	"github.com/ngdi-portal/portal/internal/auth"
	"github.com/ngdi-portal/portal/internal/config"
	"github.com/ngdi-portal/portal/internal/csrf"
	"github.com/ngdi-portal/portal/internal/database"
	"github.com/ngdi-portal/portal/internal/tasks"
)

const testPassword = "password123"

func newTestServer(t *testing.T, opts ...func(*config.Config)) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.Environment = config.EnvTest
	cfg.Auth.JWTSecret = "test-secret"
	for _, opt := range opts {
		opt(cfg)
	}

	db, err := database.OpenMemory(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	srv, err := NewWithDB(cfg, db, zerolog.Nop(), "test")
	require.NoError(t, err)
	return srv
}

func createUser(t *testing.T, srv *Server, email string, role auth.Role) {
	t.Helper()
	_, err := srv.accounts.CreateUser(context.Background(), accounts.NewUser{
		Email:    email,
		Password: testPassword,
		Name:     strings.Split(email, "@")[0],
		Role:     role,
	})
	require.NoError(t, err)
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func loginToken(t *testing.T, srv *Server, email string) string {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", LoginRequest{Email: email, Password: testPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, "ngdi-portal", body["service"])
}

func TestLoginAndSession(t *testing.T) {
	srv := newTestServer(t)
	createUser(t, srv, "a@b.com", auth.RoleUser)

	token := loginToken(t, srv, "a@b.com")

	w := doJSON(t, srv, http.MethodGet, "/api/auth/session", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sess SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, "a@b.com", sess.User.Email)
	assert.Equal(t, auth.RoleUser, sess.User.Role)
	assert.Equal(t, "bearer", sess.AuthMethod)
	assert.True(t, sess.ExpiresAt.After(time.Now()))
}

func TestSession_NoneIsNull(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/auth/session", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", strings.TrimSpace(w.Body.String()))

	w = doJSON(t, srv, http.MethodGet, "/api/auth/session", "garbage", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", strings.TrimSpace(w.Body.String()))
}

func TestLogin_InvalidCredentials(t *testing.T) {
	srv := newTestServer(t)
	createUser(t, srv, "a@b.com", auth.RoleUser)

	w := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "a@b.com", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_ValidationErrors(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "not-an-email"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "must be a valid email address", body.Fields["email"])
	assert.Equal(t, "is required", body.Fields["password"])
}

func TestLogout_RevokesToken(t *testing.T) {
	srv := newTestServer(t)
	createUser(t, srv, "a@b.com", auth.RoleUser)
	token := loginToken(t, srv, "a@b.com")

	w := doJSON(t, srv, http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIGuards(t *testing.T) {
	srv := newTestServer(t)
	createUser(t, srv, "user@b.com", auth.RoleUser)
	createUser(t, srv, "admin@b.com", auth.RoleAdmin)
	createUser(t, srv, "officer@b.com", auth.RoleNodeOfficer)

	userToken := loginToken(t, srv, "user@b.com")
	adminToken := loginToken(t, srv, "admin@b.com")
	officerToken := loginToken(t, srv, "officer@b.com")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		want   int
	}{
		{name: "no session", method: "GET", path: "/api/auth/me", want: http.StatusUnauthorized},
		{name: "user me", method: "GET", path: "/api/auth/me", token: userToken, want: http.StatusOK},
		{name: "user lists users", method: "GET", path: "/api/users", token: userToken, want: http.StatusForbidden},
		{name: "officer lists users", method: "GET", path: "/api/users", token: officerToken, want: http.StatusForbidden},
		{name: "admin lists users", method: "GET", path: "/api/users", token: adminToken, want: http.StatusOK},
		{name: "user reads metadata", method: "GET", path: "/api/metadata", token: userToken, want: http.StatusOK},
		{name: "anonymous reads metadata", method: "GET", path: "/api/metadata", want: http.StatusUnauthorized},
		{name: "user creates metadata", method: "POST", path: "/api/metadata", token: userToken, body: map[string]string{"title": "x"}, want: http.StatusForbidden},
		{name: "officer creates metadata", method: "POST", path: "/api/metadata", token: officerToken, body: map[string]string{"title": "x"}, want: http.StatusCreated},
		{name: "admin creates metadata", method: "POST", path: "/api/metadata", token: adminToken, body: map[string]string{"title": "y"}, want: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, srv, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestMetadataCRUD(t *testing.T) {
	srv := newTestServer(t)
	createUser(t, srv, "officer@b.com", auth.RoleNodeOfficer)
	token := loginToken(t, srv, "officer@b.com")

	payload := map[string]interface{}{
		"title":        "Road Network",
		"abstract":     "Federal roads",
		"organization": "FMW",
		"keywords":     []string{"roads", "transport"},
		"bbox":         map[string]float64{"west": 2.7, "south": 4.2, "east": 14.7, "north": 13.9},
		"properties":   map[string]interface{}{"format": "GeoPackage"},
	}

	w := doJSON(t, srv, http.MethodPost, "/api/metadata", token, payload)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created["id"].(string)

	w = doJSON(t, srv, http.MethodGet, "/api/metadata/"+id, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	for key, want := range payload {
		wantJSON, _ := json.Marshal(want)
		gotJSON, _ := json.Marshal(got[key])
		assert.JSONEq(t, string(wantJSON), string(gotJSON), key)
	}

	payload["title"] = "Road Network v2"
	w = doJSON(t, srv, http.MethodPut, "/api/metadata/"+id, token, payload)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/metadata?page=1&limit=10", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items []map[string]interface{} `json:"items"`
		Total int                      `json:"total"`
		Limit int                      `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 10, page.Limit)
	assert.Equal(t, "Road Network v2", page.Items[0]["title"])

	w = doJSON(t, srv, http.MethodDelete, "/api/metadata/"+id, token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/metadata/"+id, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetadata_FieldValidation(t *testing.T) {
	srv := newTestServer(t)
	createUser(t, srv, "admin@b.com", auth.RoleAdmin)
	token := loginToken(t, srv, "admin@b.com")

	w := doJSON(t, srv, http.MethodPost, "/api/metadata", token, map[string]interface{}{
		"keywords": []string{"ok", ""},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "is required", body.Fields["title"])
	assert.Equal(t, "is required", body.Fields["keywords[1]"])

	w = doJSON(t, srv, http.MethodPost, "/api/metadata", token, map[string]interface{}{
		"title": "Bad extent",
		"bbox":  map[string]float64{"west": 10, "south": 0, "east": 5, "north": 1},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Fields, "bbox")

	w = doJSON(t, srv, http.MethodPost, "/api/metadata", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserManagement(t *testing.T) {
	srv := newTestServer(t)
	createUser(t, srv, "admin@b.com", auth.RoleAdmin)
	token := loginToken(t, srv, "admin@b.com")

	w := doJSON(t, srv, http.MethodPost, "/api/users", token, CreateUserRequest{
		Email: "new@b.com", Name: "New", Password: testPassword, Role: "node_officer",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created UserDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, auth.RoleNodeOfficer, created.Role)

	w = doJSON(t, srv, http.MethodPost, "/api/users", token, CreateUserRequest{
		Email: "new@b.com", Name: "Dup", Password: testPassword, Role: auth.RoleUser,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/users", token, map[string]string{
		"email": "x@b.com", "name": "X", "password": testPassword, "role": "SUPERUSER",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(t, srv, http.MethodPatch, "/api/users/"+created.ID, token, UpdateUserRoleRequest{Role: auth.RoleUser})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodDelete, "/api/users/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodDelete, "/api/users/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetupFirstAdmin(t *testing.T) {
	srv := newTestServer(t)

	req := SetupRequest{Email: "root@ngdi.gov", Password: testPassword, Name: "Root"}
	w := doJSON(t, srv, http.MethodPost, "/api/setup", "", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, auth.RoleAdmin, resp.User.Role)

	w = doJSON(t, srv, http.MethodPost, "/api/setup", "", req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMockAuth(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.MockAuth = true
		cfg.Auth.MockAdminToken = "dev-admin"
	})

	w := doJSON(t, srv, http.MethodGet, "/api/users", "dev-admin", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	disabled := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.MockAdminToken = "dev-admin"
	})
	w = doJSON(t, disabled, http.MethodGet, "/api/users", "dev-admin", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDebugAuth(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.ClientID = "id"
	})
	w := doJSON(t, srv, http.MethodGet, "/api/debug/auth", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["client_id_present"])
	assert.Equal(t, false, body["client_secret_present"])
	assert.NotContains(t, w.Body.String(), "test-secret")

	prod := newTestServer(t, func(cfg *config.Config) {
		cfg.Environment = config.EnvProduction
	})
	w = doJSON(t, prod, http.MethodGet, "/api/debug/auth", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: "low", Type: task.Type()}, nil
}

func TestPurgeSessions(t *testing.T) {
	srv := newTestServer(t)
	createUser(t, srv, "admin@b.com", auth.RoleAdmin)
	token := loginToken(t, srv, "admin@b.com")

	w := doJSON(t, srv, http.MethodPost, "/api/admin/sessions/purge", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":0}`, w.Body.String())

	queue := &fakeEnqueuer{}
	srv.enqueuer = queue
	w = doJSON(t, srv, http.MethodPost, "/api/admin/sessions/purge", token, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, tasks.TypePurgeExpiredSessions, queue.tasks[0].Type())
}

// browser drives page requests with a cookie jar-like map
type browser struct {
	t       *testing.T
	srv     *Server
	cookies map[string]*http.Cookie
}

func newBrowser(t *testing.T, srv *Server) *browser {
	return &browser{t: t, srv: srv, cookies: map[string]*http.Cookie{}}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	b.srv.Handler().ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return w
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	return b.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (b *browser) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) signIn(email string) {
	w := b.get("/login")
	require.Equal(b.t, http.StatusOK, w.Code)
	token, ok := csrf.GetToken(w.Body)
	require.True(b.t, ok, "login page must embed a csrf token")

	w = b.postForm("/login", url.Values{
		"email":      {email},
		"password":   {testPassword},
		"csrf_token": {token},
	})
	require.Equal(b.t, http.StatusSeeOther, w.Code, w.Body.String())
}

func TestPages_RedirectWhenSignedOut(t *testing.T) {
	srv := newTestServer(t)
	b := newBrowser(t, srv)

	w := b.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/login?next=%2Fdashboard", w.Header().Get("Location"))
}

func TestPages_AdminOnlyAsUserIsForbidden(t *testing.T) {
	srv := newTestServer(t)
	createUser(t, srv, "user@b.com", auth.RoleUser)
	b := newBrowser(t, srv)
	b.signIn("user@b.com")

	w := b.get("/admin")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Access denied")
	assert.NotContains(t, w.Body.String(), "Administration")

	w = b.get("/dashboard")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "user@b.com")
}

func TestPages_AdminSignInAndOut(t *testing.T) {
	srv := newTestServer(t)
	createUser(t, srv, "admin@b.com", auth.RoleAdmin)
	b := newBrowser(t, srv)
	b.signIn("admin@b.com")

	w := b.get("/admin")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "admin@b.com")

	token, ok := csrf.GetToken(w.Body)
	require.True(t, ok)
	w = b.postForm("/logout", url.Values{"csrf_token": {token}})
	require.Equal(t, http.StatusSeeOther, w.Code)

	w = b.get("/admin")
	assert.Equal(t, http.StatusSeeOther, w.Code)
}

func TestPages_LoginRejectsForgedToken(t *testing.T) {
	srv := newTestServer(t)
	createUser(t, srv, "a@b.com", auth.RoleUser)
	b := newBrowser(t, srv)
	b.get("/login")

	w := b.postForm("/login", url.Values{
		"email":      {"a@b.com"},
		"password":   {testPassword},
		"csrf_token": {"forged"},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPages_LoginInvalidCredentials(t *testing.T) {
	srv := newTestServer(t)
	createUser(t, srv, "a@b.com", auth.RoleUser)
	b := newBrowser(t, srv)

	w := b.get("/login")
	token, _ := csrf.GetToken(w.Body)
	w = b.postForm("/login", url.Values{
		"email":      {"a@b.com"},
		"password":   {"wrong"},
		"csrf_token": {token},
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid email or password")
}

func TestErrorBoundary(t *testing.T) {
	srv := newTestServer(t)
	srv.router.GET("/boom", func(c *gin.Context) { panic("boom") })
	srv.router.GET("/api/boom", func(c *gin.Context) { panic("boom") })

	b := newBrowser(t, srv)
	w := b.get("/boom")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Try again")

	w = b.get("/api/boom")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
}

func TestSafeNext(t *testing.T) {
	tests := map[string]string{
		"":                     "/dashboard",
		"/metadata?page=2":     "/metadata?page=2",
		"//evil.example":       "/dashboard",
		"https://evil.example": "/dashboard",
		"/\\evil":              "/dashboard",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeNext(in), in)
	}
}

func TestCSRF_StrictCookieSessionNeedsToken(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.CSRF.Strict = true
	})
	createUser(t, srv, "admin@b.com", auth.RoleAdmin)
	b := newBrowser(t, srv)
	b.signIn("admin@b.com")

	post := func(header http.Header) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/metadata", strings.NewReader(`{"title":"Rivers"}`))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range header {
			req.Header[k] = v
		}
		return b.do(req)
	}

	w := post(nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = post(http.Header{"Authorization": {"Basic Zm9vOmJhcg=="}})
	assert.Equal(t, http.StatusForbidden, w.Code, "a non-bearer header must not skip the check")

	w = post(http.Header{"Authorization": {"Bearer "}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = post(http.Header{csrf.HeaderName: {b.cookies[csrf.CookieName].Value}})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	token := loginToken(t, srv, "admin@b.com")
	w = post(http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestPages_MetadataBadQuery(t *testing.T) {
	srv := newTestServer(t)
	createUser(t, srv, "user@b.com", auth.RoleUser)
	b := newBrowser(t, srv)
	b.signIn("user@b.com")

	w := b.get("/metadata?page=abc")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "page and limit must be integers")
	assert.Contains(t, w.Body.String(), "Page 1")

	w = b.get("/metadata?page=2")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "must be integers")
}
