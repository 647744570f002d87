package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/abdusco/shortly/internal/auth"
	"github.com/abdusco/shortly/internal/db"
	"github.com/abdusco/shortly/internal/repo"
	"github.com/abdusco/shortly/internal/shortener"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "ada@example.com"
	testPassword = "hunter22"
)

type testServer struct {
	t *testing.T
	e *echo.Echo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "handler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	store := repo.NewStore(conn)
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	Routes(e, auth.NewAuthenticator(store.Accounts, "secret", time.Minute), shortener.NewService(store), "https://sho.rt")
	return &testServer{t: t, e: e}
}

func (s *testServer) do(method, path, body string, setup func(r *http.Request)) *httptest.ResponseRecorder {
	s.t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func withBasic(user, pass string) func(r *http.Request) {
	return func(r *http.Request) { r.SetBasicAuth(user, pass) }
}

func withBearer(token string) func(r *http.Request) {
	return func(r *http.Request) { r.Header.Set(echo.HeaderAuthorization, "Bearer "+token) }
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) registerAndToken(email string) string {
	s.t.Helper()
	body := `{"firstname":"Ada","lastname":"Lovelace","email":"` + email + `","password":"` + testPassword + `","confirm_password":"` + testPassword + `"}`
	rec := s.do(http.MethodPost, "/api/register", body, nil)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/token", "", withBasic(email, testPassword))
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[TokenResponse](s.t, rec).Token
}

func TestBindingLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndToken(testEmail)

	rec := s.do(http.MethodPost, "/api/shorten", `{"url":"https://example.com/page"}`, withBearer(token))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[BindingResponse](t, rec)
	assert.Len(t, created.Code, 6)
	assert.Equal(t, "https://sho.rt/"+created.Code, created.ShortURL)
	assert.True(t, created.Active)

	rec = s.do(http.MethodPost, "/api/shorten", `{"url":"https://example.com/page"}`, withBearer(token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[BindingResponse](t, rec).ID)

	rec = s.do(http.MethodGet, "/"+created.Code, "", func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		r.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	})
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/page", rec.Header().Get(echo.HeaderLocation))

	path := "/api/bindings/" + strconv.FormatInt(created.ID, 10)
	rec = s.do(http.MethodGet, path+"/visits", "", withBearer(token))
	require.Equal(t, http.StatusOK, rec.Code)
	visits := decode[VisitsResponse](t, rec)
	assert.EqualValues(t, 1, visits.Total)
	require.Len(t, visits.Visits, 1)
	assert.Equal(t, "203.0.113.7", visits.Visits[0].IPAddress)
	assert.Equal(t, "Chrome", visits.Visits[0].Browser)

	rec = s.do(http.MethodPut, path+"/active", `{"active":false}`, withBearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/"+created.Code, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "url is inactive", decode[map[string]string](t, rec)["error"])

	rec = s.do(http.MethodDelete, path, "", withBearer(token))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/"+created.Code, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "url deleted", decode[map[string]string](t, rec)["error"])

	rec = s.do(http.MethodGet, "/api/bindings", "", withBearer(token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[ListBindingsResponse](t, rec).Bindings)
}

func TestAuthLevels(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndToken(testEmail)

	t.Run("password cannot shorten", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/shorten", `{"url":"https://example.com"}`, withBasic(testEmail, testPassword))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("anonymous cannot shorten", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/shorten", `{"url":"https://example.com"}`, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("token cannot mint a token", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/token", "", withBearer(token))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("token passed as basic username", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/bindings", "", withBasic(token, ""))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/token", "", withBasic(testEmail, "nope"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestValidation(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndToken(testEmail)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"missing url", http.MethodPost, "/api/shorten", `{}`, http.StatusBadRequest},
		{"not a url", http.MethodPost, "/api/shorten", `{"url":"nope"}`, http.StatusBadRequest},
		{"vanity with space", http.MethodPost, "/api/shorten", `{"url":"https://example.com","vanity_string":"a b"}`, http.StatusBadRequest},
		{"vanity empty", http.MethodPost, "/api/shorten", `{"url":"https://example.com","vanity_string":""}`, http.StatusBadRequest},
		{"vanity shadowed by a route", http.MethodPost, "/api/shorten", `{"url":"https://example.com","vanity_string":"api"}`, http.StatusBadRequest},
		{"active missing", http.MethodPut, "/api/bindings/1/active", `{}`, http.StatusBadRequest},
		{"non numeric id", http.MethodDelete, "/api/bindings/abc", "", http.StatusBadRequest},
		{"unknown binding", http.MethodDelete, "/api/bindings/999", "", http.StatusNotFound},
		{"bad sort kind", http.MethodGet, "/api/sort/short/alphabetical", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.body, withBearer(token))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t)
	s.registerAndToken(testEmail)

	t.Run("duplicate email", func(t *testing.T) {
		body := `{"firstname":"Ada","lastname":"Lovelace","email":"ada@example.com","password":"secret1","confirm_password":"secret1"}`
		rec := s.do(http.MethodPost, "/api/register", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("passwords differ", func(t *testing.T) {
		body := `{"firstname":"Ada","lastname":"Lovelace","email":"other@example.com","password":"secret1","confirm_password":"secret2"}`
		rec := s.do(http.MethodPost, "/api/register", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode[map[string]string](t, rec)["error"], "confirm_password")
	})
}

func TestVanityAndSort(t *testing.T) {
	s := newTestServer(t)
	alice := s.registerAndToken("alice@example.com")
	bob := s.registerAndToken("bob@example.com")

	rec := s.do(http.MethodPost, "/api/shorten", `{"url":"https://example.com/x","vanity_string":"promo"}`, withBearer(alice))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "promo", decode[BindingResponse](t, rec).Code)

	rec = s.do(http.MethodPost, "/api/shorten", `{"url":"https://example.com/y","vanity_string":"promo"}`, withBearer(bob))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/shorten", `{"url":"https://example.com/x"}`, withBearer(bob))
	require.Equal(t, http.StatusCreated, rec.Code)

	for range 2 {
		require.Equal(t, http.StatusFound, s.do(http.MethodGet, "/promo", "", nil).Code)
	}

	rec = s.do(http.MethodGet, "/api/sort/short/popularity", "", withBearer(alice))
	require.Equal(t, http.StatusOK, rec.Code)
	short := decode[SortResponse](t, rec).Results
	require.Len(t, short, 2)
	assert.Equal(t, "promo", short[0].URL)
	assert.EqualValues(t, 2, short[0].VisitCount)

	rec = s.do(http.MethodGet, "/api/sort/longurl/popularity", "", withBearer(alice))
	require.Equal(t, http.StatusOK, rec.Code)
	long := decode[SortResponse](t, rec).Results
	require.Len(t, long, 1)
	assert.Equal(t, "https://example.com/x", long[0].URL)

	rec = s.do(http.MethodGet, "/api/destinations", "", withBearer(bob))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ListDestinationsResponse](t, rec).Destinations, 1)
}

func TestPathIDTakesPrecedenceOverBody(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndToken(testEmail)

	shorten := func(url string) BindingResponse {
		rec := s.do(http.MethodPost, "/api/shorten", `{"url":"`+url+`"}`, withBearer(token))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decode[BindingResponse](t, rec)
	}
	first := shorten("https://example.com/first")
	second := shorten("https://example.com/second")

	body := `{"id":` + strconv.FormatInt(second.ID, 10) + `,"active":false}`
	rec := s.do(http.MethodPut, "/api/bindings/"+strconv.FormatInt(first.ID, 10)+"/active", body, withBearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body = `{"id":` + strconv.FormatInt(first.ID, 10) + `,"url":"https://example.com/moved"}`
	rec = s.do(http.MethodPut, "/api/bindings/"+strconv.FormatInt(second.ID, 10)+"/target", body, withBearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, second.ID, decode[BindingResponse](t, rec).ID)

	rec = s.do(http.MethodGet, "/api/bindings", "", withBearer(token))
	require.Equal(t, http.StatusOK, rec.Code)
	byID := map[int64]BindingResponse{}
	for _, b := range decode[ListBindingsResponse](t, rec).Bindings {
		byID[b.ID] = b
	}
	assert.False(t, byID[first.ID].Active)
	assert.Equal(t, "https://example.com/first", byID[first.ID].URL)
	assert.True(t, byID[second.ID].Active)
	assert.Equal(t, "https://example.com/moved", byID[second.ID].URL)
}
