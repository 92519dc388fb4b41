package web

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/evcraddock/rent-finder/internal/db"
)

const testTimeout = 5 * time.Second

func testServer(t *testing.T) *Server {
	t.Helper()
	srv, _ := testServerWithDB(t)
	return srv
}

func testServerWithDB(t *testing.T) (*Server, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := db.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	cfg := Config{
		DevMode:     true,
		BaseURL:     "http://localhost:8080",
		TokenSecret: "test-secret",
	}
	srv, err := NewServer(d, cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		if err := srv.Close(ctx); err != nil {
			t.Errorf("close server: %v", err)
		}
		if err := d.Close(); err != nil {
			t.Errorf("close db: %v", err)
		}
	})

	return srv, d
}

// flush waits for every issued write to finish.
func flush(t *testing.T, srv *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := srv.queue.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func apiRequest(t *testing.T, srv *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	r := httptest.NewRequest(method, path, &reqBody)
	r.Header.Set("Content-Type", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

// issueIdentity issues an anonymous identity through the API.
func issueIdentity(t *testing.T, srv *Server) IdentityResponse {
	t.Helper()
	w := apiRequest(t, srv, "POST", "/api/identity", "", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("issue identity: status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp IdentityResponse
	decodeJSON(t, w, &resp)
	return resp
}

// createSession creates a session through the API and waits for it to land.
func createSession(t *testing.T, srv *Server, token, name string) string {
	t.Helper()
	w := apiRequest(t, srv, "POST", "/api/sessions", token, map[string]string{"name": name})
	if w.Code != http.StatusAccepted {
		t.Fatalf("create session: status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	decodeJSON(t, w, &resp)
	flush(t, srv)
	return resp["id"]
}

func getSession(t *testing.T, srv *Server, token, sid string) SessionResponse {
	t.Helper()
	w := apiRequest(t, srv, "GET", "/api/sessions/"+sid, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get session: status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp SessionResponse
	decodeJSON(t, w, &resp)
	return resp
}

// formRequest posts a form as the browser holding cookie, if any.
func formRequest(t *testing.T, srv *Server, path string, cookie *http.Cookie, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		r.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	return w
}

func pageRequest(t *testing.T, srv *Server, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest("GET", path, nil)
	if cookie != nil {
		r.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	return w
}

func identityCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == cookieName && c.Value != "" {
			return c
		}
	}
	return nil
}

func tokenCookie(token string) *http.Cookie {
	return &http.Cookie{Name: cookieName, Value: token}
}
