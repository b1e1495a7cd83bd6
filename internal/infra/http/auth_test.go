package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestTokenAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := TokenAuthMiddleware("secret")(ok)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"без заголовка", "", http.StatusUnauthorized},
		{"чужой токен", "Bearer other", http.StatusUnauthorized},
		{"без префикса", "secret", http.StatusUnauthorized},
		{"верный токен", "Bearer secret", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/queue/stats", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: ожидали %d, получили %d", tc.name, tc.want, rec.Code)
		}
	}
}

func TestTokenAuthDisabled(t *testing.T) {
	h := TokenAuthMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("без токена проверка должна быть выключена, получили %d", rec.Code)
	}
}

func TestNewServerHealthz(t *testing.T) {
	srv := NewServer(":0", testLogger())
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("неверный ответ healthz: %d %q", rec.Code, rec.Body.String())
	}
}

func testLogger() zerolog.Logger { return zerolog.Nop() }
