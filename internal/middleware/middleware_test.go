package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestUserID(t *testing.T) {
	var seen string
	h := UserID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		query  string
		ws     bool
		status int
		want   string
	}{
		{name: "header", header: " u1 ", status: http.StatusOK, want: "u1"},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "slash", header: "a/b", status: http.StatusUnauthorized},
		{name: "too long", header: strings.Repeat("x", 129), status: http.StatusUnauthorized},
		{name: "query ignored for plain http", query: "u2", status: http.StatusUnauthorized},
		{name: "query for websocket", query: "u2", ws: true, status: http.StatusOK, want: "u2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/ws?user_id="+tt.query, nil)
			if tt.header != "" {
				req.Header.Set(UserIDHeader, tt.header)
			}
			if tt.ws {
				req.Header.Set("Upgrade", "websocket")
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status || seen != tt.want {
				t.Errorf("status=%d user=%q, want %d %q", rec.Code, seen, tt.status, tt.want)
			}
		})
	}
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("first two requests must pass")
	}
	if l.Allow("a") {
		t.Error("third request within the window must be rejected")
	}
	if !l.Allow("b") {
		t.Error("keys are independent")
	}
	now = now.Add(time.Minute + time.Second)
	if !l.Allow("a") {
		t.Error("window must slide")
	}

	h := l.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodPost, "/", nil).WithContext(WithUserID(t.Context(), "c"))
	for i, want := range []int{200, 200, 429} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("request %d: status %d, want %d", i, rec.Code, want)
		}
	}
}
