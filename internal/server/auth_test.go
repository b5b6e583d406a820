package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequireAPIKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		key       string
		header    string
		want      int
		challenge string
	}{
		{"disabled", "", "", http.StatusOK, ""},
		{"disabled ignores header", "", "Bearer anything", http.StatusOK, ""},
		{"missing", "secret", "", http.StatusUnauthorized, `Bearer realm="graphchat"`},
		{"wrong", "secret", "Bearer nope", http.StatusUnauthorized, `error="invalid_token"`},
		{"prefix of key", "secret", "Bearer secre", http.StatusUnauthorized, `error="invalid_token"`},
		{"basic scheme", "secret", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, `Bearer realm="graphchat"`},
		{"correct", "secret", "Bearer secret", http.StatusOK, ""},
		{"lowercase scheme", "secret", "bearer secret", http.StatusOK, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/api/graph/start", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			requireAPIKey(tc.key, okHandler).ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Fatalf("want %d, got %d", tc.want, w.Code)
			}
			got := w.Header().Get("WWW-Authenticate")
			if tc.challenge == "" && got != "" {
				t.Errorf("want no challenge, got %q", got)
			}
			if !strings.Contains(got, tc.challenge) {
				t.Errorf("want challenge containing %q, got %q", tc.challenge, got)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer mytoken", "mytoken", true},
		{"BEARER mytoken", "mytoken", true},
		{"Bearer  spaced ", "spaced", true},
		{"Basic dXNlcjpwYXNz", "", false},
		{"", "", false},
		{"Bearer", "", false},
		{"Bearer   ", "", false},
	}

	for _, tc := range cases {
		got, ok := bearerToken(tc.header)
		if got != tc.want || ok != tc.ok {
			t.Errorf("header %q: want (%q, %v), got (%q, %v)", tc.header, tc.want, tc.ok, got, ok)
		}
	}
}
