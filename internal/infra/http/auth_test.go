package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	cases := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{name: "disabled", token: "", header: "", want: http.StatusNoContent},
		{name: "valid", token: "secret", header: "Bearer secret", want: http.StatusNoContent},
		{name: "wrong", token: "secret", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "missing", token: "secret", header: "", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			TokenAuthMiddleware(tc.token)(next).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("ожидали %d, получили %d", tc.want, rec.Code)
			}
		})
	}
}
