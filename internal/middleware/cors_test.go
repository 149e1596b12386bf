package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		allowed     []string
		origin      string
		method      string
		wantOrigin  string
		wantCreds   string
		wantCode    int
		wantReached bool
	}{
		{"explicit origin", []string{"https://app.example.com"}, "https://app.example.com", http.MethodGet, "https://app.example.com", "true", http.StatusOK, true},
		{"wildcard has no credentials", []string{"*"}, "https://x.example.com", http.MethodGet, "https://x.example.com", "", http.StatusOK, true},
		{"unknown origin", []string{"https://app.example.com"}, "https://evil.example.com", http.MethodGet, "", "", http.StatusOK, true},
		{"preflight short-circuits", []string{"*"}, "https://x.example.com", http.MethodOptions, "https://x.example.com", "", http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reached := false
			h := CORS(tt.allowed)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { reached = true }))

			req := httptest.NewRequest(tt.method, "/api/tasks", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCreds, rec.Header().Get("Access-Control-Allow-Credentials"))
			assert.Equal(t, tt.wantReached, reached)
			if tt.wantOrigin != "" {
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Goally-Session-ID")
			}
		})
	}
}
