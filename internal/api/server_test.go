package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/aoki/jgrants-sync/internal/config"
)

func invokeAdmin(t *testing.T, secret string, headers map[string]string) int {
	t.Helper()
	s := &Server{Config: &config.Config{Server: config.ServerConfig{AdminSecret: secret}}}
	h := s.adminMiddleware(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	if err := h(c); err != nil {
		t.Fatalf("middleware returned error: %v", err)
	}
	return rec.Code
}

func TestAdminMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		headers map[string]string
		want    int
	}{
		{"no credentials", "s3cret", nil, http.StatusUnauthorized},
		{"wrong header", "s3cret", map[string]string{"X-Admin-Secret": "nope"}, http.StatusUnauthorized},
		{"header match", "s3cret", map[string]string{"X-Admin-Secret": "s3cret"}, http.StatusOK},
		{"bearer match", "s3cret", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"bearer wrong", "s3cret", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"unconfigured secret", "", map[string]string{"X-Admin-Secret": ""}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := invokeAdmin(t, tt.secret, tt.headers); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	s := &Server{Echo: echo.New()}
	s.Echo.GET("/health", s.handleHealth)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}
