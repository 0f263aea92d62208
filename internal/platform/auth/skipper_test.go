package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAuthSkipper(t *testing.T) {
	tests := []struct {
		path string
		skip bool
	}{
		{"/health", true},
		{"/metrics", true},
		{"/crosswalk", false},
		{"/crosswalk/matches", false},
		{"/terminology/HPO", false},
		{"/health/extra", false},
		{"/", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			c := e.NewContext(req, httptest.NewRecorder())
			c.SetPath(tt.path)

			if got := AuthSkipper(c); got != tt.skip {
				t.Errorf("AuthSkipper(%s) = %v, want %v", tt.path, got, tt.skip)
			}
			if got := IsPublicPath(tt.path); got != tt.skip {
				t.Errorf("IsPublicPath(%s) = %v, want %v", tt.path, got, tt.skip)
			}
		})
	}
}
