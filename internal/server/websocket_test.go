package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aeonsage/aeonsage/internal/config"
)

func TestCheckOrigin(t *testing.T) {
	cfg := config.Default()
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "https://console.example.com"}
	srv := &Server{config: cfg}

	tests := []struct {
		name    string
		origin  string
		allowed bool
	}{
		{"no origin header", "", true},
		{"allowed origin", "http://localhost:3000", true},
		{"second allowed origin", "https://console.example.com", true},
		{"unknown origin", "http://evil.example.com", false},
		{"scheme mismatch", "https://localhost:3000", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws/events", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			assert.Equal(t, tc.allowed, srv.checkOrigin(r))
		})
	}
}

func TestCheckOriginWildcard(t *testing.T) {
	cfg := config.Default()
	cfg.Server.AllowedOrigins = []string{"*"}
	srv := &Server{config: cfg}

	r := httptest.NewRequest("GET", "/ws/events", nil)
	r.Header.Set("Origin", "http://anywhere.example.com")
	assert.True(t, srv.checkOrigin(r))
}
