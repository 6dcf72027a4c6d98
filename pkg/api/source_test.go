package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func TestExtractSource(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "slack bot", header: "slack-bot", want: "slack-bot"},
		{name: "web ui", header: "web-ui", want: "web-ui"},
		{name: "api client", header: "api-client", want: "api-client"},
		{name: "missing header falls back", header: "", want: "api-client"},
		{name: "unrecognized value falls back", header: "curl/8.5", want: "api-client"},
	}

	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/ask", nil)
			if tt.header != "" {
				req.Header.Set("X-Source", tt.header)
			}
			c := e.NewContext(req, httptest.NewRecorder())

			assert.Equal(t, tt.want, extractSource(c))
		})
	}
}
