package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSiteID(ctx, "acme")
	ctx = WithClientIP(ctx, "203.0.113.7")

	assert.Equal(t, []interface{}{
		"request_id", "req-1",
		"site_id", "acme",
		"client_ip", "203.0.113.7",
	}, GetLogFields(ctx))
	assert.Equal(t, "acme", GetSiteID(ctx))
	assert.Equal(t, "", GetServiceName(ctx))
}

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  string
	}{
		{name: "regular", email: "alice@example.com", want: "a***@example.com"},
		{name: "empty", email: "", want: ""},
		{name: "no at sign", email: "alice", want: "***"},
		{name: "leading at", email: "@example.com", want: "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactEmail(tt.email))
		})
	}
}
