package audit

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/statements/monthly", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "10.0.0.7", ClientIP(req))

	req.Header.Set("X-Real-IP", " 172.16.0.2 ")
	assert.Equal(t, "172.16.0.2", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "192.168.1.10, 10.0.0.1")
	assert.Equal(t, "192.168.1.10", ClientIP(req))

	assert.Equal(t, "", ClientIP(nil))
}

func TestDigestJSON(t *testing.T) {
	assert.Equal(t, "", DigestJSON(nil))
	digest := DigestJSON([]byte(`{"month":"10/2023"}`))
	assert.Len(t, digest, 64)
	assert.Equal(t, digest, DigestJSON([]byte(`{"month":"10/2023"}`)))
}

func TestNewIDIsUnique(t *testing.T) {
	a, b := NewID(), NewID()
	assert.True(t, strings.HasPrefix(a, "audit-"))
	assert.NotEqual(t, a, b)
}

func TestZapLoggerWritesEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := NewZapLogger(zap.New(core))

	err := logger.Log(context.Background(), Entry{
		Actor:        "clerk-1",
		Action:       "statement.export",
		ResourceType: "statement",
		ResourceID:   "10/2023",
		Metadata:     []byte(`{"format":"csv"}`),
	})
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "statement.export", fields["action"])
	assert.Equal(t, "10/2023", fields["resource_id"])
	assert.NotEmpty(t, fields["id"])
}
