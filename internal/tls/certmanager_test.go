package tls

import (
	"io"
	"log/slog"
	"testing"

	"github.com/caddyserver/certmagic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiolens/radiolens/internal/config"
)

func TestDomains(t *testing.T) {
	assert.Equal(t, []string{"scan.example.org", "api.example.org"}, Domains(" Scan.example.org, ,api.example.org,"))
	assert.Empty(t, Domains(""))
}

func TestNewCertManager(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewCertManager(config.ServerConfig{}, logger)
	require.Error(t, err)

	cm, err := NewCertManager(config.ServerConfig{TLSDomain: "scan.example.org", ACMEEmail: "ops@example.org"}, logger)
	require.NoError(t, err)
	assert.Equal(t, []string{"scan.example.org"}, cm.Domains())
	assert.Equal(t, "ops@example.org", certmagic.DefaultACME.Email)
	assert.Equal(t, certmagic.LetsEncryptStagingCA, certmagic.DefaultACME.CA)
}
