package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/caddyserver/certmagic"

	"github.com/radiolens/radiolens/internal/config"
)

// CertManager obtains and renews certificates for the configured domains
// via certmagic.
type CertManager struct {
	domains []string
	logger  *slog.Logger
	cfg     *certmagic.Config
}

// NewCertManager configures ACME from the server settings. Outside
// production the Let's Encrypt staging CA is used.
func NewCertManager(sc config.ServerConfig, logger *slog.Logger) (*CertManager, error) {
	domains := Domains(sc.TLSDomain)
	if len(domains) == 0 {
		return nil, errors.New("tls: no domain configured")
	}

	certmagic.DefaultACME.Email = sc.ACMEEmail
	certmagic.DefaultACME.Agreed = true
	if !sc.Production {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}

	return &CertManager{
		domains: domains,
		logger:  logger,
		cfg:     certmagic.NewDefault(),
	}, nil
}

// Domains splits a comma-separated domain list, dropping blanks.
func Domains(list string) []string {
	var out []string
	for _, d := range strings.Split(list, ",") {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Listen manages the domains so their certificates are ready, then opens
// a TLS listener on the HTTPS port.
func (cm *CertManager) Listen(ctx context.Context) (net.Listener, error) {
	cm.logger.Info("obtaining certificates", "domains", cm.domains)
	if err := cm.cfg.ManageSync(ctx, cm.domains); err != nil {
		return nil, fmt.Errorf("manage domains: %w", err)
	}

	ln, err := tls.Listen("tcp", fmt.Sprintf(":%d", certmagic.HTTPSPort), cm.cfg.TLSConfig())
	if err != nil {
		return nil, fmt.Errorf("tls listen: %w", err)
	}
	cm.logger.Info("serving HTTPS", "port", certmagic.HTTPSPort)
	return ln, nil
}

// Domains returns the managed domain names.
func (cm *CertManager) Domains() []string {
	return cm.domains
}
