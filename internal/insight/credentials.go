package insight

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Provider error kinds. Providers wrap these so callers can tell auth and
// quota problems apart from transport failures.
var (
	ErrMissingCredential = errors.New("missing API credential")
	ErrUnauthorized      = errors.New("credential rejected")
	ErrRateLimited       = errors.New("rate limited")
	ErrEmptyResponse     = errors.New("empty response")
)

// SecretStore is the fallback credential source.
type SecretStore interface {
	Lookup(key string) (string, bool)
}

// CredentialSource resolves an API key: environment variable first, then
// the secret store under the same name. Getenv defaults to os.Getenv.
type CredentialSource struct {
	EnvVar  string
	Secrets SecretStore
	Getenv  func(string) string
}

// Resolve is called lazily by providers, so a missing key only surfaces when
// an insight is actually requested.
func (c CredentialSource) Resolve() (string, error) {
	getenv := c.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(c.EnvVar)); v != "" {
		return v, nil
	}
	if c.Secrets != nil {
		if v, ok := c.Secrets.Lookup(c.EnvVar); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v, nil
			}
		}
	}
	return "", fmt.Errorf("%w: set %s or add it to the secrets file", ErrMissingCredential, c.EnvVar)
}
