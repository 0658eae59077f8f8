package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sandbox", "test", "development":
		return EnvironmentSandbox, nil
	case "production", "live":
		return EnvironmentProduction, nil
	}
	return "", fmt.Errorf("%w: unknown environment %q", ErrInvalidCredentials, s)
}

// Credentials select the gateway account and endpoint. A zero field means
// "not configured here" and is filled from the fallback by Merge.
type Credentials struct {
	Environment Environment `json:"environment" mapstructure:"environment"`
	MerchantID  string      `json:"merchantId" mapstructure:"merchant_id"`
	PublicKey   string      `json:"publicKey" mapstructure:"public_key"`
	PrivateKey  string      `json:"-" mapstructure:"private_key"`
}

// Merge returns c with every empty field taken from fallback.
func (c Credentials) Merge(fallback Credentials) Credentials {
	if c.Environment == "" {
		c.Environment = fallback.Environment
	}
	if c.MerchantID == "" {
		c.MerchantID = fallback.MerchantID
	}
	if c.PublicKey == "" {
		c.PublicKey = fallback.PublicKey
	}
	if c.PrivateKey == "" {
		c.PrivateKey = fallback.PrivateKey
	}
	return c
}

// ResolveCredentials applies a subject's overrides on top of the process-wide configuration.
func ResolveCredentials(b Billable, defaults Credentials) Credentials {
	if b == nil {
		return defaults
	}
	return b.CredentialOverrides().Merge(defaults)
}

// Validate checks that the private key belongs to the selected environment.
func (c Credentials) Validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("%w: private key is required", ErrInvalidCredentials)
	}
	env := c.Environment
	if env == "" {
		env = EnvironmentSandbox
	}
	var prefixes []string
	switch env {
	case EnvironmentSandbox:
		prefixes = []string{"sk_test_", "rk_test_"}
	case EnvironmentProduction:
		prefixes = []string{"sk_live_", "rk_live_"}
	default:
		return fmt.Errorf("%w: unknown environment %q", ErrInvalidCredentials, env)
	}
	for _, p := range prefixes {
		if strings.HasPrefix(c.PrivateKey, p) {
			return nil
		}
	}
	return fmt.Errorf("%w: private key does not match %s environment", ErrInvalidCredentials, env)
}

// Key identifies a credential set for client caching without exposing the secret.
func (c Credentials) Key() string {
	sum := sha256.Sum256([]byte(c.PrivateKey))
	return string(c.Environment) + "|" + c.MerchantID + "|" + hex.EncodeToString(sum[:8])
}
