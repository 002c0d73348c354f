// Package streamauth obtains the API key handed to models for the stream
// service: either a static key or an access token from an OIDC issuer's
// client-credentials grant.
package streamauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/animus-labs/modelharness/internal/platform/env"
)

type Config struct {
	StaticKey    string
	IssuerURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func ConfigFromEnv() Config {
	return Config{
		StaticKey:    strings.TrimSpace(env.String("HARNESS_STREAM_API_KEY", "")),
		IssuerURL:    strings.TrimSpace(env.String("HARNESS_STREAM_OIDC_ISSUER", "")),
		ClientID:     strings.TrimSpace(env.String("HARNESS_STREAM_OIDC_CLIENT_ID", "")),
		ClientSecret: env.String("HARNESS_STREAM_OIDC_CLIENT_SECRET", ""),
		Scopes:       env.Strings("HARNESS_STREAM_OIDC_SCOPES", nil),
	}
}

// Configured reports whether any credential source is set.
func (c Config) Configured() bool {
	return c.StaticKey != "" || c.IssuerURL != ""
}

func (c Config) Validate() error {
	if c.StaticKey != "" || c.IssuerURL == "" {
		return nil
	}
	if c.ClientID == "" {
		return errors.New("HARNESS_STREAM_OIDC_CLIENT_ID is required with an issuer")
	}
	if c.ClientSecret == "" {
		return errors.New("HARNESS_STREAM_OIDC_CLIENT_SECRET is required with an issuer")
	}
	return nil
}

// Credential returns the stream API key. A static key wins over the issuer.
// An unconfigured source yields an empty key.
func Credential(ctx context.Context, cfg Config) (string, error) {
	if cfg.StaticKey != "" {
		return cfg.StaticKey, nil
	}
	if cfg.IssuerURL == "" {
		return "", nil
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return "", fmt.Errorf("oidc provider: %w", err)
	}
	tokenURL := provider.Endpoint().TokenURL
	if tokenURL == "" {
		return "", fmt.Errorf("oidc provider %s advertises no token endpoint", cfg.IssuerURL)
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       cfg.Scopes,
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("client credentials grant: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("client credentials grant returned no access token")
	}
	return tok.AccessToken, nil
}
