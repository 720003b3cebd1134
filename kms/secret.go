package kms

import (
	"context"
	"encoding/base64"
	"fmt"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"google.golang.org/protobuf/encoding/protojson"
)

// WrapSecret encrypts secret with the provider and returns the blob as base64 protojson,
// suitable for SecretSettings.WrappedSecret.
func WrapSecret(ctx context.Context, p Provider, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("secret is empty")
	}
	blob, err := p.GetWrapper().Encrypt(ctx, secret)
	if err != nil {
		return "", fmt.Errorf("failed to wrap secret: %w", err)
	}
	raw, err := protojson.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("failed to encode wrapped secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// UnwrapSecret reverses WrapSecret
func UnwrapSecret(ctx context.Context, p Provider, wrapped string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("failed to decode wrapped secret: %w", err)
	}
	blob := new(wrapping.BlobInfo)
	if err := protojson.Unmarshal(raw, blob); err != nil {
		return nil, fmt.Errorf("failed to parse wrapped secret: %w", err)
	}
	secret, err := p.GetWrapper().Decrypt(ctx, blob)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap secret: %w", err)
	}
	return secret, nil
}

// ResolveSecret returns the application secret described by settings
func ResolveSecret(ctx context.Context, settings SecretSettings) ([]byte, error) {
	if settings.Provider == ProviderNone {
		if settings.Secret == "" {
			return nil, fmt.Errorf("application secret is not configured")
		}
		return []byte(settings.Secret), nil
	}

	if settings.WrappedSecret == "" {
		return nil, fmt.Errorf("wrapped secret is required for provider %s", settings.Provider)
	}

	p, err := NewProvider(ctx, settings.ToConfig())
	if err != nil {
		return nil, err
	}

	secret, err := UnwrapSecret(ctx, p, settings.WrappedSecret)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("provider", string(settings.Provider)).
		Msg("Application secret unwrapped")
	return secret, nil
}
