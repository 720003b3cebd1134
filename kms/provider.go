package kms

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	kmsaead "github.com/hashicorp/go-kms-wrapping/v2/aead"
	awskms "github.com/hashicorp/go-kms-wrapping/wrappers/awskms/v2"
	azurekeyvault "github.com/hashicorp/go-kms-wrapping/wrappers/azurekeyvault/v2"
	gcpckms "github.com/hashicorp/go-kms-wrapping/wrappers/gcpckms/v2"
	transit "github.com/hashicorp/go-kms-wrapping/wrappers/transit/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

var log = zlog.With().Str("component", "kms").Logger()

// checkValue is round-tripped through the wrapper by Check
var checkValue = []byte("data-protection-kms-check")

type provider struct {
	kind    ProviderType
	keyID   string
	wrapper wrapping.Wrapper
}

// builder validates config and returns a configured wrapper, plus the key id
// and location that are logged once the provider is up
type builder func(ctx context.Context, config Config) (w wrapping.Wrapper, keyID, location string, err error)

var builders = map[ProviderType]builder{
	ProviderAWS:   buildAWS,
	ProviderAzure: buildAzure,
	ProviderGCP:   buildGCP,
	ProviderVault: buildVault,
	ProviderAead:  buildAead,
}

// NewProvider builds the wrapper described by config
func NewProvider(ctx context.Context, config Config) (Provider, error) {
	build, ok := builders[config.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported KMS provider %q", types.ErrValidation, config.Type)
	}

	w, keyID, location, err := build(ctx, config)
	if err != nil {
		log.Error().Err(err).Str("provider", string(config.Type)).Msg("KMS provider setup failed")
		return nil, err
	}

	log.Info().
		Str("provider", string(config.Type)).
		Str("key_id", keyID).
		Str("location", location).
		Msg("KMS provider ready")
	return &provider{kind: config.Type, keyID: keyID, wrapper: w}, nil
}

func (p *provider) GetWrapper() wrapping.Wrapper {
	return p.wrapper
}

func (p *provider) Type() ProviderType {
	return p.kind
}

func (p *provider) KeyID() string {
	return p.keyID
}

// Check encrypts and decrypts checkValue through the wrapper
func (p *provider) Check(ctx context.Context) error {
	blob, err := p.wrapper.Encrypt(ctx, checkValue)
	if err != nil {
		return fmt.Errorf("%s check encrypt: %w", p.kind, err)
	}
	out, err := p.wrapper.Decrypt(ctx, blob)
	if err != nil {
		return fmt.Errorf("%s check decrypt: %w", p.kind, err)
	}
	if !bytes.Equal(out, checkValue) {
		return fmt.Errorf("%s check round trip returned different data", p.kind)
	}
	return nil
}

func invalid(kind ProviderType, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", types.ErrValidation, kind, fmt.Sprintf(format, args...))
}

// credential returns a string credential, or "" when absent
func credential(creds map[string]any, name string) string {
	s, _ := creds[name].(string)
	return s
}

func setIf(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func configure(ctx context.Context, w wrapping.Wrapper, kind ProviderType, opts ...wrapping.Option) (wrapping.Wrapper, error) {
	if _, err := w.SetConfig(ctx, opts...); err != nil {
		return nil, fmt.Errorf("configure %s wrapper: %w", kind, err)
	}
	return w, nil
}

func validateAWSConfig(c *AWSConfig) error {
	switch {
	case c == nil:
		return invalid(ProviderAWS, "configuration is missing")
	case c.KeyID == "":
		return invalid(ProviderAWS, "key ARN is required")
	case c.Region == "":
		return invalid(ProviderAWS, "region is required")
	case (credential(c.Credentials, "accessKeyId") == "") != (credential(c.Credentials, "secretAccessKey") == ""):
		return invalid(ProviderAWS, "accessKeyId and secretAccessKey must be set together")
	}
	return nil
}

func buildAWS(ctx context.Context, config Config) (wrapping.Wrapper, string, string, error) {
	c := config.AWS
	if err := validateAWSConfig(c); err != nil {
		return nil, "", "", err
	}
	if c.Credentials == nil {
		log.Debug().Msg("No AWS credentials configured, using the default credential chain")
	}

	m := map[string]string{"kms_key_id": c.KeyID, "region": c.Region}
	setIf(m, "access_key", credential(c.Credentials, "accessKeyId"))
	setIf(m, "secret_key", credential(c.Credentials, "secretAccessKey"))
	setIf(m, "session_token", credential(c.Credentials, "sessionToken"))

	w, err := configure(ctx, awskms.NewWrapper(), ProviderAWS, wrapping.WithConfigMap(m))
	return w, c.KeyID, c.Region, err
}

func validateAzureConfig(c *AzureConfig) error {
	if c == nil {
		return invalid(ProviderAzure, "configuration is missing")
	}
	if c.KeyID == "" {
		return invalid(ProviderAzure, "key identifier is required")
	}
	if !strings.HasPrefix(c.VaultAddress, "https://") || !strings.Contains(c.VaultAddress, ".vault.azure.net") {
		return invalid(ProviderAzure, "vault address %q is not an https://<name>.vault.azure.net URL", c.VaultAddress)
	}
	if c.Credentials != nil {
		for _, name := range []string{"tenantId", "clientId", "clientSecret"} {
			if credential(c.Credentials, name) == "" {
				return invalid(ProviderAzure, "credential %s is required", name)
			}
		}
	}
	return nil
}

// azureKey splits https://<vault>/keys/<name>[/<version>]; other forms are used as the key name
func azureKey(keyID string) (name, version string) {
	parts := strings.Split(keyID, "/")
	if len(parts) < 5 || parts[3] != "keys" {
		return keyID, ""
	}
	if len(parts) > 5 {
		version = parts[5]
	}
	return parts[4], version
}

func buildAzure(ctx context.Context, config Config) (wrapping.Wrapper, string, string, error) {
	c := config.Azure
	if err := validateAzureConfig(c); err != nil {
		return nil, "", "", err
	}

	name, version := azureKey(c.KeyID)
	vault, _, _ := strings.Cut(strings.TrimPrefix(c.VaultAddress, "https://"), ".")
	m := map[string]string{
		"key_name":   name,
		"vault_name": vault,
		"vault_url":  c.VaultAddress,
	}
	setIf(m, "key_version", version)
	setIf(m, "tenant_id", credential(c.Credentials, "tenantId"))
	setIf(m, "client_id", credential(c.Credentials, "clientId"))
	setIf(m, "client_secret", credential(c.Credentials, "clientSecret"))

	w, err := configure(ctx, azurekeyvault.NewWrapper(), ProviderAzure, wrapping.WithConfigMap(m))
	return w, c.KeyID, c.VaultAddress, err
}

type gcpResource struct {
	project, location, keyRing, cryptoKey string
}

// parseGCPResource parses projects/{p}/locations/{l}/keyRings/{r}/cryptoKeys/{k}
func parseGCPResource(name string) (gcpResource, bool) {
	p := strings.Split(name, "/")
	if len(p) != 8 || p[0] != "projects" || p[2] != "locations" || p[4] != "keyRings" || p[6] != "cryptoKeys" {
		return gcpResource{}, false
	}
	r := gcpResource{project: p[1], location: p[3], keyRing: p[5], cryptoKey: p[7]}
	if r.project == "" || r.location == "" || r.keyRing == "" || r.cryptoKey == "" {
		return gcpResource{}, false
	}
	return r, true
}

func validateGCPConfig(c *GCPConfig) error {
	if c == nil {
		return invalid(ProviderGCP, "configuration is missing")
	}
	if _, ok := parseGCPResource(c.ResourceName); !ok {
		return invalid(ProviderGCP, "resource name %q is not projects/{project}/locations/{location}/keyRings/{ring}/cryptoKeys/{key}", c.ResourceName)
	}
	if c.Credentials != nil && credential(c.Credentials, "credentialsJson") == "" {
		return invalid(ProviderGCP, "credential credentialsJson is required")
	}
	return nil
}

func buildGCP(ctx context.Context, config Config) (wrapping.Wrapper, string, string, error) {
	c := config.GCP
	if err := validateGCPConfig(c); err != nil {
		return nil, "", "", err
	}
	r, _ := parseGCPResource(c.ResourceName)

	m := map[string]string{
		"project":    r.project,
		"region":     r.location,
		"key_ring":   r.keyRing,
		"crypto_key": r.cryptoKey,
	}

	// The wrapper only reads credentials from a file; it is removed once configured
	if creds := credential(c.Credentials, "credentialsJson"); creds != "" {
		path, err := writeTempCredentials(creds)
		if err != nil {
			return nil, "", "", err
		}
		defer func() {
			if err := os.Remove(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("Failed to remove temporary GCP credentials")
			}
		}()
		m["credentials"] = path
	}

	w, err := configure(ctx, gcpckms.NewWrapper(), ProviderGCP, wrapping.WithConfigMap(m))
	return w, c.ResourceName, r.location, err
}

func writeTempCredentials(content string) (string, error) {
	f, err := os.CreateTemp("", "gcp-creds-*.json")
	if err != nil {
		return "", fmt.Errorf("create temporary GCP credentials: %w", err)
	}
	_, werr := f.WriteString(content)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write temporary GCP credentials: %w", errors.Join(werr, cerr))
	}
	return f.Name(), nil
}

func validateVaultConfig(c *VaultConfig) error {
	switch {
	case c == nil:
		return invalid(ProviderVault, "configuration is missing")
	case c.KeyID == "":
		return invalid(ProviderVault, "transit key name is required")
	case c.VaultAddress == "":
		return invalid(ProviderVault, "vault address is required")
	case c.Credentials != nil && credential(c.Credentials, "token") == "":
		return invalid(ProviderVault, "credential token is required")
	}
	return nil
}

func buildVault(ctx context.Context, config Config) (wrapping.Wrapper, string, string, error) {
	c := config.Vault
	if err := validateVaultConfig(c); err != nil {
		return nil, "", "", err
	}

	m := map[string]string{"address": c.VaultAddress, "key_name": c.KeyID}
	setIf(m, "mount_path", c.VaultMount)
	setIf(m, "token", credential(c.Credentials, "token"))

	w, err := configure(ctx, transit.NewWrapper(), ProviderVault, wrapping.WithConfigMap(m))
	return w, c.KeyID, c.VaultAddress, err
}

func buildAead(ctx context.Context, config Config) (wrapping.Wrapper, string, string, error) {
	if config.AeadKeyBase64 == "" {
		return nil, "", "", invalid(ProviderAead, "a base64 key is required")
	}
	key, err := base64.StdEncoding.DecodeString(config.AeadKeyBase64)
	if err != nil {
		return nil, "", "", invalid(ProviderAead, "key is not base64: %v", err)
	}
	if len(key) != 32 {
		return nil, "", "", invalid(ProviderAead, "key must be 32 bytes, got %d", len(key))
	}

	opts := []wrapping.Option{kmsaead.WithKey(key)}
	if config.AeadKeyID != "" {
		opts = append(opts, wrapping.WithKeyId(config.AeadKeyID))
	}
	w, err := configure(ctx, kmsaead.NewWrapper(), ProviderAead, opts...)
	return w, config.AeadKeyID, "local", err
}
