// Package kms resolves the application secret that seeds the key hierarchy,
// either as a raw value or by unwrapping it through a KMS wrapper.
package kms

import (
	"context"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
)

// Provider is a configured KMS wrapper
type Provider interface {
	// GetWrapper returns the underlying KMS wrapper
	GetWrapper() wrapping.Wrapper

	Type() ProviderType
	KeyID() string

	// Check round-trips a known value through the wrapper
	Check(ctx context.Context) error
}

// ProviderType represents the type of KMS provider
type ProviderType string

// Provider type constants
const (
	ProviderNone  ProviderType = ""
	ProviderAead  ProviderType = "aead"
	ProviderAWS   ProviderType = "aws"
	ProviderAzure ProviderType = "azure"
	ProviderGCP   ProviderType = "gcp"
	ProviderVault ProviderType = "vault"
)

// AWSConfig configures the AWS KMS wrapper
type AWSConfig struct {
	KeyID       string         // Key ARN
	Region      string         // AWS region
	Credentials map[string]any // accessKeyId, secretAccessKey, sessionToken
}

// AzureConfig configures the Azure Key Vault wrapper
type AzureConfig struct {
	KeyID        string         // Key identifier URL
	VaultAddress string         // https://<vault>.vault.azure.net
	Credentials  map[string]any // tenantId, clientId, clientSecret
}

// GCPConfig configures the Google Cloud KMS wrapper
type GCPConfig struct {
	ResourceName string         // projects/{p}/locations/{l}/keyRings/{r}/cryptoKeys/{k}
	Credentials  map[string]any // credentialsJson
}

// VaultConfig configures the Vault Transit wrapper
type VaultConfig struct {
	KeyID        string         // Transit key name
	VaultAddress string         // Vault server address
	VaultMount   string         // Transit mount path, library default when empty
	Credentials  map[string]any // token
}

// Config represents the internal KMS provider configuration
type Config struct {
	Type  ProviderType
	AWS   *AWSConfig
	Azure *AzureConfig
	GCP   *GCPConfig
	Vault *VaultConfig

	// AEAD (local key) provider
	AeadKeyBase64 string
	AeadKeyID     string
}

// Credentials holds provider credentials as they appear in configuration files
type Credentials struct {
	// AWS credentials
	AccessKeyID     string `json:"accessKeyId,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `json:"secretAccessKey,omitempty" mapstructure:"secret_access_key"`
	SessionToken    string `json:"sessionToken,omitempty" mapstructure:"session_token"`

	// Azure credentials
	TenantID     string `json:"tenantId,omitempty" mapstructure:"tenant_id"`
	ClientID     string `json:"clientId,omitempty" mapstructure:"client_id"`
	ClientSecret string `json:"clientSecret,omitempty" mapstructure:"client_secret"`

	// GCP credentials
	CredentialsJSON string `json:"credentialsJson,omitempty" mapstructure:"credentials_json"`

	// Vault credentials
	Token string `json:"token,omitempty" mapstructure:"token"`
}

// SecretSettings describes where the application secret comes from.
// With no provider the secret is used as-is; otherwise WrappedSecret is
// unwrapped through the configured KMS.
type SecretSettings struct {
	Secret        string       `json:"-" mapstructure:"secret"`
	WrappedSecret string       `json:"wrappedSecret,omitempty" mapstructure:"wrapped_secret"`
	Provider      ProviderType `json:"provider,omitempty" mapstructure:"provider"`
	KeyID         string       `json:"keyId,omitempty" mapstructure:"key_id"`
	Region        string       `json:"region,omitempty" mapstructure:"region"`
	VaultAddress  string       `json:"vaultAddress,omitempty" mapstructure:"vault_address"`
	VaultMount    string       `json:"vaultMount,omitempty" mapstructure:"vault_mount"`
	AeadKeyBase64 string       `json:"-" mapstructure:"aead_key"`
	AeadKeyID     string       `json:"aeadKeyId,omitempty" mapstructure:"aead_key_id"`
	Credentials   *Credentials `json:"credentials,omitempty" mapstructure:"credentials"`
}
