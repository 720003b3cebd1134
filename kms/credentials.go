package kms

const maskedValue = "[MASKED]"

// ToMap converts credentials to the map form the provider configs expect.
// Empty fields are omitted.
func (c *Credentials) ToMap() map[string]any {
	if c == nil {
		return nil
	}

	result := make(map[string]any)
	set := func(name, value string) {
		if value != "" {
			result[name] = value
		}
	}

	// AWS credentials
	set("accessKeyId", c.AccessKeyID)
	set("secretAccessKey", c.SecretAccessKey)
	set("sessionToken", c.SessionToken)

	// Azure credentials
	set("tenantId", c.TenantID)
	set("clientId", c.ClientID)
	set("clientSecret", c.ClientSecret)

	// GCP credentials
	set("credentialsJson", c.CredentialsJSON)

	// Vault credentials
	set("token", c.Token)

	return result
}

// Masked returns a copy with every non-empty value replaced by a mask, for display
func (c *Credentials) Masked() *Credentials {
	if c == nil {
		return nil
	}
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return maskedValue
	}
	return &Credentials{
		AccessKeyID:     mask(c.AccessKeyID),
		SecretAccessKey: mask(c.SecretAccessKey),
		SessionToken:    mask(c.SessionToken),
		TenantID:        mask(c.TenantID),
		ClientID:        mask(c.ClientID),
		ClientSecret:    mask(c.ClientSecret),
		CredentialsJSON: mask(c.CredentialsJSON),
		Token:           mask(c.Token),
	}
}

// ToConfig converts flat secret settings into a provider config
func (s SecretSettings) ToConfig() Config {
	cfg := Config{Type: s.Provider}
	creds := s.Credentials.ToMap()

	switch s.Provider {
	case ProviderAWS:
		cfg.AWS = &AWSConfig{
			KeyID:       s.KeyID,
			Region:      s.Region,
			Credentials: creds,
		}
	case ProviderAzure:
		cfg.Azure = &AzureConfig{
			KeyID:        s.KeyID,
			VaultAddress: s.VaultAddress,
			Credentials:  creds,
		}
	case ProviderGCP:
		// KeyID carries the full resource name for GCP
		cfg.GCP = &GCPConfig{
			ResourceName: s.KeyID,
			Credentials:  creds,
		}
	case ProviderVault:
		cfg.Vault = &VaultConfig{
			KeyID:        s.KeyID,
			VaultAddress: s.VaultAddress,
			VaultMount:   s.VaultMount,
			Credentials:  creds,
		}
	case ProviderAead:
		cfg.AeadKeyBase64 = s.AeadKeyBase64
		cfg.AeadKeyID = s.AeadKeyID
	}

	return cfg
}
