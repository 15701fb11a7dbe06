package models

import (
	"time"

	"github.com/google/uuid"
)

// Integration is a tenant's connection to an external issue-tracking
// provider. Credentials are stored encrypted (AES-256-GCM, see pkg/crypto)
// and decrypted per request; they are never cached across workers.
type Integration struct {
	ID                   uuid.UUID `json:"id"`
	TenantID             uuid.UUID `json:"tenant_id"`
	Provider             string    `json:"provider"` // "jira", "github", ...
	EncryptedCredentials string    `json:"-"`
	BaseURL              string    `json:"base_url"`
	BaseSearchFilter     string    `json:"base_search_filter"`
	Active               bool      `json:"active"`
	CreatedAt            time.Time `json:"created_at"`
	LastUpdatedAt        time.Time `json:"last_updated_at"`
}

// IntegrationCredentials is the decrypted credential payload for provider
// API calls.
type IntegrationCredentials struct {
	Email    string `json:"email"`
	APIToken string `json:"api_token"`
}
