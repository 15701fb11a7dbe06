package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExtractionFailure is a dead-letter row recorded after a message exhausts
// its retries. Rate-limit stops never produce one.
type ExtractionFailure struct {
	ID              uuid.UUID       `json:"id"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	IntegrationID   uuid.UUID       `json:"integration_id"`
	ExtractionType  string          `json:"extraction_type"`
	OriginalMessage json.RawMessage `json:"original_message"`
	ErrorMessage    string          `json:"error_message"`
	FailedAt        time.Time       `json:"failed_at"`
}
