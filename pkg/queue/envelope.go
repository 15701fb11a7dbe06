// Package queue defines the pipeline message envelope and the tier-routed
// JetStream queues it travels on.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
)

// Step is a pipeline stage with its own set of tier queues.
type Step string

const (
	StepExtraction Step = "extraction"
	StepTransform  Step = "transform"
	StepEmbedding  Step = "embedding"
)

// AllSteps lists the steps in pipeline order.
func AllSteps() []Step {
	return []Step{StepExtraction, StepTransform, StepEmbedding}
}

// Message is the canonical envelope every pipeline message carries.
//
// A message is either an entity message (RawDataID set, pointing at a
// staging row) or a marker carrying only flags: RawDataID == nil means
// completion/flag marker and the consumer must not touch entity storage.
// Dispatch on IsMarker before anything else.
type Message struct {
	TenantID      uuid.UUID  `json:"tenant_id"`
	IntegrationID uuid.UUID  `json:"integration_id"`
	JobID         uuid.UUID  `json:"job_id"`
	Token         string     `json:"token"`
	Type          string     `json:"type"`
	Provider      string     `json:"provider"`
	RawDataID     *uuid.UUID `json:"raw_data_id,omitempty"`
	ExternalID    *string    `json:"external_id,omitempty"`

	// Batch-position flags within a step. Exactly one message per step per
	// job carries FirstItem, exactly one carries LastItem.
	FirstItem bool `json:"first_item"`
	LastItem  bool `json:"last_item"`
	// LastJobItem is true on the final emission of the whole job.
	LastJobItem bool `json:"last_job_item"`

	OldLastSyncDate *time.Time `json:"old_last_sync_date,omitempty"`
	NewLastSyncDate *time.Time `json:"new_last_sync_date,omitempty"`

	// RetryCount is incremented by the retry middleware on republish.
	RetryCount int `json:"retry_count"`
}

// IsMarker reports whether the message is a completion/flag marker with no
// entity body.
func (m *Message) IsMarker() bool {
	return m.RawDataID == nil
}

// NewToken mints a job-execution nonce, propagated end-to-end for
// correlating status updates.
func NewToken() string {
	return uuid.NewString()
}

// Marker builds a flag message sharing m's job coordinates.
func (m *Message) Marker(firstItem, lastItem, lastJobItem bool) *Message {
	return &Message{
		TenantID:        m.TenantID,
		IntegrationID:   m.IntegrationID,
		JobID:           m.JobID,
		Token:           m.Token,
		Type:            m.Type,
		Provider:        m.Provider,
		FirstItem:       firstItem,
		LastItem:        lastItem,
		LastJobItem:     lastJobItem,
		OldLastSyncDate: m.OldLastSyncDate,
		NewLastSyncDate: m.NewLastSyncDate,
	}
}

// Encode serializes the envelope for publishing.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Decode deserializes an envelope received from a queue.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &m, nil
}

// QueueName returns the durable queue name for a (step, tier) pair:
// <step>_queue_<tier>.
func QueueName(step Step, tier models.Tier) string {
	return fmt.Sprintf("%s_queue_%s", step, tier)
}

// Subject returns the broker subject a (step, tier) queue is bound to.
func Subject(step Step, tier models.Tier) string {
	return fmt.Sprintf("%s.%s", step, tier)
}

// StreamName returns the stream owning a step's tier queues.
func StreamName(step Step) string {
	switch step {
	case StepExtraction:
		return "EXTRACTION"
	case StepTransform:
		return "TRANSFORM"
	case StepEmbedding:
		return "EMBEDDING"
	}
	return ""
}
