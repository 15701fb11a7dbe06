package queue

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
)

func TestMessage_RoundTrip(t *testing.T) {
	rawID := uuid.New()
	extID := "10042"
	msg := &Message{
		TenantID:      uuid.New(),
		IntegrationID: uuid.New(),
		JobID:         uuid.New(),
		Token:         NewToken(),
		Type:          models.TypeIssuesWithChangelogs,
		Provider:      "jira",
		RawDataID:     &rawID,
		ExternalID:    &extID,
		FirstItem:     true,
		RetryCount:    2,
	}

	data, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg.TenantID, decoded.TenantID)
	assert.Equal(t, &rawID, decoded.RawDataID)
	assert.Equal(t, 2, decoded.RetryCount)
	assert.False(t, decoded.IsMarker())
}

func TestMessage_Marker(t *testing.T) {
	rawID := uuid.New()
	entity := &Message{
		TenantID:      uuid.New(),
		IntegrationID: uuid.New(),
		JobID:         uuid.New(),
		Token:         "tok",
		Type:          models.TypeDevStatus,
		Provider:      "jira",
		RawDataID:     &rawID,
	}

	marker := entity.Marker(false, true, true)
	assert.True(t, marker.IsMarker())
	assert.Nil(t, marker.RawDataID)
	assert.Nil(t, marker.ExternalID)
	assert.True(t, marker.LastItem)
	assert.True(t, marker.LastJobItem)
	assert.Equal(t, entity.Token, marker.Token)
	assert.Equal(t, entity.JobID, marker.JobID)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	assert.Error(t, err)
}

func TestQueueNaming(t *testing.T) {
	assert.Equal(t, "extraction_queue_free", QueueName(StepExtraction, models.TierFree))
	assert.Equal(t, "transform_queue_premium", QueueName(StepTransform, models.TierPremium))
	assert.Equal(t, "embedding.enterprise", Subject(StepEmbedding, models.TierEnterprise))
	assert.Equal(t, "TRANSFORM", StreamName(StepTransform))
}

func TestTierPoolSizes(t *testing.T) {
	assert.Equal(t, 1, models.TierFree.PoolSize())
	assert.Equal(t, 3, models.TierBasic.PoolSize())
	assert.Equal(t, 5, models.TierPremium.PoolSize())
	assert.Equal(t, 10, models.TierEnterprise.PoolSize())
}
