// Package extract pulls raw provider data, stages it in the relational
// store, and fans out transform messages. Extractors never hold a database
// transaction across HTTP calls; each staged row is written on the tenant
// scope connection as it arrives.
package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/crypto"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/jira"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/queue"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/repositories"
)

// ClientFactory builds a provider client for an integration. Credentials
// are decrypted per call and never cached.
type ClientFactory interface {
	ClientFor(integration *models.Integration) (*jira.Client, error)
}

type clientFactory struct {
	encryptor *crypto.CredentialEncryptor
	cfg       jira.Config
	logger    *zap.Logger
}

// NewClientFactory creates a provider client factory.
func NewClientFactory(encryptor *crypto.CredentialEncryptor, cfg jira.Config, logger *zap.Logger) ClientFactory {
	return &clientFactory{encryptor: encryptor, cfg: cfg, logger: logger}
}

var _ ClientFactory = (*clientFactory)(nil)

func (f *clientFactory) ClientFor(integration *models.Integration) (*jira.Client, error) {
	plaintext, err := f.encryptor.Decrypt(integration.EncryptedCredentials)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials for integration %s: %w", integration.ID, err)
	}

	var creds models.IntegrationCredentials
	if err := json.Unmarshal([]byte(plaintext), &creds); err != nil {
		return nil, fmt.Errorf("failed to decode credentials for integration %s: %w", integration.ID, err)
	}
	return jira.NewClient(integration.BaseURL, creds, f.cfg, f.logger), nil
}

// DevCandidate is an issue whose mapped development field carried data
// during extraction, making it a dev-status lookup candidate.
type DevCandidate struct {
	ID  string
	Key string
}

// stageAndPublish writes one staged payload and publishes its transform
// message. The raw row is committed on the scope connection before the
// publish, so a broker failure never leaves an unreferenced message.
func stageAndPublish(ctx context.Context, rawData repositories.RawDataRepository,
	router *queue.Router, msg *queue.Message, dataType string, payload any,
	firstItem, lastItem, lastJobItem bool) error {

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", dataType, err)
	}

	raw := &models.RawExtractionData{
		TenantID:      msg.TenantID,
		IntegrationID: msg.IntegrationID,
		Type:          dataType,
		RawData:       data,
	}
	if err := rawData.Insert(ctx, raw); err != nil {
		return err
	}

	out := msg.Marker(firstItem, lastItem, lastJobItem)
	out.Type = dataType
	out.RawDataID = &raw.ID
	return router.Publish(ctx, queue.StepTransform, out)
}
