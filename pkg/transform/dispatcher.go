// Package transform normalizes staged provider payloads into the relational
// model and fans out per-entity embedding jobs.
package transform

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/database"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/models"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/queue"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/repositories"
)

// StatusReporter receives terminal step updates when a transform completes a
// step without anything left to publish downstream.
type StatusReporter interface {
	StepFinished(ctx context.Context, msg *queue.Message) error
}

// Dispatcher routes transform messages to the entity transformers. Each
// message is one unit of work: the transformer runs inside a single write
// transaction, and downstream embedding messages are published only after
// commit.
type Dispatcher struct {
	logger    *zap.Logger
	router    *queue.Router
	rawData   repositories.RawDataRepository
	reference *ReferenceTransformer
	issues    *IssueTransformer
	devStatus *DevStatusTransformer
}

// NewDispatcher creates the transform dispatcher.
func NewDispatcher(logger *zap.Logger, router *queue.Router, rawData repositories.RawDataRepository,
	reference *ReferenceTransformer, issues *IssueTransformer, devStatus *DevStatusTransformer) *Dispatcher {
	return &Dispatcher{
		logger:    logger.Named("transform"),
		router:    router,
		rawData:   rawData,
		reference: reference,
		issues:    issues,
		devStatus: devStatus,
	}
}

// Handle processes one transform message.
func (d *Dispatcher) Handle(ctx context.Context, msg *queue.Message) error {
	// Markers carry only flags; forward them to the embedding step without
	// touching entity storage.
	if msg.IsMarker() {
		return d.router.Publish(ctx, queue.StepEmbedding, msg.Marker(msg.FirstItem, msg.LastItem, msg.LastJobItem))
	}

	route, ok := d.route(msg.Type)
	if !ok {
		d.logger.Warn("dropping message with unknown type",
			zap.String("type", msg.Type),
			zap.String("tenant_id", msg.TenantID.String()))
		return nil
	}

	var downstream []*queue.Message
	err := database.InTransaction(ctx, func(ctx context.Context) error {
		raw, err := d.rawData.Get(ctx, *msg.RawDataID)
		if err != nil {
			return fmt.Errorf("failed to load staged payload: %w", err)
		}

		downstream, err = route(ctx, msg, raw)
		if err != nil {
			return err
		}
		return d.rawData.MarkCompleted(ctx, raw.ID)
	})
	if err != nil {
		// The staging row is still pending after rollback; record the
		// failure on it outside the transaction.
		if markErr := d.rawData.MarkFailed(ctx, *msg.RawDataID, err.Error()); markErr != nil {
			d.logger.Error("failed to mark staged payload failed",
				zap.String("raw_data_id", msg.RawDataID.String()), zap.Error(markErr))
		}
		return err
	}

	for _, out := range downstream {
		if err := d.router.Publish(ctx, queue.StepEmbedding, out); err != nil {
			return fmt.Errorf("failed to publish embedding job: %w", err)
		}
	}
	return nil
}

type routeFunc func(ctx context.Context, msg *queue.Message, raw *models.RawExtractionData) ([]*queue.Message, error)

func (d *Dispatcher) route(msgType string) (routeFunc, bool) {
	switch msgType {
	case models.TypeProjectsAndIssueTypes:
		return d.reference.TransformProjects, true
	case models.TypeStatusesAndRelationships:
		return d.reference.TransformStatuses, true
	case models.TypeCustomFields, models.TypeSpecialFields:
		return d.reference.TransformCustomFields, true
	case models.TypeIssuesWithChangelogs:
		return d.issues.Transform, true
	case models.TypeDevStatus:
		return d.devStatus.Transform, true
	}
	return nil, false
}
