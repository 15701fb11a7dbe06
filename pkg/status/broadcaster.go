// Package status maintains a persistent WebSocket connection to the status
// relay and ships JobSchedule status documents to it wholesale, so UIs that
// refresh from the database see the exact same shape they receive live.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConnState represents the current state of the relay connection.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// StepProgress is the per-step slice of a job's status document.
type StepProgress struct {
	Status    string     `json:"status"`
	Processed int        `json:"processed"`
	Total     int        `json:"total,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Document is the job status document shipped to the relay and persisted on
// the JobSchedule row.
type Document struct {
	JobID         uuid.UUID               `json:"job_id"`
	Token         string                  `json:"token"`
	TenantID      uuid.UUID               `json:"tenant_id"`
	IntegrationID uuid.UUID               `json:"integration_id"`
	Status        string                  `json:"status"`
	Steps         map[string]StepProgress `json:"steps"`
	Error         string                  `json:"error,omitempty"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// sendBuffer bounds the outbound queue; when the relay is down, the oldest
// updates are dropped first since every document is a full snapshot.
const sendBuffer = 64

// Broadcaster maintains the relay connection and forwards status documents.
// A nil relay URL disables it; Publish then becomes a no-op.
type Broadcaster struct {
	relayURL string
	logger   *zap.Logger

	mu     sync.RWMutex
	state  ConnState
	cancel context.CancelFunc
	done   chan struct{}

	out chan []byte
}

// NewBroadcaster creates a status broadcaster. An empty relayURL yields a
// disabled broadcaster that drops every document.
func NewBroadcaster(relayURL string, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		relayURL: relayURL,
		logger:   logger.Named("status-broadcaster"),
		state:    StateDisconnected,
		out:      make(chan []byte, sendBuffer),
	}
}

// Publish queues a document for delivery. Updates are fire-and-forget: when
// the buffer is full the oldest snapshot is discarded, because a newer full
// snapshot supersedes it.
func (b *Broadcaster) Publish(doc *Document) {
	if b.relayURL == "" {
		return
	}

	data, err := json.Marshal(doc)
	if err != nil {
		b.logger.Error("Failed to encode status document", zap.Error(err))
		return
	}

	for {
		select {
		case b.out <- data:
			return
		default:
			select {
			case <-b.out:
			default:
			}
		}
	}
}

// Start runs the connection loop until ctx is cancelled, reconnecting with
// exponential backoff on drops.
func (b *Broadcaster) Start(ctx context.Context) {
	if b.relayURL == "" {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.done = make(chan struct{})
	b.mu.Unlock()

	defer func() {
		b.setState(StateDisconnected)
		close(b.done)
	}()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if attempt == 0 {
			b.setState(StateConnecting)
		} else {
			b.setState(StateReconnecting)
		}

		err := b.connectAndSend(ctx)
		if ctx.Err() != nil {
			return
		}

		attempt++
		backoff := backoffDuration(attempt)
		b.logger.Warn("Status relay disconnected, reconnecting",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// Stop shuts the broadcaster down and waits for the loop to exit.
func (b *Broadcaster) Stop() {
	b.mu.RLock()
	cancel := b.cancel
	done := b.done
	b.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// State returns the current connection state.
func (b *Broadcaster) State() ConnState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Broadcaster) setState(s ConnState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
}

func (b *Broadcaster) connectAndSend(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, b.relayURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to status relay: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	b.setState(StateConnected)
	b.logger.Info("Status relay connected", zap.String("url", b.relayURL))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-b.out:
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return fmt.Errorf("failed to write status document: %w", err)
			}
		}
	}
}

// backoffDuration calculates exponential backoff with jitter.
// Base: 1s, max: 60s, jitter: ±25%.
func backoffDuration(attempt int) time.Duration {
	base := math.Pow(2, float64(attempt-1))
	seconds := math.Min(base, 60)
	jitter := seconds * 0.25 * (2*rand.Float64() - 1) //nolint:gosec
	return time.Duration((seconds + jitter) * float64(time.Second))
}
