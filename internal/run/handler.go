package run

import (
	"context"
	"fmt"
	"time"

	"watchtower/internal/broker"
	"watchtower/internal/logger"
	pkgerrors "watchtower/pkg/errors"
	"watchtower/pkg/models"
	"watchtower/pkg/retry"
)

// NewRequestHandler consumes execution.requested envelopes. A request that
// produced a stored run is acknowledged even when the run FAILED, because
// redelivery would only hit the stored run again. Errors raised before any
// run exists are returned so the consumer can retry or dead-letter them.
func NewRequestHandler(d *Dispatcher, log logger.Logger) broker.HandlerFunc {
	return func(ctx context.Context, msg models.MessageEnvelope) error {
		if msg.Type != models.MessageTypeExecutionRequest {
			log.WarnwCtx(ctx, "Ignoring message of unexpected type", "type", msg.Type, "message_id", msg.ID)
			return nil
		}

		var req models.ExecutionRequest
		if err := msg.DecodePayload(&req); err != nil {
			return retry.NewFatalError(fmt.Errorf("failed to decode execution request: %w", err))
		}
		if err := req.Validate(); err != nil {
			return retry.NewFatalError(err)
		}

		var startedAt time.Time
		if req.StartedAt != nil {
			startedAt = *req.StartedAt
		}

		if req.RuleID != "" {
			res, err := d.RunRule(ctx, req.RuleID, startedAt)
			if err != nil && res == nil {
				return err
			}
			if err != nil {
				log.WarnwCtx(ctx, "Requested run failed", "run_id", res.RunID, "error", err)
			}
			return nil
		}

		_, err := d.RunDataset(ctx, req.DatasetID, startedAt)
		if pkgerrors.IsSkipped(err) {
			return nil
		}
		return err
	}
}
