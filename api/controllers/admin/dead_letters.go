package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pixelforge-backend/api/responses"
	"github.com/angelmondragon/pixelforge-backend/api/validators"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
	"github.com/angelmondragon/pixelforge-backend/pkg/outbox"
)

// DeadLetterReader lists outbox events the publisher stopped retrying.
type DeadLetterReader interface {
	List(ctx context.Context, filter outbox.DLQFilter) ([]models.OutboxDLQ, error)
}

type deadLetterDTO struct {
	ID            uuid.UUID       `json:"id"`
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	Reason        string          `json:"reason"`
	Error         string          `json:"error,omitempty"`
	AttemptCount  int             `json:"attempt_count"`
	FailedAt      time.Time       `json:"failed_at"`
	Payload       json.RawMessage `json:"payload"`
}

// DeadLetters serves GET /outbox/dead-letters?reason=&account_id=&limit=.
func DeadLetters(reader DeadLetterReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead letter store unavailable"))
			return
		}

		filter, err := deadLetterFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := reader.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters"))
			return
		}

		out := make([]deadLetterDTO, 0, len(rows))
		for _, row := range rows {
			dto := deadLetterDTO{
				ID:            row.ID,
				EventID:       row.EventID,
				EventType:     string(row.EventType),
				AggregateType: string(row.AggregateType),
				AggregateID:   row.AggregateID,
				Reason:        string(row.ErrorReason),
				AttemptCount:  row.AttemptCount,
				FailedAt:      row.FailedAt,
				Payload:       json.RawMessage(row.Payload),
			}
			if row.ErrorMessage != nil {
				dto.Error = *row.ErrorMessage
			}
			out = append(out, dto)
		}
		responses.WriteSuccess(w, map[string]any{"dead_letters": out})
	}
}

func deadLetterFilter(r *http.Request) (outbox.DLQFilter, error) {
	limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
	if err != nil {
		return outbox.DLQFilter{}, err
	}
	filter := outbox.DLQFilter{Limit: limit}

	reason, err := validators.ParseQueryEnum(r, "reason", enums.ParseOutboxDLQErrorReason)
	if err != nil {
		return outbox.DLQFilter{}, err
	}
	if reason != nil {
		filter.Reason = *reason
	}

	account, err := validators.ParseQueryEnum(r, "account_id", func(raw string) (uuid.UUID, error) {
		return uuid.Parse(strings.TrimSpace(raw))
	})
	if err != nil {
		return outbox.DLQFilter{}, err
	}
	if account != nil {
		filter.AggregateID = *account
	}
	return filter, nil
}
