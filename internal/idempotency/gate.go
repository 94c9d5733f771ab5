package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/pixelforge-backend/pkg/db"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// StatusApplied marks an event whose side effects were committed.
	StatusApplied = "applied"
	// StatusNoop marks an event that was accepted without any state change.
	StatusNoop = "noop"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Event identifies one externally sourced delivery.
type Event struct {
	ExternalID string
	Type       string
}

// Outcome is the summary stored with the marker and replayed to duplicates.
type Outcome struct {
	Status string          `json:"status"`
	Detail string          `json:"detail,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Result reports whether the event ran for the first time.
type Result struct {
	First   bool
	Outcome Outcome
}

// Handler runs the guarded side effects inside the gate's transaction.
type Handler func(tx *gorm.DB) (Outcome, error)

// Applied builds an applied outcome carrying data.
func Applied(data any) (Outcome, error) {
	return newOutcome(StatusApplied, "", data)
}

// Noop builds a no-op outcome with a human readable detail.
func Noop(detail string) Outcome {
	return Outcome{Status: StatusNoop, Detail: detail}
}

func newOutcome(status, detail string, data any) (Outcome, error) {
	out := Outcome{Status: status, Detail: detail}
	if data == nil {
		return out, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode outcome: %w", err)
	}
	out.Data = raw
	return out, nil
}

// Decode unmarshals the outcome data into v.
func (o Outcome) Decode(v any) error {
	if len(o.Data) == 0 {
		return errors.New("outcome has no data")
	}
	return json.Unmarshal(o.Data, v)
}

// IsNoop reports whether the outcome carried no state change.
func (o Outcome) IsNoop() bool { return o.Status == StatusNoop }

// GateParams wires the gate.
type GateParams struct {
	DB     txRunner
	Logger *logger.Logger
	Now    func() time.Time
}

// Gate admits each external id at most once. The marker row and the side
// effects it guards commit in the same transaction.
type Gate struct {
	db   txRunner
	logg *logger.Logger
	now  func() time.Time
}

func NewGate(p GateParams) (*Gate, error) {
	if p.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{db: p.DB, logg: p.Logger, now: now}, nil
}

// Admit inserts the processed marker for ev and runs handle in the same
// transaction. A duplicate returns the stored outcome without running handle.
// A handler error rolls back the marker so a redelivery runs again.
func (g *Gate) Admit(ctx context.Context, ev Event, handle Handler) (Result, error) {
	ev.ExternalID = strings.TrimSpace(ev.ExternalID)
	if ev.ExternalID == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "external id is required")
	}
	if ev.Type == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "event type is required")
	}
	if handle == nil {
		return Result{}, fmt.Errorf("handler required")
	}

	var result Result
	err := g.db.WithTx(ctx, func(tx *gorm.DB) error {
		marker := models.ProcessedEvent{
			ExternalID:  ev.ExternalID,
			Type:        ev.Type,
			ProcessedAt: g.now().UTC(),
		}
		res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&marker)
		if res.Error != nil {
			return fmt.Errorf("insert processed event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			prior, err := loadOutcome(ctx, tx, ev)
			if err != nil {
				return err
			}
			result = Result{First: false, Outcome: prior}
			return nil
		}

		outcome, err := handle(tx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(outcome)
		if err != nil {
			return fmt.Errorf("encode outcome: %w", err)
		}
		if err := tx.WithContext(ctx).
			Model(&models.ProcessedEvent{}).
			Where("external_id = ?", ev.ExternalID).
			Update("outcome", datatypes.JSON(raw)).Error; err != nil {
			return fmt.Errorf("store outcome: %w", err)
		}
		result = Result{First: true, Outcome: outcome}
		return nil
	})
	if err != nil {
		return Result{}, classify(err)
	}

	if !result.First && g.logg != nil {
		logCtx := g.logg.WithFields(ctx, map[string]any{
			"external_id": ev.ExternalID,
			"event_type":  ev.Type,
		})
		g.logg.Info(logCtx, "duplicate event ignored")
	}
	return result, nil
}

func loadOutcome(ctx context.Context, tx *gorm.DB, ev Event) (Outcome, error) {
	var prior models.ProcessedEvent
	if err := tx.WithContext(ctx).Where("external_id = ?", ev.ExternalID).Take(&prior).Error; err != nil {
		return Outcome{}, fmt.Errorf("load processed event: %w", err)
	}
	if prior.Type != ev.Type {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused for a different operation")
	}
	var outcome Outcome
	if len(prior.Outcome) == 0 {
		return outcome, nil
	}
	if err := json.Unmarshal(prior.Outcome, &outcome); err != nil {
		return Outcome{}, fmt.Errorf("decode prior outcome: %w", err)
	}
	return outcome, nil
}

func classify(err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	if db.IsConflict(err) || db.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodePersistenceConflict, err, "event is being processed, retry later")
	}
	return err
}
