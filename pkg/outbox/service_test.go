package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/angelmondragon/pixelforge-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	"github.com/angelmondragon/pixelforge-backend/pkg/outbox"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestEmitWritesEnvelopeInsideTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	svc := outbox.NewService(outbox.NewRepository(conn), nil)
	accountID := uuid.New()

	tx := conn.Begin()
	require.NoError(t, tx.Error)
	err := svc.Emit(context.Background(), tx, outbox.DomainEvent{
		EventType:     enums.EventCreditsGranted,
		AggregateType: enums.AggregateAccount,
		AggregateID:   accountID,
		Data:          map[string]any{"amount": 20},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit().Error)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, accountID, rows[0].AggregateID)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.JSONEq(t, `{"amount":20}`, string(envelope.Data))
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := outbox.NewService(outbox.NewRepository(nil), nil)
	err := svc.Emit(context.Background(), nil, outbox.DomainEvent{EventType: enums.EventCreditsGranted})
	require.Error(t, err)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	svc := outbox.NewService(repo, nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.Emit(context.Background(), conn, outbox.DomainEvent{
			EventType:     enums.EventCreditsConsumed,
			AggregateType: enums.AggregateAccount,
			AggregateID:   uuid.New(),
			Data:          map[string]any{"i": i},
		}))
	}

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, repo.MarkPublishedTx(conn, rows[0].ID))
	require.NoError(t, repo.MarkTerminalTx(conn, rows[1].ID, errors.New("bad payload"), 3))

	pending, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, pending)

	deleted, err := repo.DeletePublishedBefore(context.Background(), conn, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestDLQRepositoryRoundTrip(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := outbox.NewDLQRepository(conn)
	ctx := context.Background()

	eventID := uuid.New()
	msg := "max publish attempts reached"
	require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventCreditsExpired,
		AggregateType: enums.AggregateAccount,
		AggregateID:   uuid.New(),
		Payload:       datatypes.JSON(`{"version":1}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &msg,
		AttemptCount:  10,
		FailedAt:      time.Now().UTC(),
	}))

	found, err := dlq.FindByEventID(ctx, eventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, found.ErrorReason)

	missing, err := dlq.FindByEventID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	rows, err := dlq.List(ctx, outbox.DLQFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = dlq.List(ctx, outbox.DLQFilter{Reason: enums.OutboxDLQReasonRejected})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDLQRepositoryClipsLongErrors(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := outbox.NewDLQRepository(conn)
	aggregate := uuid.New()

	long := strings.Repeat("é", 1000)
	require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
		EventID:       uuid.New(),
		EventType:     enums.EventCreditsConsumed,
		AggregateType: enums.AggregateAccount,
		AggregateID:   aggregate,
		Payload:       datatypes.JSON(`{}`),
		ErrorReason:   enums.OutboxDLQReasonRejected,
		ErrorMessage:  &long,
		FailedAt:      time.Now().UTC(),
	}))

	rows, err := dlq.List(context.Background(), outbox.DLQFilter{AggregateID: aggregate, Reason: enums.OutboxDLQReasonRejected})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].ErrorMessage)
	assert.LessOrEqual(t, len(*rows[0].ErrorMessage), 1024)
	assert.True(t, utf8.ValidString(*rows[0].ErrorMessage))
}
