package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/infrastructure/clients/sqlite"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
)

func TestCaseAuditAdapter_SaveAndGet(t *testing.T) {
	client, err := sqlite.NewClient(":memory:", true)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, EnsureSchema(ctx, client.DB(), DialectSQLite))
	adapter := NewCaseAuditAdapter(client.DB(), DialectSQLite)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	record := entities.NewCaseRecord("run-1", entities.RunRequest{
		Patient: entities.PatientInput{PatientID: "p-1", InfectionSite: "urinary"},
	}, now)
	record.State = entities.StateFailed
	record.Failure = &entities.FailureReason{Type: string(apperrors.ErrorTypeNoBackendAvailable), Stage: entities.StateEmpirical}
	require.NoError(t, adapter.Save(ctx, record))

	// Upsert overwrites the earlier row
	done := now.Add(time.Minute)
	record.State = entities.StateDone
	record.Failure = nil
	record.CompletedAt = &done
	require.NoError(t, adapter.Save(ctx, record))

	got, err := adapter.GetByRunID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, entities.StateDone, got.State)
	assert.Nil(t, got.Failure)
	assert.Equal(t, "p-1", got.Patient.PatientID)

	_, err = adapter.GetByRunID(ctx, "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeNotFound))
}
