package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
)

// CaseAuditAdapter implements CaseAuditRepository
type CaseAuditAdapter struct {
	raw *sql.DB
	db  *goqu.Database
}

// NewCaseAuditAdapter creates a new case audit adapter
func NewCaseAuditAdapter(db *sql.DB, dialect string) repositories.CaseAuditRepository {
	return &CaseAuditAdapter{
		raw: db,
		db:  goqu.New(dialect, db),
	}
}

// Save upserts the terminal case record
func (a *CaseAuditAdapter) Save(ctx context.Context, record *entities.CaseRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal case record", err)
	}

	var failureType sql.NullString
	if record.Failure != nil {
		failureType = sql.NullString{String: record.Failure.Type, Valid: true}
	}
	var completedAt sql.NullTime
	if record.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *record.CompletedAt, Valid: true}
	}

	row := goqu.Record{
		"run_id":       record.RunID,
		"patient_id":   record.Patient.PatientID,
		"state":        string(record.State),
		"failure_type": failureType,
		"record":       string(data),
		"created_at":   record.CreatedAt,
		"completed_at": completedAt,
	}

	query, args, err := a.db.Insert(tableCaseAudit).
		Rows(row).
		OnConflict(goqu.DoUpdate("run_id", goqu.Record{
			"state":        string(record.State),
			"failure_type": failureType,
			"record":       string(data),
			"completed_at": completedAt,
		})).
		Prepared(true).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build audit insert", err)
	}

	if _, err := a.raw.ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to save case record", err)
	}
	return nil
}

// GetByRunID loads an audited case record
func (a *CaseAuditAdapter) GetByRunID(ctx context.Context, runID string) (*entities.CaseRecord, error) {
	query, args, err := a.db.From(tableCaseAudit).
		Select("record").
		Where(goqu.C("run_id").Eq(runID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build audit query", err)
	}

	var data []byte
	err = a.raw.QueryRowContext(ctx, query, args...).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("case record %s not found", runID))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get case record", err)
	}

	var record entities.CaseRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, apperrors.NewInternalError("failed to decode case record", err)
	}
	return &record, nil
}
