package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
	"github.com/zatekoja/amrguard/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
)

// ReferenceAdapter implements ReferenceRepository over Postgres or SQLite.
// Every query is scoped to the active snapshot version, which is swapped
// atomically by Refresh.
type ReferenceAdapter struct {
	raw     *sql.DB
	db      *goqu.Database
	dialect string
	version atomic.Pointer[string]
	metrics *observability.Metrics
}

// NewReferenceAdapter creates a reference adapter for the given goqu dialect
func NewReferenceAdapter(db *sql.DB, dialect string, metrics *observability.Metrics) *ReferenceAdapter {
	a := &ReferenceAdapter{
		raw:     db,
		db:      goqu.New(dialect, db),
		dialect: dialect,
		metrics: metrics,
	}
	empty := ""
	a.version.Store(&empty)
	return a
}

// SnapshotVersion returns the active snapshot version
func (a *ReferenceAdapter) SnapshotVersion() string {
	return *a.version.Load()
}

// Refresh loads the most recently activated snapshot version and swaps it
// in. It reports whether the active version changed.
func (a *ReferenceAdapter) Refresh(ctx context.Context) (string, bool, error) {
	query, args, err := a.db.From(tableSnapshots).
		Select("version").
		Order(goqu.C("activated_at").Desc(), goqu.C("version").Desc()).
		Limit(1).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", false, apperrors.NewInternalError("failed to build snapshot query", err)
	}

	var latest string
	err = a.raw.QueryRowContext(ctx, query, args...).Scan(&latest)
	if err == sql.ErrNoRows {
		return a.SnapshotVersion(), false, apperrors.NewNotFoundError("no reference snapshot has been published")
	}
	if err != nil {
		return "", false, apperrors.NewInternalError("failed to read reference snapshot version", err)
	}

	previous := a.version.Swap(&latest)
	return latest, *previous != latest, nil
}

func (a *ReferenceAdapter) activeVersion() (string, error) {
	v := a.SnapshotVersion()
	if v == "" {
		return "", apperrors.NewInternalError("no active reference snapshot", nil)
	}
	return v, nil
}

// containsFold matches a column case-insensitively on a substring
func containsFold(column, value string) exp.BooleanExpression {
	return goqu.Func("LOWER", goqu.C(column)).Like("%" + strings.ToLower(strings.TrimSpace(value)) + "%")
}

func tierOrder() exp.OrderedExpression {
	return goqu.Case().
		Value(goqu.Func("UPPER", goqu.C("who_category"))).
		When(string(entities.TierAccess), 0).
		When(string(entities.TierWatch), 1).
		When(string(entities.TierReserve), 2).
		Else(3).
		Asc()
}

var antibioticColumns = []interface{}{
	"id", "medicine_name", "who_category", "eml_section", "formulations",
	"indication", "atc_codes", "combined_with", "status", "year",
}

// FindAntibiotics returns classification rows ordered ACCESS, WATCH, RESERVE then year descending
func (a *ReferenceAdapter) FindAntibiotics(ctx context.Context, filter repositories.AntibioticFilter) ([]*entities.Antibiotic, error) {
	version, err := a.activeVersion()
	if err != nil {
		return nil, err
	}

	ds := a.db.From(tableAntibiotics).
		Select(antibioticColumns...).
		Where(goqu.C("snapshot_version").Eq(version))
	if filter.Name != "" {
		ds = ds.Where(containsFold("medicine_name", filter.Name))
	}
	if filter.Tier != "" {
		ds = ds.Where(goqu.Func("UPPER", goqu.C("who_category")).Eq(strings.ToUpper(string(filter.Tier))))
	}
	ds = ds.Order(tierOrder(), goqu.C("year").Desc(), goqu.C("medicine_name").Asc())
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}

	return a.queryAntibiotics(ctx, ds)
}

// FindAntibioticsByNames resolves several names in one query
func (a *ReferenceAdapter) FindAntibioticsByNames(ctx context.Context, names []string) (map[string][]*entities.Antibiotic, error) {
	out := make(map[string][]*entities.Antibiotic, len(names))
	if len(names) == 0 {
		return out, nil
	}
	version, err := a.activeVersion()
	if err != nil {
		return nil, err
	}

	conditions := make([]exp.Expression, 0, len(names))
	for _, name := range names {
		conditions = append(conditions, containsFold("medicine_name", name))
	}

	ds := a.db.From(tableAntibiotics).
		Select(antibioticColumns...).
		Where(goqu.C("snapshot_version").Eq(version), goqu.Or(conditions...)).
		Order(tierOrder(), goqu.C("year").Desc(), goqu.C("medicine_name").Asc())

	rows, err := a.queryAntibiotics(ctx, ds)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		needle := strings.ToLower(strings.TrimSpace(name))
		matched := []*entities.Antibiotic{}
		for _, row := range rows {
			if strings.Contains(strings.ToLower(row.MedicineName), needle) {
				matched = append(matched, row)
			}
		}
		out[name] = matched
	}
	return out, nil
}

func (a *ReferenceAdapter) queryAntibiotics(ctx context.Context, ds *goqu.SelectDataset) ([]*entities.Antibiotic, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build antibiotic query", err)
	}

	start := time.Now()
	defer func() { observability.RecordDBMetric(ctx, a.metrics, "find_antibiotics", time.Since(start)) }()

	rows, err := a.raw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to query antibiotics", err)
	}
	defer rows.Close()

	results := []*entities.Antibiotic{}
	for rows.Next() {
		ab := &entities.Antibiotic{}
		var section, indication, combined, status sql.NullString
		var year sql.NullInt64
		if err := rows.Scan(
			&ab.ID,
			&ab.MedicineName,
			&ab.Tier,
			&section,
			listColumn{dst: &ab.Formulations, dialect: a.dialect},
			&indication,
			listColumn{dst: &ab.ATCCodes, dialect: a.dialect},
			&combined,
			&status,
			&year,
		); err != nil {
			return nil, apperrors.NewInternalError("failed to scan antibiotic", err)
		}
		ab.Tier = entities.StewardshipTier(strings.ToUpper(string(ab.Tier)))
		ab.EMLSection = section.String
		ab.Indication = indication.String
		ab.CombinedWith = combined.String
		ab.Status = status.String
		ab.Year = int(year.Int64)
		results = append(results, ab)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate antibiotics", err)
	}
	return results, nil
}

// FindSusceptibility returns surveillance rows ordered by year descending then percent susceptible descending
func (a *ReferenceAdapter) FindSusceptibility(ctx context.Context, filter repositories.SusceptibilityFilter) ([]*entities.SusceptibilityRate, error) {
	version, err := a.activeVersion()
	if err != nil {
		return nil, err
	}

	ds := a.db.From(tableSusceptibility).
		Select("id", "species", "family", "antibiotic", "percent_susceptible", "percent_intermediate",
			"percent_resistant", "total_isolates", "year", "region").
		Where(goqu.C("snapshot_version").Eq(version))
	if filter.Species != "" {
		ds = ds.Where(containsFold("species", filter.Species))
	}
	if filter.Antibiotic != "" {
		ds = ds.Where(containsFold("antibiotic", filter.Antibiotic))
	}
	if filter.Region != "" {
		ds = ds.Where(containsFold("region", filter.Region))
	}
	if filter.MinYear > 0 {
		ds = ds.Where(goqu.C("year").Gte(filter.MinYear))
	}
	ds = ds.Order(goqu.C("year").Desc(), goqu.C("percent_susceptible").Desc())
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build susceptibility query", err)
	}

	start := time.Now()
	defer func() { observability.RecordDBMetric(ctx, a.metrics, "find_susceptibility", time.Since(start)) }()

	rows, err := a.raw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to query susceptibility", err)
	}
	defer rows.Close()

	results := []*entities.SusceptibilityRate{}
	for rows.Next() {
		r := &entities.SusceptibilityRate{}
		var family, region sql.NullString
		var pctS, pctI, pctR sql.NullFloat64
		var total, year sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Species, &family, &r.Antibiotic, &pctS, &pctI, &pctR, &total, &year, &region); err != nil {
			return nil, apperrors.NewInternalError("failed to scan susceptibility", err)
		}
		r.Family = family.String
		r.Region = region.String
		r.PercentSusceptible = pctS.Float64
		r.PercentIntermediate = pctI.Float64
		r.PercentResistant = pctR.Float64
		r.TotalIsolates = int(total.Int64)
		r.Year = int(year.Int64)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate susceptibility", err)
	}
	return results, nil
}

// FindBreakpoints returns breakpoint rows for a pathogen group and antibiotic, newest first
func (a *ReferenceAdapter) FindBreakpoints(ctx context.Context, pathogen, antibiotic string) ([]*entities.Breakpoint, error) {
	version, err := a.activeVersion()
	if err != nil {
		return nil, err
	}

	ds := a.db.From(tableBreakpoints).
		Select("id", "pathogen_group", "antibiotic", "mic_susceptible", "mic_resistant", "route", "notes", "year").
		Where(
			goqu.C("snapshot_version").Eq(version),
			containsFold("pathogen_group", pathogen),
			containsFold("antibiotic", antibiotic),
		).
		Order(goqu.C("year").Desc(), goqu.C("antibiotic").Asc())

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build breakpoint query", err)
	}

	start := time.Now()
	defer func() { observability.RecordDBMetric(ctx, a.metrics, "find_breakpoints", time.Since(start)) }()

	rows, err := a.raw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to query breakpoints", err)
	}
	defer rows.Close()

	results := []*entities.Breakpoint{}
	for rows.Next() {
		bp := &entities.Breakpoint{}
		var s, r sql.NullFloat64
		var route, notes sql.NullString
		var year sql.NullInt64
		if err := rows.Scan(&bp.ID, &bp.PathogenGroup, &bp.Antibiotic, &s, &r, &route, &notes, &year); err != nil {
			return nil, apperrors.NewInternalError("failed to scan breakpoint", err)
		}
		if s.Valid {
			bp.MICSusceptible = &s.Float64
		}
		if r.Valid {
			bp.MICResistant = &r.Float64
		}
		bp.Route = route.String
		bp.Notes = notes.String
		bp.Year = int(year.Int64)
		results = append(results, bp)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate breakpoints", err)
	}
	return results, nil
}

// FindInteractions matches the pair in either column order
func (a *ReferenceAdapter) FindInteractions(ctx context.Context, drugA, drugB string) ([]*entities.DrugInteraction, error) {
	version, err := a.activeVersion()
	if err != nil {
		return nil, err
	}

	ds := a.db.From(tableInteractions).
		Select("id", "drug_1", "drug_2", "interaction_description", "severity").
		Where(
			goqu.C("snapshot_version").Eq(version),
			goqu.Or(
				goqu.And(containsFold("drug_1", drugA), containsFold("drug_2", drugB)),
				goqu.And(containsFold("drug_1", drugB), containsFold("drug_2", drugA)),
			),
		).
		Order(goqu.C("id").Asc())

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build interaction query", err)
	}

	start := time.Now()
	defer func() { observability.RecordDBMetric(ctx, a.metrics, "find_interactions", time.Since(start)) }()

	rows, err := a.raw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to query interactions", err)
	}
	defer rows.Close()

	results := []*entities.DrugInteraction{}
	for rows.Next() {
		di := &entities.DrugInteraction{}
		var desc, severity sql.NullString
		if err := rows.Scan(&di.ID, &di.Drug1, &di.Drug2, &desc, &severity); err != nil {
			return nil, apperrors.NewInternalError("failed to scan interaction", err)
		}
		di.Description = desc.String
		di.Severity = entities.InteractionSeverity(strings.ToLower(severity.String))
		results = append(results, di)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate interactions", err)
	}
	return results, nil
}

// FindDosageRules returns rows for the renal category first, then rows for any renal category
func (a *ReferenceAdapter) FindDosageRules(ctx context.Context, antibiotic string, renal entities.RenalCategory) ([]*entities.DosageRule, error) {
	version, err := a.activeVersion()
	if err != nil {
		return nil, err
	}

	ds := a.db.From(tableDosageRules).
		Select("id", "antibiotic", "indication", "renal_category", "dose", "route", "frequency", "duration", "source").
		Where(
			goqu.C("snapshot_version").Eq(version),
			containsFold("antibiotic", antibiotic),
			goqu.C("renal_category").In(string(renal), string(entities.RenalAny)),
		).
		Order(
			goqu.Case().Value(goqu.C("renal_category")).When(string(renal), 0).Else(1).Asc(),
			goqu.C("id").Asc(),
		)

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build dosage query", err)
	}

	start := time.Now()
	defer func() { observability.RecordDBMetric(ctx, a.metrics, "find_dosage_rules", time.Since(start)) }()

	rows, err := a.raw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to query dosage rules", err)
	}
	defer rows.Close()

	results := []*entities.DosageRule{}
	for rows.Next() {
		d := &entities.DosageRule{}
		var indication, source sql.NullString
		if err := rows.Scan(&d.ID, &d.Antibiotic, &indication, &d.RenalCategory, &d.Dose, &d.Route, &d.Frequency, &d.Duration, &source); err != nil {
			return nil, apperrors.NewInternalError("failed to scan dosage rule", err)
		}
		d.Indication = indication.String
		d.Source = source.String
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate dosage rules", err)
	}
	return results, nil
}

// PublishSnapshot writes every table of the snapshot under its version and
// activates it, all in one transaction. Readers keep using the previous
// version until the next Refresh.
func (a *ReferenceAdapter) PublishSnapshot(ctx context.Context, snap *entities.ReferenceSnapshot) error {
	if snap == nil || snap.Version == "" {
		return apperrors.NewValidationError("snapshot version is required")
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewInternalError("failed to begin snapshot transaction", err)
	}

	batches := a.snapshotRows(snap)
	batches = append(batches, tableRows{
		table: tableSnapshots,
		rows: []interface{}{goqu.Record{
			"version":      snap.Version,
			"activated_at": time.Now().UTC(),
		}},
	})

	err = tx.Wrap(func() error {
		for _, b := range batches {
			if len(b.rows) == 0 {
				continue
			}
			if _, err := tx.Insert(b.table).Rows(b.rows...).Prepared(true).Executor().ExecContext(ctx); err != nil {
				return fmt.Errorf("insert into %s: %w", b.table, err)
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.NewInternalError(fmt.Sprintf("failed to publish snapshot %s", snap.Version), err)
	}
	return nil
}

type tableRows struct {
	table string
	rows  []interface{}
}

func (a *ReferenceAdapter) snapshotRows(snap *entities.ReferenceSnapshot) []tableRows {
	v := snap.Version

	antibiotics := tableRows{table: tableAntibiotics}
	for _, ab := range snap.Antibiotics {
		antibiotics.rows = append(antibiotics.rows, goqu.Record{
			"snapshot_version": v,
			"medicine_name":    ab.MedicineName,
			"who_category":     strings.ToUpper(string(ab.Tier)),
			"eml_section":      ab.EMLSection,
			"formulations":     listValue(ab.Formulations, a.dialect),
			"indication":       ab.Indication,
			"atc_codes":        listValue(ab.ATCCodes, a.dialect),
			"combined_with":    ab.CombinedWith,
			"status":           ab.Status,
			"year":             ab.Year,
		})
	}

	susceptibility := tableRows{table: tableSusceptibility}
	for _, r := range snap.Susceptibility {
		susceptibility.rows = append(susceptibility.rows, goqu.Record{
			"snapshot_version":     v,
			"species":              r.Species,
			"family":               r.Family,
			"antibiotic":           r.Antibiotic,
			"percent_susceptible":  r.PercentSusceptible,
			"percent_intermediate": r.PercentIntermediate,
			"percent_resistant":    r.PercentResistant,
			"total_isolates":       r.TotalIsolates,
			"year":                 r.Year,
			"region":               r.Region,
		})
	}

	breakpoints := tableRows{table: tableBreakpoints}
	for _, bp := range snap.Breakpoints {
		breakpoints.rows = append(breakpoints.rows, goqu.Record{
			"snapshot_version": v,
			"pathogen_group":   bp.PathogenGroup,
			"antibiotic":       bp.Antibiotic,
			"mic_susceptible":  nullFloat(bp.MICSusceptible),
			"mic_resistant":    nullFloat(bp.MICResistant),
			"route":            bp.Route,
			"notes":            bp.Notes,
			"year":             bp.Year,
		})
	}

	interactions := tableRows{table: tableInteractions}
	for _, di := range snap.Interactions {
		interactions.rows = append(interactions.rows, goqu.Record{
			"snapshot_version":        v,
			"drug_1":                  di.Drug1,
			"drug_2":                  di.Drug2,
			"interaction_description": di.Description,
			"severity":                strings.ToLower(string(di.Severity)),
		})
	}

	dosage := tableRows{table: tableDosageRules}
	for _, d := range snap.DosageRules {
		dosage.rows = append(dosage.rows, goqu.Record{
			"snapshot_version": v,
			"antibiotic":       d.Antibiotic,
			"indication":       d.Indication,
			"renal_category":   string(d.RenalCategory),
			"dose":             d.Dose,
			"route":            d.Route,
			"frequency":        d.Frequency,
			"duration":         d.Duration,
			"source":           d.Source,
		})
	}

	return []tableRows{antibiotics, susceptibility, breakpoints, interactions, dosage}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
