package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbus-experiments/enrollment-core/internal/config"
	"github.com/nimbus-experiments/enrollment-core/internal/enrollerr"
	"github.com/nimbus-experiments/enrollment-core/pkg/types"
)

const defaultGlobalUserParticipation = config.DefaultGlobalUserParticipation
const metaKeyGlobalUserParticipation = config.DBKeyGlobalUserParticipation

// PostgresStore is the production Store backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPostgresStoreFromURL connects to url and wraps the resulting pool.
func NewPostgresStoreFromURL(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Pool exposes the underlying connection pool, for callers that need to run
// schema migrations before any Store method is usable.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping tests database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) GetGlobalUserParticipation(ctx context.Context) (bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM meta WHERE key = $1`, metaKeyGlobalUserParticipation).Scan(&raw)
	if err == pgx.ErrNoRows {
		return defaultGlobalUserParticipation, nil
	}
	if err != nil {
		return false, &enrollerr.StoreError{Op: "get global user participation", Err: err}
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, &enrollerr.StoreError{Op: "decode global user participation", Err: err}
	}
	return v, nil
}

func (s *PostgresStore) SetGlobalUserParticipation(ctx context.Context, participating bool) error {
	raw, _ := json.Marshal(participating)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, metaKeyGlobalUserParticipation, raw)
	if err != nil {
		return &enrollerr.StoreError{Op: "set global user participation", Err: err}
	}
	return nil
}

func (s *PostgresStore) GetExperiment(ctx context.Context, slug string) (*types.Experiment, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM experiments WHERE slug = $1`, slug).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &enrollerr.StoreError{Op: "get experiment", Err: err}
	}
	var exp types.Experiment
	if err := json.Unmarshal(raw, &exp); err != nil {
		return nil, &enrollerr.StoreError{Op: "decode experiment", Err: err}
	}
	return &exp, nil
}

func (s *PostgresStore) GetEnrollment(ctx context.Context, slug string) (types.ExperimentEnrollment, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM enrollments WHERE slug = $1`, slug).Scan(&raw)
	if err == pgx.ErrNoRows {
		return types.ExperimentEnrollment{}, false, nil
	}
	if err != nil {
		return types.ExperimentEnrollment{}, false, &enrollerr.StoreError{Op: "get enrollment", Err: err}
	}
	var enr types.ExperimentEnrollment
	if err := json.Unmarshal(raw, &enr); err != nil {
		return types.ExperimentEnrollment{}, false, &enrollerr.StoreError{Op: "decode enrollment", Err: err}
	}
	return enr, true, nil
}

func (s *PostgresStore) GetAllEnrollments(ctx context.Context) ([]types.ExperimentEnrollment, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM enrollments`)
	if err != nil {
		return nil, &enrollerr.StoreError{Op: "list enrollments", Err: err}
	}
	defer rows.Close()

	var out []types.ExperimentEnrollment
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, &enrollerr.StoreError{Op: "scan enrollment", Err: err}
		}
		var enr types.ExperimentEnrollment
		if err := json.Unmarshal(raw, &enr); err != nil {
			return nil, &enrollerr.StoreError{Op: "decode enrollment", Err: err}
		}
		out = append(out, enr)
	}
	if err := rows.Err(); err != nil {
		return nil, &enrollerr.StoreError{Op: "list enrollments", Err: err}
	}
	return out, nil
}

func (s *PostgresStore) WriteEnrollment(ctx context.Context, enr types.ExperimentEnrollment) error {
	raw, err := json.Marshal(enr)
	if err != nil {
		return &enrollerr.StoreError{Op: "encode enrollment", Err: err}
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO enrollments (slug, data) VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, enr.Slug, raw)
	if err != nil {
		return &enrollerr.StoreError{Op: "write enrollment", Err: err}
	}
	return nil
}

// EvolveEnrollmentsInDB runs the full evolve transaction: read
// participation/experiments/enrollments, reconcile, clear-then-rewrite
// both sub-stores, verify every updated experiment produced a record,
// commit.
func (s *PostgresStore) EvolveEnrollmentsInDB(
	ctx context.Context,
	updatedExperiments []*types.Experiment,
	reconcile ReconcileFunc,
) ([]types.EnrollmentChangeEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &enrollerr.StoreError{Op: "begin evolve transaction", Err: err}
	}
	defer tx.Rollback(ctx)

	participating, err := txGetGlobalUserParticipation(ctx, tx)
	if err != nil {
		return nil, err
	}

	existingExperiments, err := txGetAllExperiments(ctx, tx)
	if err != nil {
		return nil, err
	}

	existingEnrollments, err := txGetAllEnrollments(ctx, tx)
	if err != nil {
		return nil, err
	}

	updatedByslug := make(map[string]*types.Experiment, len(updatedExperiments))
	for _, exp := range updatedExperiments {
		updatedByslug[exp.Slug] = exp
	}

	records, events, err := reconcile(participating, existingExperiments, updatedByslug, existingEnrollments)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM enrollments`); err != nil {
		return nil, &enrollerr.StoreError{Op: "clear enrollments", Err: err}
	}
	recordedSlugs := make(map[string]struct{}, len(records))
	for _, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, &enrollerr.StoreError{Op: "encode enrollment", Err: err}
		}
		if _, err := tx.Exec(ctx, `INSERT INTO enrollments (slug, data) VALUES ($1, $2)`, rec.Slug, raw); err != nil {
			return nil, &enrollerr.StoreError{Op: "write enrollment", Err: err}
		}
		recordedSlugs[rec.Slug] = struct{}{}
	}

	for slug := range updatedByslug {
		if _, ok := recordedSlugs[slug]; !ok {
			return nil, &enrollerr.InternalError{
				Msg: "updated experiment has no corresponding enrollment after reconcile: " + slug,
			}
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM experiments`); err != nil {
		return nil, &enrollerr.StoreError{Op: "clear experiments", Err: err}
	}
	for _, exp := range updatedExperiments {
		raw, err := json.Marshal(exp)
		if err != nil {
			return nil, &enrollerr.StoreError{Op: "encode experiment", Err: err}
		}
		if _, err := tx.Exec(ctx, `INSERT INTO experiments (slug, data) VALUES ($1, $2)`, exp.Slug, raw); err != nil {
			return nil, &enrollerr.StoreError{Op: "write experiment", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &enrollerr.StoreError{Op: "commit evolve transaction", Err: err}
	}

	return events, nil
}

func txGetGlobalUserParticipation(ctx context.Context, tx pgx.Tx) (bool, error) {
	var raw []byte
	err := tx.QueryRow(ctx, `SELECT value FROM meta WHERE key = $1`, metaKeyGlobalUserParticipation).Scan(&raw)
	if err == pgx.ErrNoRows {
		return defaultGlobalUserParticipation, nil
	}
	if err != nil {
		return false, &enrollerr.StoreError{Op: "get global user participation", Err: err}
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, &enrollerr.StoreError{Op: "decode global user participation", Err: err}
	}
	return v, nil
}

func txGetAllExperiments(ctx context.Context, tx pgx.Tx) (map[string]*types.Experiment, error) {
	rows, err := tx.Query(ctx, `SELECT slug, data FROM experiments`)
	if err != nil {
		return nil, &enrollerr.StoreError{Op: "list experiments", Err: err}
	}
	defer rows.Close()

	out := make(map[string]*types.Experiment)
	for rows.Next() {
		var slug string
		var raw []byte
		if err := rows.Scan(&slug, &raw); err != nil {
			return nil, &enrollerr.StoreError{Op: "scan experiment", Err: err}
		}
		var exp types.Experiment
		if err := json.Unmarshal(raw, &exp); err != nil {
			return nil, &enrollerr.StoreError{Op: "decode experiment", Err: err}
		}
		out[slug] = &exp
	}
	if err := rows.Err(); err != nil {
		return nil, &enrollerr.StoreError{Op: "list experiments", Err: err}
	}
	return out, nil
}

func txGetAllEnrollments(ctx context.Context, tx pgx.Tx) (map[string]types.ExperimentEnrollment, error) {
	rows, err := tx.Query(ctx, `SELECT slug, data FROM enrollments`)
	if err != nil {
		return nil, &enrollerr.StoreError{Op: "list enrollments", Err: err}
	}
	defer rows.Close()

	out := make(map[string]types.ExperimentEnrollment)
	for rows.Next() {
		var slug string
		var raw []byte
		if err := rows.Scan(&slug, &raw); err != nil {
			return nil, &enrollerr.StoreError{Op: "scan enrollment", Err: err}
		}
		var enr types.ExperimentEnrollment
		if err := json.Unmarshal(raw, &enr); err != nil {
			return nil, &enrollerr.StoreError{Op: "decode enrollment", Err: err}
		}
		out[slug] = enr
	}
	if err := rows.Err(); err != nil {
		return nil, &enrollerr.StoreError{Op: "list enrollments", Err: err}
	}
	return out, nil
}
