// Package store provides the persistence driver: a transactional store over
// three named sub-stores (Experiments, Enrollments, Meta) plus the
// single-transaction evolve operation built on top of it. Opt-in and
// opt-out are not a Store operation: internal/enrollcore runs them as a
// separate read (GetExperiment or GetEnrollment) followed by WriteEnrollment,
// not inside one transaction.
//
// # Design
//
// This uses raw SQL with pgx rather than an ORM; the evolve transaction
// follows a Begin/defer-Rollback/Exec.../Commit shape throughout.
package store

import (
	"context"

	"github.com/nimbus-experiments/enrollment-core/pkg/types"
)

// Store is the interface the evolver's persistence driver and opt-in/opt-out
// API depend on. PostgresStore is the production implementation; MockStore
// (in mock.go) backs unit tests without a real database via the same
// injected-interface pattern.
type Store interface {
	// GetGlobalUserParticipation reads the meta-store participation flag,
	// defaulting to config.DefaultGlobalUserParticipation if unset.
	GetGlobalUserParticipation(ctx context.Context) (bool, error)

	// SetGlobalUserParticipation writes the meta-store participation flag.
	SetGlobalUserParticipation(ctx context.Context, participating bool) error

	// GetExperiment reads one experiment by slug, nil if absent.
	GetExperiment(ctx context.Context, slug string) (*types.Experiment, error)

	// GetEnrollment reads one enrollment by slug, ok=false if absent.
	GetEnrollment(ctx context.Context, slug string) (types.ExperimentEnrollment, bool, error)

	// GetAllEnrollments reads every enrollment record.
	GetAllEnrollments(ctx context.Context) ([]types.ExperimentEnrollment, error)

	// EvolveEnrollmentsInDB performs the full evolve transaction: read
	// participation/experiments/enrollments, invoke reconcile, rewrite both
	// sub-stores, commit. reconcile is supplied by the caller (the
	// evolver) so this package stays free of an import on internal/evolver.
	EvolveEnrollmentsInDB(
		ctx context.Context,
		updatedExperiments []*types.Experiment,
		reconcile ReconcileFunc,
	) ([]types.EnrollmentChangeEvent, error)

	// WriteEnrollment persists a single enrollment record outside of the
	// evolve transaction, used by the opt-in/opt-out API.
	WriteEnrollment(ctx context.Context, enr types.ExperimentEnrollment) error
}

// ReconcileFunc is the shape of Evolver.Reconcile, injected so store stays
// decoupled from the evolver package, avoiding an import cycle and keeping
// the persistence driver ignorant of reconciliation logic.
type ReconcileFunc func(
	isUserParticipating bool,
	existingExperiments map[string]*types.Experiment,
	updatedExperiments map[string]*types.Experiment,
	existingEnrollments map[string]types.ExperimentEnrollment,
) ([]types.ExperimentEnrollment, []types.EnrollmentChangeEvent, error)
