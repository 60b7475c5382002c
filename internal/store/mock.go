package store

import (
	"context"
	"sync"

	"github.com/nimbus-experiments/enrollment-core/internal/enrollerr"
	"github.com/nimbus-experiments/enrollment-core/pkg/types"
)

// MockStore is an in-memory Store used by the unit tests of the enrollcore
// and store packages, standing in for a real database.
type MockStore struct {
	mu sync.Mutex

	participating bool
	experiments   map[string]*types.Experiment
	enrollments   map[string]types.ExperimentEnrollment
}

// NewMockStore returns a MockStore with the default global participation.
func NewMockStore() *MockStore {
	return &MockStore{
		participating: true,
		experiments:   make(map[string]*types.Experiment),
		enrollments:   make(map[string]types.ExperimentEnrollment),
	}
}

func (m *MockStore) GetGlobalUserParticipation(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.participating, nil
}

func (m *MockStore) SetGlobalUserParticipation(ctx context.Context, participating bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participating = participating
	return nil
}

func (m *MockStore) GetExperiment(ctx context.Context, slug string) (*types.Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.experiments[slug]
	if !ok {
		return nil, nil
	}
	cp := *exp
	return &cp, nil
}

func (m *MockStore) GetEnrollment(ctx context.Context, slug string) (types.ExperimentEnrollment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	enr, ok := m.enrollments[slug]
	return enr, ok, nil
}

func (m *MockStore) GetAllEnrollments(ctx context.Context) ([]types.ExperimentEnrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ExperimentEnrollment, 0, len(m.enrollments))
	for _, enr := range m.enrollments {
		out = append(out, enr)
	}
	return out, nil
}

func (m *MockStore) WriteEnrollment(ctx context.Context, enr types.ExperimentEnrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[enr.Slug] = enr
	return nil
}

// SeedExperiment installs an experiment directly, bypassing evolve, for
// test setup.
func (m *MockStore) SeedExperiment(exp *types.Experiment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.experiments[exp.Slug] = exp
}

// SeedEnrollment installs an enrollment directly, bypassing evolve, for
// test setup of prior state.
func (m *MockStore) SeedEnrollment(enr types.ExperimentEnrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[enr.Slug] = enr
}

func (m *MockStore) EvolveEnrollmentsInDB(
	ctx context.Context,
	updatedExperiments []*types.Experiment,
	reconcile ReconcileFunc,
) ([]types.EnrollmentChangeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	updatedByslug := make(map[string]*types.Experiment, len(updatedExperiments))
	for _, exp := range updatedExperiments {
		updatedByslug[exp.Slug] = exp
	}

	records, events, err := reconcile(m.participating, m.experiments, updatedByslug, m.enrollments)
	if err != nil {
		return nil, err
	}

	newEnrollments := make(map[string]types.ExperimentEnrollment, len(records))
	for _, rec := range records {
		newEnrollments[rec.Slug] = rec
	}

	for slug := range updatedByslug {
		if _, ok := newEnrollments[slug]; !ok {
			return nil, &enrollerr.InternalError{
				Msg: "updated experiment has no corresponding enrollment after reconcile: " + slug,
			}
		}
	}

	m.enrollments = newEnrollments
	m.experiments = updatedByslug

	return events, nil
}
