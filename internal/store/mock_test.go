package store_test

import (
	"context"
	"testing"

	"github.com/nimbus-experiments/enrollment-core/internal/enrollerr"
	"github.com/nimbus-experiments/enrollment-core/internal/evolver"
	"github.com/nimbus-experiments/enrollment-core/internal/store"
	"github.com/nimbus-experiments/enrollment-core/internal/testutil"
	"github.com/nimbus-experiments/enrollment-core/pkg/types"
)

func TestMockStore_EvolveEnrollmentsInDB_NewExperiment(t *testing.T) {
	ms := store.NewMockStore()
	ev := evolver.New(testutil.FixtureUnits(), types.AppContext{})
	exp := testutil.FixtureExperiment(func(e *types.Experiment) { e.Slug = "exp-a" })

	events, err := ms.EvolveEnrollmentsInDB(context.Background(), []*types.Experiment{exp}, ev.Reconcile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one enrollment event, got %v", events)
	}

	enr, ok, err := ms.GetEnrollment(context.Background(), "exp-a")
	if err != nil || !ok {
		t.Fatalf("expected an enrollment record to have been written, err=%v ok=%v", err, ok)
	}
	if enr.Status.Kind != types.StatusEnrolled {
		t.Fatalf("expected Enrolled given a full bucket window, got %v", enr.Status.Kind)
	}
}

func TestMockStore_EvolveEnrollmentsInDB_GlobalOptOutThenOptInAgain(t *testing.T) {
	ms := store.NewMockStore()
	ev := evolver.New(testutil.FixtureUnits(), types.AppContext{})
	exp := testutil.FixtureExperiment(func(e *types.Experiment) { e.Slug = "exp-a" })

	if _, err := ms.EvolveEnrollmentsInDB(context.Background(), []*types.Experiment{exp}, ev.Reconcile); err != nil {
		t.Fatalf("unexpected error on first evolve: %v", err)
	}

	if err := ms.SetGlobalUserParticipation(context.Background(), false); err != nil {
		t.Fatalf("unexpected error setting participation: %v", err)
	}
	if _, err := ms.EvolveEnrollmentsInDB(context.Background(), []*types.Experiment{exp}, ev.Reconcile); err != nil {
		t.Fatalf("unexpected error on opt-out evolve: %v", err)
	}
	enr, _, _ := ms.GetEnrollment(context.Background(), "exp-a")
	if enr.Status.Kind != types.StatusDisqualified {
		t.Fatalf("expected Disqualified after global opt-out, got %v", enr.Status.Kind)
	}

	if err := ms.SetGlobalUserParticipation(context.Background(), true); err != nil {
		t.Fatalf("unexpected error restoring participation: %v", err)
	}
	if _, err := ms.EvolveEnrollmentsInDB(context.Background(), []*types.Experiment{exp}, ev.Reconcile); err != nil {
		t.Fatalf("unexpected error on opt-in evolve: %v", err)
	}
	enr, _, _ = ms.GetEnrollment(context.Background(), "exp-a")
	if enr.Status.Kind != types.StatusDisqualified {
		t.Fatalf("a previously disqualified user must not be silently re-enrolled, got %v", enr.Status.Kind)
	}
}

func TestMockStore_EvolveEnrollmentsInDB_ExperimentRemovalCollectsAfterThreshold(t *testing.T) {
	ms := store.NewMockStore()
	exp := testutil.FixtureExperiment(func(e *types.Experiment) { e.Slug = "exp-a" })
	if _, err := ms.EvolveEnrollmentsInDB(context.Background(), []*types.Experiment{exp}, evolver.New(testutil.FixtureUnits(), types.AppContext{}).Reconcile); err != nil {
		t.Fatalf("unexpected error enrolling: %v", err)
	}

	endedEv := &evolver.Evolver{
		Units:              testutil.FixtureUnits(),
		AppContext:         types.AppContext{},
		Clock:              testutil.FixedClock{T: 1000},
		GCThresholdSeconds: 30 * 24 * 60 * 60,
	}
	if _, err := ms.EvolveEnrollmentsInDB(context.Background(), nil, endedEv.Reconcile); err != nil {
		t.Fatalf("unexpected error ending the experiment: %v", err)
	}
	enr, ok, _ := ms.GetEnrollment(context.Background(), "exp-a")
	if !ok || enr.Status.Kind != types.StatusWasEnrolled {
		t.Fatalf("expected a WasEnrolled record after removal, got ok=%v kind=%v", ok, enr.Status.Kind)
	}

	gcEv := &evolver.Evolver{
		Units:              testutil.FixtureUnits(),
		AppContext:         types.AppContext{},
		Clock:              testutil.FixedClock{T: 1000 + 30*24*60*60},
		GCThresholdSeconds: 30 * 24 * 60 * 60,
	}
	if _, err := ms.EvolveEnrollmentsInDB(context.Background(), nil, gcEv.Reconcile); err != nil {
		t.Fatalf("unexpected error collecting: %v", err)
	}
	_, ok, _ = ms.GetEnrollment(context.Background(), "exp-a")
	if ok {
		t.Fatal("expected the aged-out WasEnrolled record to be collected")
	}
}

func TestMockStore_EvolveEnrollmentsInDB_OrphanExperimentIsRejected(t *testing.T) {
	ms := store.NewMockStore()
	exp := testutil.FixtureExperiment(func(e *types.Experiment) { e.Slug = "exp-a" })
	ms.SeedExperiment(exp)

	reconcile := func(
		isUserParticipating bool,
		existingExperiments map[string]*types.Experiment,
		updatedExperiments map[string]*types.Experiment,
		existingEnrollments map[string]types.ExperimentEnrollment,
	) ([]types.ExperimentEnrollment, []types.EnrollmentChangeEvent, error) {
		return nil, nil, nil
	}

	_, err := ms.EvolveEnrollmentsInDB(context.Background(), []*types.Experiment{exp}, reconcile)
	if err == nil {
		t.Fatal("expected the invariant check to reject a reconcile that drops an updated experiment's enrollment")
	}
	if _, ok := err.(*enrollerr.InternalError); !ok {
		t.Fatalf("expected *enrollerr.InternalError, got %T", err)
	}
}
