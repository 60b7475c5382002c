package enrollcore_test

import (
	"context"
	"testing"

	"github.com/nimbus-experiments/enrollment-core/internal/enrollcore"
	"github.com/nimbus-experiments/enrollment-core/internal/enrollerr"
	"github.com/nimbus-experiments/enrollment-core/internal/evolver"
	"github.com/nimbus-experiments/enrollment-core/internal/store"
	"github.com/nimbus-experiments/enrollment-core/internal/testutil"
	"github.com/nimbus-experiments/enrollment-core/pkg/types"
)

func newCore() (*enrollcore.Core, *store.MockStore) {
	st := store.NewMockStore()
	return enrollcore.New(st, testutil.NewTestLogger()), st
}

func TestEvolveEnrollsNewExperiment(t *testing.T) {
	core, _ := newCore()
	exp := testutil.FixtureExperiment()
	units := testutil.FixtureUnits()
	appCtx := testutil.FixtureAppContext("test-app")
	ev := evolver.New(units, appCtx)

	events, err := core.Evolve(context.Background(), ev, []*types.Experiment{exp})
	if err != nil {
		t.Fatalf("Evolve: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("want 1 event, got %d", len(events))
	}
	if events[0].Change != types.ChangeEnrollment {
		t.Errorf("want enrollment event, got %v", events[0].Change)
	}

	enrollments, err := core.GetEnrollments(context.Background())
	if err != nil {
		t.Fatalf("GetEnrollments: %v", err)
	}
	if len(enrollments) != 1 || enrollments[0].Slug != exp.Slug {
		t.Errorf("unexpected enrollments: %+v", enrollments)
	}
}

func TestEvolveOrphanExperimentIsInternalError(t *testing.T) {
	core, st := newCore()
	exp := testutil.FixtureExperiment()
	st.SeedExperiment(exp)
	ev := evolver.New(testutil.FixtureUnits(), testutil.FixtureAppContext("test-app"))

	_, err := core.Evolve(context.Background(), ev, nil)
	if err == nil {
		t.Fatal("want error for orphan experiment, got nil")
	}
	var internal *enrollerr.InternalError
	if !asInternalError(err, &internal) {
		t.Fatalf("want *enrollerr.InternalError, got %T: %v", err, err)
	}
}

func TestOptInWithBranch(t *testing.T) {
	core, st := newCore()
	exp := testutil.FixtureExperiment()
	st.SeedExperiment(exp)

	events, err := core.OptInWithBranch(context.Background(), exp.Slug, "treatment")
	if err != nil {
		t.Fatalf("OptInWithBranch: %v", err)
	}
	if len(events) != 1 || events[0].Change != types.ChangeEnrollment {
		t.Fatalf("unexpected events: %+v", events)
	}

	enr, ok, err := st.GetEnrollment(context.Background(), exp.Slug)
	if err != nil || !ok {
		t.Fatalf("GetEnrollment: ok=%v err=%v", ok, err)
	}
	if enr.Status.Kind != types.StatusEnrolled || enr.Status.Branch != "treatment" {
		t.Errorf("unexpected status: %+v", enr.Status)
	}
	if enr.Status.EnrolledReason != types.EnrolledReasonOptIn {
		t.Errorf("want EnrolledReasonOptIn, got %v", enr.Status.EnrolledReason)
	}
}

func TestOptInWithBranchNoSuchExperiment(t *testing.T) {
	core, _ := newCore()
	_, err := core.OptInWithBranch(context.Background(), "does-not-exist", "treatment")
	if err == nil {
		t.Fatal("want error for missing experiment")
	}
	var notFound *enrollerr.NoSuchExperimentError
	if !asNoSuchExperiment(err, &notFound) {
		t.Fatalf("want *enrollerr.NoSuchExperimentError, got %T: %v", err, err)
	}
}

func TestOptInWithBranchNoSuchBranch(t *testing.T) {
	core, st := newCore()
	exp := testutil.FixtureExperiment()
	st.SeedExperiment(exp)

	_, err := core.OptInWithBranch(context.Background(), exp.Slug, "does-not-exist")
	if err == nil {
		t.Fatal("want error for missing branch")
	}
	var notFound *enrollerr.NoSuchBranchError
	if !asNoSuchBranch(err, &notFound) {
		t.Fatalf("want *enrollerr.NoSuchBranchError, got %T: %v", err, err)
	}
}

func TestOptOut(t *testing.T) {
	core, st := newCore()
	exp := testutil.FixtureExperiment()
	st.SeedExperiment(exp)
	st.SeedEnrollment(testutil.FixtureEnrolledEnrollment(exp.Slug, "control"))

	events, err := core.OptOut(context.Background(), exp.Slug)
	if err != nil {
		t.Fatalf("OptOut: %v", err)
	}
	if len(events) != 1 || events[0].Change != types.ChangeDisqualification {
		t.Fatalf("unexpected events: %+v", events)
	}

	enr, ok, err := st.GetEnrollment(context.Background(), exp.Slug)
	if err != nil || !ok {
		t.Fatalf("GetEnrollment: ok=%v err=%v", ok, err)
	}
	if enr.Status.Kind != types.StatusDisqualified {
		t.Errorf("want Disqualified, got %v", enr.Status.Kind)
	}
	if enr.Status.DisqualifiedReason != types.DisqualifiedReasonOptOut {
		t.Errorf("want DisqualifiedReasonOptOut, got %v", enr.Status.DisqualifiedReason)
	}
}

func TestOptOutNoSuchExperiment(t *testing.T) {
	core, _ := newCore()
	_, err := core.OptOut(context.Background(), "does-not-exist")
	if err == nil {
		t.Fatal("want error for missing enrollment")
	}
	var notFound *enrollerr.NoSuchExperimentError
	if !asNoSuchExperiment(err, &notFound) {
		t.Fatalf("want *enrollerr.NoSuchExperimentError, got %T: %v", err, err)
	}
}

func TestGlobalUserParticipationRoundTrip(t *testing.T) {
	core, _ := newCore()

	participating, err := core.GetGlobalUserParticipation(context.Background())
	if err != nil {
		t.Fatalf("GetGlobalUserParticipation: %v", err)
	}
	if !participating {
		t.Fatal("want default participation true")
	}

	if err := core.SetGlobalUserParticipation(context.Background(), false); err != nil {
		t.Fatalf("SetGlobalUserParticipation: %v", err)
	}
	participating, err = core.GetGlobalUserParticipation(context.Background())
	if err != nil {
		t.Fatalf("GetGlobalUserParticipation: %v", err)
	}
	if participating {
		t.Fatal("want participation false after set")
	}
}

func TestGetEnrollmentsSkipsEnrollmentWithMissingExperiment(t *testing.T) {
	core, st := newCore()
	st.SeedEnrollment(testutil.FixtureEnrolledEnrollment("vanished-experiment", "control"))

	enrollments, err := core.GetEnrollments(context.Background())
	if err != nil {
		t.Fatalf("GetEnrollments: %v", err)
	}
	if len(enrollments) != 0 {
		t.Errorf("want enrollments for a vanished experiment to be skipped, got %+v", enrollments)
	}
}

func TestGetEnrollmentsOmitsNonEnrolledStatuses(t *testing.T) {
	core, st := newCore()
	exp := testutil.FixtureExperiment()
	st.SeedExperiment(exp)
	st.SeedEnrollment(testutil.FixtureDisqualifiedEnrollment(exp.Slug, "control"))

	enrollments, err := core.GetEnrollments(context.Background())
	if err != nil {
		t.Fatalf("GetEnrollments: %v", err)
	}
	if len(enrollments) != 0 {
		t.Errorf("want a disqualified enrollment to be omitted, got %+v", enrollments)
	}
}

func asInternalError(err error, target **enrollerr.InternalError) bool {
	if e, ok := err.(*enrollerr.InternalError); ok {
		*target = e
		return true
	}
	return false
}

func asNoSuchExperiment(err error, target **enrollerr.NoSuchExperimentError) bool {
	if e, ok := err.(*enrollerr.NoSuchExperimentError); ok {
		*target = e
		return true
	}
	return false
}

func asNoSuchBranch(err error, target **enrollerr.NoSuchBranchError) bool {
	if e, ok := err.(*enrollerr.NoSuchBranchError); ok {
		*target = e
		return true
	}
	return false
}
