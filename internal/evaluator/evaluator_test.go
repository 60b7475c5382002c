package evaluator

import (
	"testing"

	"github.com/google/uuid"

	"github.com/nimbus-experiments/enrollment-core/internal/testutil"
	"github.com/nimbus-experiments/enrollment-core/pkg/types"
)

func TestEvaluate_NotTargeted(t *testing.T) {
	appID := "other-app"
	exp := testutil.FixtureExperimentTargeted(appID)
	units := testutil.FixtureUnits()

	v := Evaluate(units, types.AppContext{AppID: "this-app"}, exp)

	if !v.NotEnrolled || v.Reason != types.NotEnrolledReasonNotTargeted {
		t.Fatalf("expected NotTargeted, got %+v", v)
	}
}

func TestEvaluate_UnavailableRandomizationUnit(t *testing.T) {
	exp := testutil.FixtureExperiment(func(e *types.Experiment) {
		e.BucketConfig.RandomizationUnit = "user_id"
	})
	units := types.AvailableRandomizationUnits{NimbusID: uuid.New()}

	v := Evaluate(units, types.AppContext{}, exp)

	if v.Err == nil {
		t.Fatal("expected an EvaluatorError when the randomization unit is unavailable")
	}
}

func TestEvaluate_FullWindowEnrolls(t *testing.T) {
	exp := testutil.FixtureExperiment(func(e *types.Experiment) {
		e.BucketConfig = types.BucketConfig{RandomizationUnit: "nimbus_id", Namespace: "ns", Start: 0, Count: 10000, Total: 10000}
	})
	units := testutil.FixtureUnits()

	v := Evaluate(units, types.AppContext{}, exp)

	if !v.Enrolled {
		t.Fatalf("expected enrollment with a window covering the whole space, got %+v", v)
	}
	if v.Branch != "control" && v.Branch != "treatment" {
		t.Fatalf("expected one of the configured branches, got %q", v.Branch)
	}
}

func TestEvaluate_EmptyWindowNotSelected(t *testing.T) {
	exp := testutil.FixtureExperiment(func(e *types.Experiment) {
		e.BucketConfig = types.BucketConfig{RandomizationUnit: "nimbus_id", Namespace: "ns", Start: 0, Count: 0, Total: 10000}
	})
	units := testutil.FixtureUnits()

	v := Evaluate(units, types.AppContext{}, exp)

	if !v.NotEnrolled || v.Reason != types.NotEnrolledReasonNotSelected {
		t.Fatalf("expected NotSelected given an empty window, got %+v", v)
	}
}

func TestEvaluate_DeterministicAcrossCalls(t *testing.T) {
	exp := testutil.FixtureExperiment(func(e *types.Experiment) {
		e.BucketConfig = types.BucketConfig{RandomizationUnit: "nimbus_id", Namespace: "ns", Start: 0, Count: 10000, Total: 10000}
	})
	units := testutil.FixtureUnits()

	first := Evaluate(units, types.AppContext{}, exp)
	second := Evaluate(units, types.AppContext{}, exp)

	if first.Branch != second.Branch || first.Enrolled != second.Enrolled {
		t.Fatalf("expected the same unit to evaluate identically twice, got %+v then %+v", first, second)
	}
}

func TestEvaluate_NoBranchesErrors(t *testing.T) {
	exp := testutil.FixtureExperiment(func(e *types.Experiment) {
		e.Branches = nil
		e.BucketConfig = types.BucketConfig{RandomizationUnit: "nimbus_id", Namespace: "ns", Start: 0, Count: 10000, Total: 10000}
	})
	units := testutil.FixtureUnits()

	v := Evaluate(units, types.AppContext{}, exp)

	if v.Err == nil {
		t.Fatal("expected an error when the experiment has no branches to choose from")
	}
}

func TestBucketNumber_WithinRange(t *testing.T) {
	for i := 0; i < 50; i++ {
		n := bucketNumber("ns", uuid.New().String(), 10000)
		if n < 0 || n >= 10000 {
			t.Fatalf("bucket %d out of [0, 10000) range", n)
		}
	}
}

func TestInWindow_WrapsAround(t *testing.T) {
	// A window starting near the end of the space and wrapping to the start.
	if !inWindow(9999, 9990, 20, 10000) {
		t.Fatal("expected bucket 9999 to fall inside a window that wraps past the total")
	}
	if !inWindow(5, 9990, 20, 10000) {
		t.Fatal("expected bucket 5 to fall inside a window that wraps past the total")
	}
	if inWindow(100, 9990, 20, 10000) {
		t.Fatal("expected bucket 100 to fall outside a wrapped window of width 20")
	}
}
