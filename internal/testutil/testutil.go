// Package testutil provides testing utilities and fixtures for the
// enrollment core.
//
// This package contains:
//   - Test helper functions (loggers)
//   - Fixture factories for domain types (experiments, branches, enrollments)
//   - Common test patterns and utilities
//
// # Usage
//
// Fixtures use functional options for customization:
//
//	exp := testutil.FixtureExperiment()
//	exp := testutil.FixtureExperiment(func(e *types.Experiment) {
//		e.Slug = "custom-experiment"
//		e.IsEnrollmentPaused = true
//	})
package testutil

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nimbus-experiments/enrollment-core/pkg/types"
)

// NewTestLogger returns a logger that discards all output.
// Use for tests where logging output is not needed.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewVerboseTestLogger returns a logger that writes to stderr.
// Use for debugging test failures.
func NewVerboseTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// =============================================================================
// EXPERIMENT FIXTURES
// =============================================================================

// FixtureExperiment creates a test experiment with sensible defaults: two
// branches split 50/50, fully enrolled window, no targeting restriction.
func FixtureExperiment(overrides ...func(*types.Experiment)) *types.Experiment {
	exp := &types.Experiment{
		Slug:                  "test-experiment-" + uuid.New().String()[:8],
		UserFacingName:        "Test Experiment",
		UserFacingDescription: "An experiment used in tests.",
		IsEnrollmentPaused:    false,
		Branches: []types.Branch{
			{Slug: "control", Ratio: 1},
			{Slug: "treatment", Ratio: 1},
		},
		BucketConfig: types.BucketConfig{
			RandomizationUnit: "nimbus_id",
			Namespace:         "bucket-test-experiment",
			Start:             0,
			Count:             10000,
			Total:             10000,
		},
	}

	for _, override := range overrides {
		override(exp)
	}

	return exp
}

// FixtureExperimentPaused creates an experiment with enrollment paused.
func FixtureExperimentPaused(overrides ...func(*types.Experiment)) *types.Experiment {
	return FixtureExperiment(append([]func(*types.Experiment){
		func(e *types.Experiment) {
			e.IsEnrollmentPaused = true
		},
	}, overrides...)...)
}

// FixtureExperimentTargeted creates an experiment restricted to a single app.
func FixtureExperimentTargeted(appID string, overrides ...func(*types.Experiment)) *types.Experiment {
	return FixtureExperiment(append([]func(*types.Experiment){
		func(e *types.Experiment) {
			e.TargetingAppID = &appID
		},
	}, overrides...)...)
}

// =============================================================================
// ENROLLMENT FIXTURES
// =============================================================================

// FixtureEnrolledEnrollment creates an Enrolled record for slug in branch.
func FixtureEnrolledEnrollment(slug, branch string, overrides ...func(*types.ExperimentEnrollment)) types.ExperimentEnrollment {
	enr := types.ExperimentEnrollment{
		Slug: slug,
		Status: types.EnrollmentStatus{
			Kind:          types.StatusEnrolled,
			EnrollmentID:  uuid.New(),
			Branch:        branch,
			EnrolledReason: types.EnrolledReasonQualified,
		},
	}

	for _, override := range overrides {
		override(&enr)
	}

	return enr
}

// FixtureDisqualifiedEnrollment creates a Disqualified record for slug.
func FixtureDisqualifiedEnrollment(slug, branch string, overrides ...func(*types.ExperimentEnrollment)) types.ExperimentEnrollment {
	enr := types.ExperimentEnrollment{
		Slug: slug,
		Status: types.EnrollmentStatus{
			Kind:              types.StatusDisqualified,
			EnrollmentID:      uuid.New(),
			Branch:            branch,
			DisqualifiedReason: types.DisqualifiedReasonOptOut,
		},
	}

	for _, override := range overrides {
		override(&enr)
	}

	return enr
}

// FixtureNotEnrolledEnrollment creates a NotEnrolled record for slug.
func FixtureNotEnrolledEnrollment(slug string, overrides ...func(*types.ExperimentEnrollment)) types.ExperimentEnrollment {
	enr := types.ExperimentEnrollment{
		Slug: slug,
		Status: types.EnrollmentStatus{
			Kind:              types.StatusNotEnrolled,
			NotEnrolledReason: types.NotEnrolledReasonNotSelected,
		},
	}

	for _, override := range overrides {
		override(&enr)
	}

	return enr
}

// FixtureWasEnrolledEnrollment creates a WasEnrolled record aged by d.
func FixtureWasEnrolledEnrollment(slug, branch string, d time.Duration, overrides ...func(*types.ExperimentEnrollment)) types.ExperimentEnrollment {
	enr := types.ExperimentEnrollment{
		Slug: slug,
		Status: types.EnrollmentStatus{
			Kind:              types.StatusWasEnrolled,
			EnrollmentID:      uuid.New(),
			Branch:            branch,
			ExperimentEndedAt: TimeAgo(d).Unix(),
		},
	}

	for _, override := range overrides {
		override(&enr)
	}

	return enr
}

// =============================================================================
// UNITS / CONTEXT FIXTURES
// =============================================================================

// FixtureUnits returns an AvailableRandomizationUnits with a random NimbusID.
func FixtureUnits(overrides ...func(*types.AvailableRandomizationUnits)) types.AvailableRandomizationUnits {
	units := types.AvailableRandomizationUnits{
		NimbusID: uuid.New(),
	}

	for _, override := range overrides {
		override(&units)
	}

	return units
}

// FixtureAppContext returns an AppContext for the named app.
func FixtureAppContext(appID string) types.AppContext {
	return types.AppContext{AppID: appID}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Ptr returns a pointer to the given value.
// Useful for setting optional fields in fixtures.
func Ptr[T any](v T) *T {
	return &v
}

// TimeAgo returns a time in the past by the given duration.
func TimeAgo(d time.Duration) time.Time {
	return time.Now().Add(-d)
}

// TimeAgoPtr returns a pointer to a time in the past.
func TimeAgoPtr(d time.Duration) *time.Time {
	t := time.Now().Add(-d)
	return &t
}

// FixedClock is a types.Clock that always returns the same instant, for
// deterministic garbage-collection threshold tests.
type FixedClock struct {
	T int64
}

func (c FixedClock) NowSeconds() int64 { return c.T }
