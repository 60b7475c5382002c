// Package enrollment implements the five pure enrollment state transitions.
// Each function maps a prior record (or its absence) plus a trigger to a new
// record and, where the transition is telemetry-visible, a change event
// appended to the caller-supplied accumulator. None of these functions touch
// a store or a clock directly — they take every side-channel input (current
// time, user participation) as a parameter, so they stay pure and testable.
package enrollment

import (
	"github.com/google/uuid"

	"github.com/nimbus-experiments/enrollment-core/internal/enrollerr"
	"github.com/nimbus-experiments/enrollment-core/internal/evaluator"
	"github.com/nimbus-experiments/enrollment-core/pkg/types"
)

// FromNewExperiment handles a slug seen for the first time.
func FromNewExperiment(
	isUserParticipating bool,
	units types.AvailableRandomizationUnits,
	appCtx types.AppContext,
	exp *types.Experiment,
	events *[]types.EnrollmentChangeEvent,
) types.ExperimentEnrollment {
	if !isUserParticipating {
		return notEnrolled(exp.Slug, types.NotEnrolledReasonOptOut)
	}
	if exp.IsEnrollmentPaused {
		return notEnrolled(exp.Slug, types.NotEnrolledReasonEnrollmentPaused)
	}

	verdict := evaluator.Evaluate(units, appCtx, exp)
	switch {
	case verdict.Err != nil:
		return types.ExperimentEnrollment{
			Slug: exp.Slug,
			Status: types.EnrollmentStatus{
				Kind:        types.StatusError,
				ErrorReason: verdict.Err.Error(),
			},
		}
	case verdict.Enrolled:
		rec := enrolledRecord(exp.Slug, uuid.New(), verdict.Branch, types.EnrolledReasonQualified)
		*events = append(*events, enrollmentEvent(rec))
		return rec
	default:
		return notEnrolled(exp.Slug, verdict.Reason)
	}
}

// FromExplicitOptIn handles a caller-forced opt-in to a specific branch.
func FromExplicitOptIn(
	exp *types.Experiment,
	branchSlug string,
	events *[]types.EnrollmentChangeEvent,
) (types.ExperimentEnrollment, error) {
	if !exp.HasBranch(branchSlug) {
		return types.ExperimentEnrollment{}, &enrollerr.NoSuchBranchError{Slug: exp.Slug, Branch: branchSlug}
	}
	rec := enrolledRecord(exp.Slug, uuid.New(), branchSlug, types.EnrolledReasonOptIn)
	*events = append(*events, enrollmentEvent(rec))
	return rec, nil
}

// OnExperimentUpdated is the central transition table: given the prior
// record for a slug that still exists on both sides, decide the new record.
func OnExperimentUpdated(
	prior types.ExperimentEnrollment,
	isUserParticipating bool,
	units types.AvailableRandomizationUnits,
	appCtx types.AppContext,
	exp *types.Experiment,
	events *[]types.EnrollmentChangeEvent,
) types.ExperimentEnrollment {
	switch prior.Status.Kind {
	case types.StatusNotEnrolled:
		if !isUserParticipating || exp.IsEnrollmentPaused {
			return prior
		}
		verdict := evaluator.Evaluate(units, appCtx, exp)
		switch {
		case verdict.Err != nil:
			return types.ExperimentEnrollment{
				Slug: exp.Slug,
				Status: types.EnrollmentStatus{
					Kind:        types.StatusError,
					ErrorReason: verdict.Err.Error(),
				},
			}
		case verdict.Enrolled:
			rec := enrolledRecord(exp.Slug, uuid.New(), verdict.Branch, types.EnrolledReasonQualified)
			*events = append(*events, enrollmentEvent(rec))
			return rec
		default:
			return notEnrolled(exp.Slug, verdict.Reason)
		}

	case types.StatusEnrolled:
		id := prior.Status.EnrollmentID
		branch := prior.Status.Branch

		if !isUserParticipating {
			rec := disqualifiedRecord(exp.Slug, id, branch, types.DisqualifiedReasonOptOut)
			*events = append(*events, disqualificationEvent(rec, types.EventReasonOptOut))
			return rec
		}
		if !exp.HasBranch(branch) {
			rec := disqualifiedRecord(exp.Slug, id, branch, types.DisqualifiedReasonError)
			*events = append(*events, disqualificationEvent(rec, types.EventReasonError))
			return rec
		}

		verdict := evaluator.Evaluate(units, appCtx, exp)
		switch {
		case verdict.Err != nil:
			rec := disqualifiedRecord(exp.Slug, id, branch, types.DisqualifiedReasonError)
			*events = append(*events, disqualificationEvent(rec, types.EventReasonError))
			return rec
		case verdict.NotEnrolled && verdict.Reason == types.NotEnrolledReasonNotTargeted:
			rec := disqualifiedRecord(exp.Slug, id, branch, types.DisqualifiedReasonNotTargeted)
			*events = append(*events, disqualificationEvent(rec, types.EventReasonTargeting))
			return rec
		default:
			// Bucketing is sticky once qualified: NotSelected, any Enrolled
			// verdict, or anything else leaves the user enrolled as-is.
			// Do not reinterpret this as "re-bucket on every update."
			return prior
		}

	case types.StatusDisqualified:
		if !isUserParticipating {
			rec := prior
			rec.Status.DisqualifiedReason = types.DisqualifiedReasonOptOut
			return rec
		}
		return prior

	case types.StatusWasEnrolled, types.StatusError:
		return prior

	default:
		return prior
	}
}

// OnExperimentEnded handles a slug absent from the latest update while an
// enrollment record still exists for it.
func OnExperimentEnded(
	prior types.ExperimentEnrollment,
	nowSeconds int64,
	events *[]types.EnrollmentChangeEvent,
) (types.ExperimentEnrollment, bool) {
	switch prior.Status.Kind {
	case types.StatusEnrolled, types.StatusDisqualified:
		rec := types.ExperimentEnrollment{
			Slug: prior.Slug,
			Status: types.EnrollmentStatus{
				Kind:              types.StatusWasEnrolled,
				EnrollmentID:      prior.Status.EnrollmentID,
				Branch:            prior.Status.Branch,
				ExperimentEndedAt: nowSeconds,
			},
		}
		*events = append(*events, types.EnrollmentChangeEvent{
			ExperimentSlug: rec.Slug,
			BranchSlug:     rec.Status.Branch,
			EnrollmentID:   rec.Status.EnrollmentID.String(),
			Change:         types.ChangeUnenrollment,
		})
		return rec, true
	default:
		return types.ExperimentEnrollment{}, false
	}
}

// OnExplicitOptOut handles a caller-forced opt-out.
func OnExplicitOptOut(
	prior types.ExperimentEnrollment,
	events *[]types.EnrollmentChangeEvent,
) types.ExperimentEnrollment {
	switch prior.Status.Kind {
	case types.StatusEnrolled:
		rec := disqualifiedRecord(prior.Slug, prior.Status.EnrollmentID, prior.Status.Branch, types.DisqualifiedReasonOptOut)
		*events = append(*events, disqualificationEvent(rec, types.EventReasonOptOut))
		return rec
	case types.StatusNotEnrolled:
		return notEnrolled(prior.Slug, types.NotEnrolledReasonOptOut)
	default:
		return prior
	}
}

// MaybeGarbageCollect applies only to WasEnrolled: if the experiment ended
// at least gcThresholdSeconds ago, the record is deleted (ok=false);
// otherwise it is kept unchanged. Any non-WasEnrolled input is deleted: the
// caller only invokes this when both the experiment and the update are
// absent for a slug.
func MaybeGarbageCollect(
	prior types.ExperimentEnrollment,
	nowSeconds int64,
	gcThresholdSeconds int64,
) (types.ExperimentEnrollment, bool) {
	if prior.Status.Kind != types.StatusWasEnrolled {
		return types.ExperimentEnrollment{}, false
	}
	if nowSeconds-prior.Status.ExperimentEndedAt >= gcThresholdSeconds {
		return types.ExperimentEnrollment{}, false
	}
	return prior, true
}

func notEnrolled(slug string, reason types.NotEnrolledReason) types.ExperimentEnrollment {
	return types.ExperimentEnrollment{
		Slug: slug,
		Status: types.EnrollmentStatus{
			Kind:              types.StatusNotEnrolled,
			NotEnrolledReason: reason,
		},
	}
}

func enrolledRecord(slug string, id uuid.UUID, branch string, reason types.EnrolledReason) types.ExperimentEnrollment {
	return types.ExperimentEnrollment{
		Slug: slug,
		Status: types.EnrollmentStatus{
			Kind:           types.StatusEnrolled,
			EnrollmentID:   id,
			Branch:         branch,
			EnrolledReason: reason,
		},
	}
}

func disqualifiedRecord(slug string, id uuid.UUID, branch string, reason types.DisqualifiedReason) types.ExperimentEnrollment {
	return types.ExperimentEnrollment{
		Slug: slug,
		Status: types.EnrollmentStatus{
			Kind:               types.StatusDisqualified,
			EnrollmentID:       id,
			Branch:             branch,
			DisqualifiedReason: reason,
		},
	}
}

func enrollmentEvent(rec types.ExperimentEnrollment) types.EnrollmentChangeEvent {
	return types.EnrollmentChangeEvent{
		ExperimentSlug: rec.Slug,
		BranchSlug:     rec.Status.Branch,
		EnrollmentID:   rec.Status.EnrollmentID.String(),
		Change:         types.ChangeEnrollment,
	}
}

func disqualificationEvent(rec types.ExperimentEnrollment, reason string) types.EnrollmentChangeEvent {
	return types.EnrollmentChangeEvent{
		ExperimentSlug: rec.Slug,
		BranchSlug:     rec.Status.Branch,
		EnrollmentID:   rec.Status.EnrollmentID.String(),
		Reason:         reason,
		Change:         types.ChangeDisqualification,
	}
}
