// Package evolver implements the reconciliation algorithm that decides,
// slug by slug, which enrollment-state transition applies given the union
// of experiments the client previously knew about, the experiments the
// client now sees, and the client's prior enrollment records.
package evolver

import (
	"sort"

	"github.com/nimbus-experiments/enrollment-core/internal/enrollerr"
	"github.com/nimbus-experiments/enrollment-core/internal/enrollment"
	"github.com/nimbus-experiments/enrollment-core/pkg/types"
)

// GCThresholdSeconds is the default age at which a WasEnrolled record is
// garbage collected. Evolver.GCThresholdSeconds overrides it when positive.
const GCThresholdSeconds int64 = 30 * 24 * 60 * 60

// Evolver orchestrates per-slug reconciliation. It holds the randomization
// context needed to invoke the evaluator and an injectable clock as fields
// rather than threading them through every call.
type Evolver struct {
	Units              types.AvailableRandomizationUnits
	AppContext         types.AppContext
	Clock              types.Clock
	GCThresholdSeconds int64
}

// New builds an Evolver with the system clock and the default GC threshold.
func New(units types.AvailableRandomizationUnits, appCtx types.AppContext) *Evolver {
	return &Evolver{
		Units:              units,
		AppContext:         appCtx,
		Clock:              types.SystemClock{},
		GCThresholdSeconds: GCThresholdSeconds,
	}
}

func (e *Evolver) gcThreshold() int64 {
	if e.GCThresholdSeconds > 0 {
		return e.GCThresholdSeconds
	}
	return GCThresholdSeconds
}

func (e *Evolver) now() int64 {
	if e.Clock != nil {
		return e.Clock.NowSeconds()
	}
	return types.SystemClock{}.NowSeconds()
}

// Reconcile computes the updated set of enrollment records and the ordered
// list of change events for one evolve call. existingExperiments and
// existingEnrollments represent the prior commit; updatedExperiments is the
// caller-supplied new experiment set. isUserParticipating is read by the
// caller from the meta store and passed in explicitly — the evolver never
// reads global opt-in state from anywhere else, so transitions stay pure.
func (e *Evolver) Reconcile(
	isUserParticipating bool,
	existingExperiments map[string]*types.Experiment,
	updatedExperiments map[string]*types.Experiment,
	existingEnrollments map[string]types.ExperimentEnrollment,
) ([]types.ExperimentEnrollment, []types.EnrollmentChangeEvent, error) {
	slugs := unionSlugs(existingExperiments, updatedExperiments, existingEnrollments)

	var records []types.ExperimentEnrollment
	var events []types.EnrollmentChangeEvent

	for _, slug := range slugs {
		priorExp, hadExp := existingExperiments[slug]
		newExp, hasExp := updatedExperiments[slug]
		priorEnr, hadEnr := existingEnrollments[slug]

		rec, keep, err := e.classify(slug, isUserParticipating, priorExp, hadExp, newExp, hasExp, priorEnr, hadEnr, &events)
		if err != nil {
			return nil, nil, err
		}
		if keep {
			records = append(records, rec)
		}
	}

	return records, events, nil
}

// classify implements the reconciliation trigger table for one slug.
func (e *Evolver) classify(
	slug string,
	isUserParticipating bool,
	priorExp *types.Experiment, hadExp bool,
	newExp *types.Experiment, hasExp bool,
	priorEnr types.ExperimentEnrollment, hadEnr bool,
	events *[]types.EnrollmentChangeEvent,
) (types.ExperimentEnrollment, bool, error) {
	switch {
	case !hadExp && hasExp && !hadEnr:
		rec := enrollment.FromNewExperiment(isUserParticipating, e.Units, e.AppContext, newExp, events)
		return rec, true, nil

	case hadExp && !hasExp && hadEnr:
		rec, keep := enrollment.OnExperimentEnded(priorEnr, e.now(), events)
		return rec, keep, nil

	case hadExp && hasExp && hadEnr:
		rec := enrollment.OnExperimentUpdated(priorEnr, isUserParticipating, e.Units, e.AppContext, newExp, events)
		return rec, true, nil

	case !hadExp && !hasExp && hadEnr:
		rec, keep := enrollment.MaybeGarbageCollect(priorEnr, e.now(), e.gcThreshold())
		return rec, keep, nil

	case !hadExp && hasExp && hadEnr:
		return types.ExperimentEnrollment{}, false, &enrollerr.InternalError{
			Msg: "new experiment but enrollment already exists: " + slug,
		}

	case hadExp && !hasExp && !hadEnr:
		return types.ExperimentEnrollment{}, false, &enrollerr.InternalError{
			Msg: "experiment in the db did not have an associated enrollment record: " + slug,
		}

	case hadExp && hasExp && !hadEnr:
		return types.ExperimentEnrollment{}, false, &enrollerr.InternalError{
			Msg: "experiment in the db did not have an associated enrollment record: " + slug,
		}

	default:
		// (∅, ∅, ∅): unreachable, the slug would not be in the union.
		return types.ExperimentEnrollment{}, false, &enrollerr.InternalError{
			Msg: "unreachable slug classification: " + slug,
		}
	}
}

func unionSlugs(
	existingExperiments map[string]*types.Experiment,
	updatedExperiments map[string]*types.Experiment,
	existingEnrollments map[string]types.ExperimentEnrollment,
) []string {
	seen := make(map[string]struct{})
	for slug := range existingExperiments {
		seen[slug] = struct{}{}
	}
	for slug := range updatedExperiments {
		seen[slug] = struct{}{}
	}
	for slug := range existingEnrollments {
		seen[slug] = struct{}{}
	}

	slugs := make([]string, 0, len(seen))
	for slug := range seen {
		slugs = append(slugs, slug)
	}
	// Iteration order is otherwise unspecified; sort for reproducible event
	// ordering across runs with identical input.
	sort.Strings(slugs)
	return slugs
}
