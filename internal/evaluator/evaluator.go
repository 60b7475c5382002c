// Package evaluator implements the deterministic bucketing/targeting
// evaluator the enrollment core depends on but treats as an external
// collaborator. Given a randomization unit and an experiment, it decides
// whether the unit falls inside the experiment's enrollment window and, if
// so, which branch it lands on.
package evaluator

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/nimbus-experiments/enrollment-core/internal/enrollerr"
	"github.com/nimbus-experiments/enrollment-core/pkg/types"
)

// Verdict is the outcome of evaluating one experiment for one set of
// randomization units. Exactly one of the three shapes applies:
// Enrolled (Branch set), NotEnrolled (Reason set), or Err set.
type Verdict struct {
	Enrolled bool
	Branch   string

	NotEnrolled bool
	Reason      types.NotEnrolledReason

	Err error
}

// Evaluate computes the bucketing/targeting verdict for one experiment. It
// is deterministic in its inputs: the same units and experiment always
// produce the same verdict.
func Evaluate(units types.AvailableRandomizationUnits, appCtx types.AppContext, exp *types.Experiment) Verdict {
	if exp.TargetingAppID != nil && *exp.TargetingAppID != appCtx.AppID {
		return Verdict{NotEnrolled: true, Reason: types.NotEnrolledReasonNotTargeted}
	}

	unitValue, ok := units.UnitValue(exp.BucketConfig.RandomizationUnit)
	if !ok {
		return Verdict{Err: &enrollerr.EvaluatorError{
			Slug:   exp.Slug,
			Reason: fmt.Sprintf("randomization unit %q unavailable", exp.BucketConfig.RandomizationUnit),
		}}
	}

	total := exp.BucketConfig.Total
	if total <= 0 {
		return Verdict{Err: &enrollerr.EvaluatorError{Slug: exp.Slug, Reason: "bucket_config.total must be positive"}}
	}

	bucket := bucketNumber(exp.BucketConfig.Namespace, unitValue, total)
	if !inWindow(bucket, exp.BucketConfig.Start, exp.BucketConfig.Count, total) {
		return Verdict{NotEnrolled: true, Reason: types.NotEnrolledReasonNotSelected}
	}

	branch, err := chooseBranch(exp.Slug, unitValue, exp.Branches)
	if err != nil {
		return Verdict{Err: err}
	}
	return Verdict{Enrolled: true, Branch: branch}
}

// bucketNumber deterministically maps (namespace, unitValue) onto
// [0, total) using blake2b rather than a hand-rolled checksum.
func bucketNumber(namespace, unitValue string, total int) int {
	sum := blake2b.Sum256([]byte(namespace + "." + unitValue))
	n := binary.BigEndian.Uint64(sum[:8])
	return int(n % uint64(total))
}

func inWindow(bucket, start, count, total int) bool {
	if count <= 0 {
		return false
	}
	offset := bucket - start
	if offset < 0 {
		offset += total
	}
	return offset < count
}

// chooseBranch maps the unit onto one of the experiment's branches
// proportionally to ratio, using an independent hash so branch assignment
// doesn't correlate with the enrollment-window decision.
func chooseBranch(slug, unitValue string, branches []types.Branch) (string, error) {
	totalRatio := 0
	for _, b := range branches {
		totalRatio += b.Ratio
	}
	if totalRatio <= 0 || len(branches) == 0 {
		return "", &enrollerr.EvaluatorError{Slug: slug, Reason: "experiment has no branches"}
	}

	point := bucketNumber(slug+"-branch", unitValue, totalRatio)
	cursor := 0
	for _, b := range branches {
		cursor += b.Ratio
		if point < cursor {
			return b.Slug, nil
		}
	}
	// Unreachable given totalRatio accounting above, but fall back to the
	// last branch rather than panic on a pure function.
	return branches[len(branches)-1].Slug, nil
}
