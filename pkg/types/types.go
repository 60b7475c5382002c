// Package types defines the core domain types for the enrollment evolver.
//
// # Design Principles
//
// 1. Simplicity: Types represent the domain model directly, no ORM abstractions
// 2. Serialization: All types are JSON-serializable for storage and transport
// 3. Sum types: EnrollmentStatus is a tagged union expressed as a Kind string
//    plus the fields relevant to that kind; callers must switch on Kind
package types

import (
	"time"

	"github.com/google/uuid"
)

// Branch is one treatment arm of an experiment.
type Branch struct {
	Slug  string `json:"slug"`
	Ratio int    `json:"ratio"`
}

// BucketConfig describes how a randomization unit is mapped into an
// experiment's enrollment window.
type BucketConfig struct {
	RandomizationUnit string `json:"randomization_unit"` // e.g. "nimbus_id"
	Namespace         string `json:"namespace"`
	Start             int    `json:"start"`
	Count             int    `json:"count"`
	Total             int    `json:"total"`
}

// Experiment is the server-defined configuration of one experiment. Only the
// fields the evolver and evaluator consume are modeled here; unrecognized
// fields from the remote configuration source are not represented.
type Experiment struct {
	Slug                  string        `json:"slug"`
	UserFacingName        string        `json:"user_facing_name"`
	UserFacingDescription string        `json:"user_facing_description"`
	IsEnrollmentPaused    bool          `json:"is_enrollment_paused"`
	Branches              []Branch      `json:"branches"`
	BucketConfig          BucketConfig  `json:"bucket_config"`
	TargetingAppID        *string       `json:"targeting_app_id,omitempty"`
}

// HasBranch reports whether slug names one of the experiment's branches.
func (e *Experiment) HasBranch(slug string) bool {
	for _, b := range e.Branches {
		if b.Slug == slug {
			return true
		}
	}
	return false
}

// EnrolledReason explains why a record transitioned into Enrolled.
type EnrolledReason string

const (
	EnrolledReasonQualified EnrolledReason = "Qualified"
	EnrolledReasonOptIn     EnrolledReason = "OptIn"
)

// NotEnrolledReason explains why a record is NotEnrolled.
type NotEnrolledReason string

const (
	NotEnrolledReasonOptOut           NotEnrolledReason = "OptOut"
	NotEnrolledReasonNotSelected      NotEnrolledReason = "NotSelected"
	NotEnrolledReasonNotTargeted      NotEnrolledReason = "NotTargeted"
	NotEnrolledReasonEnrollmentPaused NotEnrolledReason = "EnrollmentsPaused"
)

// DisqualifiedReason explains why a record transitioned into Disqualified.
type DisqualifiedReason string

const (
	DisqualifiedReasonError       DisqualifiedReason = "Error"
	DisqualifiedReasonOptOut      DisqualifiedReason = "OptOut"
	DisqualifiedReasonNotTargeted DisqualifiedReason = "NotTargeted"
)

// StatusKind names the variant of EnrollmentStatus. EnrollmentStatus is a
// tagged union; exactly the fields relevant to Kind are meaningful.
type StatusKind string

const (
	StatusEnrolled     StatusKind = "Enrolled"
	StatusNotEnrolled  StatusKind = "NotEnrolled"
	StatusDisqualified StatusKind = "Disqualified"
	StatusWasEnrolled  StatusKind = "WasEnrolled"
	StatusError        StatusKind = "Error"
)

// EnrollmentStatus is the tagged union described in the data model: exactly
// one of the five Kind values applies, and only the fields relevant to that
// Kind are populated. Treat this as a sum type — switch on Kind exhaustively,
// never infer the variant from which fields happen to be non-zero.
type EnrollmentStatus struct {
	Kind StatusKind `json:"kind"`

	// Enrolled, Disqualified, WasEnrolled
	EnrollmentID uuid.UUID `json:"enrollment_id,omitempty"`
	Branch       string    `json:"branch,omitempty"`

	// Enrolled
	EnrolledReason EnrolledReason `json:"enrolled_reason,omitempty"`

	// NotEnrolled
	NotEnrolledReason NotEnrolledReason `json:"not_enrolled_reason,omitempty"`

	// Disqualified
	DisqualifiedReason DisqualifiedReason `json:"disqualified_reason,omitempty"`

	// WasEnrolled
	ExperimentEndedAt int64 `json:"experiment_ended_at,omitempty"` // unix seconds

	// Error
	ErrorReason string `json:"error_reason,omitempty"`
}

// ExperimentEnrollment is the persistent per-slug enrollment record.
type ExperimentEnrollment struct {
	Slug   string           `json:"slug"`
	Status EnrollmentStatus `json:"status"`
}

// ChangeEventType names the kind of telemetry event a transition produced.
type ChangeEventType string

const (
	ChangeEnrollment     ChangeEventType = "Enrollment"
	ChangeDisqualification ChangeEventType = "Disqualification"
	ChangeUnenrollment   ChangeEventType = "Unenrollment"
)

// Disqualification reason strings carried on change events. These are
// distinct from DisqualifiedReason: the event vocabulary is smaller and
// bit-exact per the external interface contract.
const (
	EventReasonOptOut    = "optout"
	EventReasonTargeting = "targeting"
	EventReasonError     = "error"
)

// EnrollmentChangeEvent describes one transition for telemetry.
type EnrollmentChangeEvent struct {
	ExperimentSlug string          `json:"experiment_slug"`
	BranchSlug     string          `json:"branch_slug"`
	EnrollmentID   string          `json:"enrollment_id"`
	Reason         string          `json:"reason,omitempty"`
	Change         ChangeEventType `json:"change"`
}

// AppContext is the targeting context the evaluator matches against.
type AppContext struct {
	AppID string `json:"app_id"`
}

// AvailableRandomizationUnits holds the values an experiment's bucket config
// may select by name. NimbusID is always available; CustomUnits holds
// optional app-supplied randomization units (e.g. "user_id").
type AvailableRandomizationUnits struct {
	NimbusID    uuid.UUID
	CustomUnits map[string]string
}

// UnitValue resolves the named randomization unit, reporting whether it was
// available.
func (a AvailableRandomizationUnits) UnitValue(name string) (string, bool) {
	if name == "nimbus_id" || name == "" {
		return a.NimbusID.String(), true
	}
	v, ok := a.CustomUnits[name]
	return v, ok
}

// EnrolledExperiment is the user-facing join of an enrollment with its
// experiment's display fields, returned by GetEnrollments.
type EnrolledExperiment struct {
	Slug                  string `json:"slug"`
	UserFacingName        string `json:"user_facing_name"`
	UserFacingDescription string `json:"user_facing_description"`
	BranchSlug             string `json:"branch_slug"`
	EnrollmentID           string `json:"enrollment_id"`
}

// Clock abstracts the current time so tests can fast-forward past the
// garbage-collection threshold without sleeping.
type Clock interface {
	NowSeconds() int64
}

// SystemClock is the default Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) NowSeconds() int64 { return time.Now().Unix() }
