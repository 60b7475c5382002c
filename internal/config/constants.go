// Package config centralizes the enrollment core's protocol constants and
// its yaml-tagged runtime configuration in one place instead of scattering
// them across the codebase.
package config

// Meta-store key and default for the global user-participation flag.
const (
	// DBKeyGlobalUserParticipation is the meta-store key recording whether
	// the user has opted in to experiments at all.
	DBKeyGlobalUserParticipation = "user-opt-in"

	// DefaultGlobalUserParticipation is used when the meta store has never
	// had the key written.
	DefaultGlobalUserParticipation = true
)

// PreviousEnrollmentsGCTime is how long a WasEnrolled record is kept before
// garbage collection, in seconds (30 days).
const PreviousEnrollmentsGCTime int64 = 30 * 24 * 60 * 60
