// Package enrollcore wires the store and evolver packages together behind
// the public operations: evolve, opt-in, opt-out, get-enrollments,
// get/set-participation. It is the thinnest possible layer over
// internal/store and internal/evolver — nearly every operation is a direct
// read-modify-write against the Store interface.
package enrollcore

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/nimbus-experiments/enrollment-core/internal/cache"
	"github.com/nimbus-experiments/enrollment-core/internal/enrollerr"
	"github.com/nimbus-experiments/enrollment-core/internal/enrollment"
	"github.com/nimbus-experiments/enrollment-core/internal/evolver"
	"github.com/nimbus-experiments/enrollment-core/internal/store"
	"github.com/nimbus-experiments/enrollment-core/pkg/types"
)

// Core bundles a Store with a logger so every public operation can log
// without threading a logger through each call. Cache is optional: a nil
// Cache makes GetEnrollments always read through to the Store.
type Core struct {
	Store    store.Store
	Cache    *cache.Cache
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// New returns a Core with no cache. A nil logger is replaced with a
// discarding logger.
func New(st store.Store, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Core{Store: st, Logger: logger}
}

// WithCache attaches a read-through cache for GetEnrollments. ch may be nil,
// in which case Core behaves exactly as it did without a cache.
func (c *Core) WithCache(ch *cache.Cache, ttl time.Duration) *Core {
	c.Cache = ch
	c.CacheTTL = ttl
	return c
}

// Evolve runs the store's evolve transaction using ev to reconcile, then
// invalidates the enrollments cache since the store's contents changed.
func (c *Core) Evolve(ctx context.Context, ev *evolver.Evolver, updatedExperiments []*types.Experiment) ([]types.EnrollmentChangeEvent, error) {
	events, err := c.Store.EvolveEnrollmentsInDB(ctx, updatedExperiments, ev.Reconcile)
	if err != nil {
		c.Logger.Error("evolve failed", "error", err)
		return nil, err
	}
	if err := c.Cache.Invalidate(ctx); err != nil {
		c.Logger.Warn("cache invalidation failed", "error", err)
	}
	c.Logger.Info("evolve complete", "experiments", len(updatedExperiments), "events", len(events))
	return events, nil
}

// OptInWithBranch implements the caller-forced opt-in API.
func (c *Core) OptInWithBranch(ctx context.Context, slug, branch string) ([]types.EnrollmentChangeEvent, error) {
	exp, err := c.Store.GetExperiment(ctx, slug)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, &enrollerr.NoSuchExperimentError{Slug: slug}
	}

	var events []types.EnrollmentChangeEvent
	rec, err := enrollment.FromExplicitOptIn(exp, branch, &events)
	if err != nil {
		return nil, err
	}
	if err := c.Store.WriteEnrollment(ctx, rec); err != nil {
		return nil, err
	}
	if err := c.Cache.Invalidate(ctx); err != nil {
		c.Logger.Warn("cache invalidation failed", "error", err)
	}
	c.Logger.Info("opted in", "slug", slug, "branch", branch)
	return events, nil
}

// OptOut implements the caller-forced opt-out API.
func (c *Core) OptOut(ctx context.Context, slug string) ([]types.EnrollmentChangeEvent, error) {
	prior, ok, err := c.Store.GetEnrollment(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &enrollerr.NoSuchExperimentError{Slug: slug}
	}

	var events []types.EnrollmentChangeEvent
	rec := enrollment.OnExplicitOptOut(prior, &events)
	if err := c.Store.WriteEnrollment(ctx, rec); err != nil {
		return nil, err
	}
	if err := c.Cache.Invalidate(ctx); err != nil {
		c.Logger.Warn("cache invalidation failed", "error", err)
	}
	c.Logger.Info("opted out", "slug", slug)
	return events, nil
}

// GetGlobalUserParticipation reads the global opt-in flag.
func (c *Core) GetGlobalUserParticipation(ctx context.Context) (bool, error) {
	return c.Store.GetGlobalUserParticipation(ctx)
}

// SetGlobalUserParticipation writes the global opt-in flag.
func (c *Core) SetGlobalUserParticipation(ctx context.Context, participating bool) error {
	return c.Store.SetGlobalUserParticipation(ctx, participating)
}

// GetEnrollments returns the user-facing view of every Enrolled experiment,
// joined with its experiment's display fields. Enrollments whose experiment
// has vanished are skipped with a warning rather than failing the whole call.
func (c *Core) GetEnrollments(ctx context.Context) ([]types.EnrolledExperiment, error) {
	var cached []types.EnrolledExperiment
	if hit, err := c.Cache.GetEnrollments(ctx, &cached); err != nil {
		c.Logger.Warn("cache read failed", "error", err)
	} else if hit {
		return cached, nil
	}

	enrollments, err := c.Store.GetAllEnrollments(ctx)
	if err != nil {
		return nil, err
	}

	var out []types.EnrolledExperiment
	for _, enr := range enrollments {
		if enr.Status.Kind != types.StatusEnrolled {
			continue
		}
		exp, err := c.Store.GetExperiment(ctx, enr.Slug)
		if err != nil {
			return nil, err
		}
		if exp == nil {
			c.Logger.Warn("enrolled experiment missing from store", "slug", enr.Slug)
			continue
		}
		out = append(out, types.EnrolledExperiment{
			Slug:                  exp.Slug,
			UserFacingName:        exp.UserFacingName,
			UserFacingDescription: exp.UserFacingDescription,
			BranchSlug:            enr.Status.Branch,
			EnrollmentID:          enr.Status.EnrollmentID.String(),
		})
	}

	if err := c.Cache.SetEnrollments(ctx, out, c.CacheTTL); err != nil {
		c.Logger.Warn("cache write failed", "error", err)
	}

	return out, nil
}
