// Package enrollctl implements the enrollctl command's subcommands on top
// of internal/enrollcore. Each subcommand is a thin argument-parsing shell
// around one Core operation; --watch mode re-runs get-enrollments on an
// interval, rate-limited against runaway polling.
package enrollctl

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nimbus-experiments/enrollment-core/internal/enrollcore"
	"github.com/nimbus-experiments/enrollment-core/internal/evolver"
	"github.com/nimbus-experiments/enrollment-core/pkg/types"
)

// Command is one enrollctl subcommand.
type Command struct {
	Name string
	Run  func(ctx context.Context, core *enrollcore.Core, out io.Writer, logger *slog.Logger, args []string) error
}

// Commands lists every enrollctl subcommand, in the order shown by usage.
var Commands = []Command{
	{Name: "get-enrollments", Run: runGetEnrollments},
	{Name: "get-participation", Run: runGetParticipation},
	{Name: "set-participation", Run: runSetParticipation},
	{Name: "opt-in", Run: runOptIn},
	{Name: "opt-out", Run: runOptOut},
	{Name: "evolve", Run: runEvolve},
}

// Find returns the Command named name, or nil.
func Find(name string) *Command {
	for i := range Commands {
		if Commands[i].Name == name {
			return &Commands[i]
		}
	}
	return nil
}

func runGetEnrollments(ctx context.Context, core *enrollcore.Core, out io.Writer, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("get-enrollments", flag.ContinueOnError)
	watch := fs.Bool("watch", false, "repeat the fetch on an interval")
	every := fs.Duration("every", 5*time.Second, "polling interval when --watch is set")
	rps := fs.Float64("rate", 1.0, "max polls per second while watching")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fetch := func() error {
		enrollments, err := core.GetEnrollments(ctx)
		if err != nil {
			return fmt.Errorf("get enrollments: %w", err)
		}
		return printJSON(out, enrollments)
	}

	if !*watch {
		return fetch()
	}

	limiter := rate.NewLimiter(rate.Limit(*rps), 1)
	ticker := time.NewTicker(*every)
	defer ticker.Stop()

	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := fetch(); err != nil {
			logger.Error("watch poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func runGetParticipation(ctx context.Context, core *enrollcore.Core, out io.Writer, logger *slog.Logger, args []string) error {
	participating, err := core.GetGlobalUserParticipation(ctx)
	if err != nil {
		return fmt.Errorf("get participation: %w", err)
	}
	return printJSON(out, map[string]bool{"participating": participating})
}

func runSetParticipation(ctx context.Context, core *enrollcore.Core, out io.Writer, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("set-participation", flag.ContinueOnError)
	participating := fs.Bool("value", true, "new global participation value")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := core.SetGlobalUserParticipation(ctx, *participating); err != nil {
		return fmt.Errorf("set participation: %w", err)
	}
	logger.Info("participation updated", "participating", *participating)
	return nil
}

func runOptIn(ctx context.Context, core *enrollcore.Core, out io.Writer, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("opt-in", flag.ContinueOnError)
	slug := fs.String("slug", "", "experiment slug")
	branch := fs.String("branch", "", "branch slug to opt into")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *slug == "" || *branch == "" {
		return fmt.Errorf("opt-in requires -slug and -branch")
	}
	events, err := core.OptInWithBranch(ctx, *slug, *branch)
	if err != nil {
		return fmt.Errorf("opt in: %w", err)
	}
	return printJSON(out, events)
}

func runOptOut(ctx context.Context, core *enrollcore.Core, out io.Writer, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("opt-out", flag.ContinueOnError)
	slug := fs.String("slug", "", "experiment slug")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *slug == "" {
		return fmt.Errorf("opt-out requires -slug")
	}
	events, err := core.OptOut(ctx, *slug)
	if err != nil {
		return fmt.Errorf("opt out: %w", err)
	}
	return printJSON(out, events)
}

func runEvolve(ctx context.Context, core *enrollcore.Core, out io.Writer, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("evolve", flag.ContinueOnError)
	experimentsFile := fs.String("experiments", "", "path to a JSON array of experiments, or - for stdin")
	nimbusID := fs.String("nimbus-id", "", "randomization unit UUID to evaluate against")
	appID := fs.String("app-id", "", "app ID for targeting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *experimentsFile == "" {
		return fmt.Errorf("evolve requires -experiments")
	}

	experiments, err := readExperiments(*experimentsFile)
	if err != nil {
		return fmt.Errorf("read experiments: %w", err)
	}

	units := types.AvailableRandomizationUnits{}
	if *nimbusID != "" {
		id, err := parseUUID(*nimbusID)
		if err != nil {
			return fmt.Errorf("invalid -nimbus-id: %w", err)
		}
		units.NimbusID = id
	}
	appCtx := types.AppContext{AppID: *appID}

	ev := evolver.New(units, appCtx)
	events, err := core.Evolve(ctx, ev, experiments)
	if err != nil {
		return fmt.Errorf("evolve: %w", err)
	}
	return printJSON(out, events)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
