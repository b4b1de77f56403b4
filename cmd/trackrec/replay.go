package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/trackrec/trackrec/internal/location"
	"github.com/trackrec/trackrec/internal/routefile"
	"github.com/trackrec/trackrec/internal/session"
	"github.com/trackrec/trackrec/internal/track"
)

type replayOptions struct {
	out    string
	format string
	name   string
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	opts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Record a route from a file of fixes",
		Long: `Replay newline-delimited JSON fixes through a fresh recording session and
write the resulting route. Enrichment is disabled. Use "-" to read stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			format, err := routefile.ParseFormat(opts.format)
			if err != nil {
				return err
			}

			in, closeIn, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeIn()

			log := newLogger(cfg, cmd.ErrOrStderr())
			route, err := replay(cmd.Context(), in, replayConfig{
				AccuracyCeiling: cfg.Recording.AccuracyCeilingMeters,
				ThresholdKm:     cfg.Recording.AdmissionThresholdKm,
				Name:            opts.name,
				Logger:          log,
			})
			if err != nil {
				return err
			}

			data, err := routefile.Export(route, format)
			if err != nil {
				return err
			}
			return writeOutput(cmd, opts.out, data)
		},
	}

	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "json", "output format: json or gpx")
	cmd.Flags().StringVar(&opts.name, "name", "", "route name (default \"Route <first fix time>\")")
	return cmd
}

type replayConfig struct {
	AccuracyCeiling float64
	ThresholdKm     float64
	Name            string
	Logger          zerolog.Logger
}

// replayClock reports the time of the fix being replayed so elapsed time
// follows the recording rather than the wall clock.
type replayClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *replayClock) set(t time.Time) {
	if t.IsZero() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.t) {
		c.t = t
	}
}

// fileSource satisfies the manager's provider contract; fixes are fed
// directly through IngestFix.
type fileSource struct{}

type noopSubscription struct{}

func (noopSubscription) Cancel() {}

func (fileSource) Subscribe(context.Context, func(context.Context, track.Fix), func(error)) (session.Subscription, error) {
	return noopSubscription{}, nil
}

// replay records the NDJSON fixes read from r into a single-segment route.
// Invalid lines are skipped; a device error report ends the recording.
func replay(ctx context.Context, r io.Reader, cfg replayConfig) (*track.Route, error) {
	var fixes []track.Fix
	var skipped int

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		fix, err := location.Decode(data)
		var deviceErr *location.DeviceError
		if errors.As(err, &deviceErr) {
			cfg.Logger.Warn().Int("line", line).Str("reason", deviceErr.Reason).Msg("device error, replay ends here")
			break
		}
		if err != nil {
			skipped++
			cfg.Logger.Debug().Err(err).Int("line", line).Msg("skipping line")
			continue
		}
		fixes = append(fixes, fix)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading fixes: %w", err)
	}

	clock := &replayClock{t: time.Now().UTC()}
	for _, f := range fixes {
		if !f.Time.IsZero() {
			clock.t = f.Time
			break
		}
	}
	startedAt := clock.Now()

	manager, err := session.NewManager(session.Config{
		Provider:        fileSource{},
		Logger:          cfg.Logger,
		AccuracyCeiling: cfg.AccuracyCeiling,
		Admission:       track.AdmissionPolicy{ThresholdKm: cfg.ThresholdKm},
		Now:             clock.Now,
	})
	if err != nil {
		return nil, err
	}
	if err := manager.Start(ctx); err != nil {
		return nil, err
	}
	for _, f := range fixes {
		clock.set(f.Time)
		if err := manager.IngestFix(ctx, f); err != nil {
			return nil, err
		}
	}
	manager.Stop()

	route := manager.Route()
	route.Name = cfg.Name
	if route.Name == "" {
		route.Name = routefile.DefaultName(startedAt)
	}
	elapsed := manager.Elapsed()
	route.Duration = &elapsed

	cfg.Logger.Info().
		Int("fixes", len(fixes)).
		Int("skipped", skipped).
		Int("points", route.PointCount()).
		Float64("distance_km", track.RouteDistance(route)).
		Str("duration", track.FormatDuration(elapsed)).
		Msg("replay complete")
	return route, nil
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // route files are not secret
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
