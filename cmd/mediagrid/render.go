package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ST2Projects/media-grid/internal/feed"
	"github.com/ST2Projects/media-grid/internal/fetch"
	"github.com/ST2Projects/media-grid/internal/grid"
	"github.com/ST2Projects/media-grid/internal/push"
	"github.com/ST2Projects/media-grid/internal/view"
	"github.com/ST2Projects/media-grid/pkg/models"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type renderOptions struct {
	server    string
	width     float64
	height    float64
	step      float64
	dwell     time.Duration
	settle    time.Duration
	mediaType string
	noPush    bool
}

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var opts renderOptions

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the gallery headlessly: stream pages, scroll through the grid and report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if opts.server == "" {
				opts.server = cfg.WebServer.BaseURL
			}

			src, err := fetch.NewHTTPSource(opts.server, cfg.Fetch.Timeout)
			if err != nil {
				return err
			}
			pages, err := feed.New(opts.server, cfg.WebServer.PageSize, cfg.Fetch.Timeout)
			if err != nil {
				return err
			}
			pages.MediaType = opts.mediaType

			g, err := grid.New(grid.Options{Config: cfg, Source: src})
			if err != nil {
				return err
			}
			defer g.Teardown()

			container := view.NewContainer(opts.width, opts.height)
			if err := g.Mount(container); err != nil {
				return err
			}

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			started := time.Now()
			if err := runRender(runCtx, g, container, pages, opts); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), summaryTable(g.Stats(), time.Since(started)))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "", "Gallery server base URL (defaults to web_server.base_url)")
	cmd.Flags().Float64Var(&opts.width, "width", 1280, "Viewport width in pixels")
	cmd.Flags().Float64Var(&opts.height, "height", 800, "Viewport height in pixels")
	cmd.Flags().Float64Var(&opts.step, "step", 0, "Scroll step in pixels (defaults to the viewport height)")
	cmd.Flags().DurationVar(&opts.dwell, "dwell", 250*time.Millisecond, "Pause between scroll steps")
	cmd.Flags().DurationVar(&opts.settle, "settle", 30*time.Second, "How long to wait for outstanding thumbnails after the last step")
	cmd.Flags().StringVar(&opts.mediaType, "type", "", "Only render items of this media type")
	cmd.Flags().BoolVar(&opts.noPush, "no-push", false, "Do not subscribe to thumbnail push events")
	return cmd
}

// runRender streams pages into the grid while a second task scrolls through
// it. The push subscriber lives until scrolling and settling finish.
func runRender(ctx context.Context, g *grid.Grid, container *view.Container, pages *feed.Client, opts renderOptions) error {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	eg, egctx := errgroup.WithContext(runCtx)
	loaded := make(chan struct{})

	eg.Go(func() error {
		defer close(loaded)
		var items []models.Item
		return pages.Stream(egctx, func(p models.Page) error {
			items = append(items, p.Items...)
			log.Infof("Loaded %d/%d items", len(items), p.Total)
			return g.SetItems(items)
		})
	})

	if !opts.noPush {
		wsURL, err := push.WebSocketURL(opts.server)
		if err != nil {
			return err
		}
		sub := push.NewSubscriber(wsURL, push.InvalidateOn(g))
		eg.Go(func() error {
			if err := sub.Run(egctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	eg.Go(func() error {
		defer cancelRun()
		select {
		case <-loaded:
		case <-egctx.Done():
			return egctx.Err()
		}
		if err := scrollThrough(egctx, container, opts); err != nil {
			return err
		}
		return waitSettled(egctx, g, opts.settle)
	})

	return eg.Wait()
}

// scrollThrough steps the viewport from top to bottom
func scrollThrough(ctx context.Context, container *view.Container, opts renderOptions) error {
	step := opts.step
	if step <= 0 {
		step = container.Viewport().Height
	}

	for top := 0.0; ; top += step {
		container.ScrollTo(top)
		vp := container.Viewport()
		log.Debugf("Viewport at %.0f-%.0f of %.0f", vp.ScrollTop, vp.Bottom(), container.ContentHeight())

		timer := time.NewTimer(opts.dwell)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if vp.Bottom() >= container.ContentHeight() {
			return nil
		}
	}
}

// waitSettled waits until no fetch is queued, running or waiting on a retry,
// or until the timeout passes
func waitSettled(ctx context.Context, g *grid.Grid, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		s := g.Stats()
		if s.Queued == 0 && s.InFlight == 0 && s.PendingTimers == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			log.Warnf("Giving up with %d queued, %d in flight and %d retries pending", s.Queued, s.InFlight, s.PendingTimers)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func summaryTable(s grid.Stats, elapsed time.Duration) string {
	metrics := []metric{
		{"Items", strconv.Itoa(s.Items)},
		{"Mode", s.Mode},
		{"Materialized nodes", strconv.Itoa(s.Nodes)},
		{"Content height", fmt.Sprintf("%.0f px", s.ContentHeight)},
		{"Layout generation", strconv.FormatUint(s.Generation, 10)},
		{"Fetches started", strconv.Itoa(s.Started)},
		{"Responses applied", strconv.Itoa(s.Completed)},
		{"Responses discarded", strconv.Itoa(s.Discarded)},
		{"Retries scheduled", strconv.Itoa(s.RetriesScheduled)},
		{"Peak concurrency", strconv.Itoa(s.PeakInFlight)},
		{"Cached thumbnails", fmt.Sprintf("%d (%s)", s.CacheEntries, humanize.Bytes(uint64(s.CacheBytes)))},
		{"Released thumbnails", strconv.FormatUint(s.CacheRevoked, 10)},
	}

	states := make([]string, 0, len(s.States))
	for state := range s.States {
		states = append(states, state)
	}
	sort.Strings(states)
	for _, state := range states {
		metrics = append(metrics, metric{"State " + state, strconv.Itoa(s.States[state])})
	}
	metrics = append(metrics, metric{"Elapsed", elapsed.Round(time.Millisecond).String()})

	return metricTable(metrics)
}
