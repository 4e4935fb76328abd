package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"edgemetrics/internal/api"
	"edgemetrics/internal/config"
	"edgemetrics/internal/metrics"
	"edgemetrics/internal/model"
	"edgemetrics/internal/probe"
)

var (
	// ErrUpstreamFetch means the endpoint list could not be fetched. It is
	// the only error that stops the agent.
	ErrUpstreamFetch = errors.New("fetch endpoints failed")
	// ErrSubmission means a cycle's results could not be delivered.
	ErrSubmission = errors.New("submit metrics failed")
)

// Upstream is the part of the API the agent talks to.
type Upstream interface {
	Endpoints(ctx context.Context) ([]model.Endpoint, error)
	SubmitMetrics(ctx context.Context, cycleID string, req api.MetricsRequest) error
}

// Sampler produces one averaged record for a URL.
type Sampler interface {
	Sample(ctx context.Context, rawURL string) (model.MetricRecord, error)
}

// Options tunes a run.
type Options struct {
	// Oneshot runs a single cycle immediately, prints its records to Out
	// and returns.
	Oneshot bool
	Out     io.Writer
}

// Agent probes every endpoint on a fixed cadence and reports to the server.
type Agent struct {
	upstream Upstream
	sampler  Sampler
	schedule cron.Schedule
	opts     Options

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	cycleID func() string
}

// New builds an agent wired to the real API client and prober.
func New(cfg config.AgentConfig, opts Options) (*Agent, error) {
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
	}
	httpClient, err := probe.NewHTTPClient(cfg.Protocol, cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	prober := probe.NewProber(probe.Options{
		Client:        httpClient,
		SocketTimeout: cfg.SocketTimeout,
		Cooldown:      cfg.Cooldown,
		Samples:       cfg.Samples,
		UserAgent:     cfg.UserAgent,
	})
	client := api.NewClient(normalizeBaseURL(cfg.Server), cfg.Authorization)
	return newAgent(client, prober, schedule, opts), nil
}

func newAgent(upstream Upstream, sampler Sampler, schedule cron.Schedule, opts Options) *Agent {
	return &Agent{
		upstream: upstream,
		sampler:  sampler,
		schedule: schedule,
		opts:     opts,
		now:      time.Now,
		sleep:    sleepContext,
		cycleID:  func() string { return uuid.NewString() },
	}
}

// Run starts the long-running agent loop.
func Run(ctx context.Context, cfg config.AgentConfig, opts Options) error {
	a, err := New(cfg, opts)
	if err != nil {
		return err
	}
	if !checkServerHealth(ctx, a.upstream, cfg.RequestTimeout) {
		log.Printf("[agent] server %s is not healthy yet; continuing", cfg.Server)
	}
	return a.Run(ctx)
}

// Run loops until ctx is done or the endpoint list cannot be fetched.
func (a *Agent) Run(ctx context.Context) error {
	for {
		target := NextBoundary(a.schedule, a.now())
		log.Printf("[agent] next cycle at %s", target.Format(time.RFC3339))

		if !a.opts.Oneshot {
			if err := a.sleep(ctx, target.Sub(a.now())); err != nil {
				return err
			}
		}

		records, err := a.RunCycle(ctx)
		switch {
		case errors.Is(err, ErrUpstreamFetch):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		case api.IsUnauthorized(err):
			log.Printf("[agent] %v (check agent.authorization and the node lock)", err)
		case err != nil:
			log.Printf("[agent] %v", err)
		}

		if a.opts.Oneshot {
			if a.opts.Out != nil {
				if rerr := metrics.RenderRecords(a.opts.Out, records); rerr != nil {
					return rerr
				}
			}
			return err
		}
	}
}

// RunCycle probes every endpoint once and submits whatever succeeded. The
// returned records are those that were measured, even if submission failed.
func (a *Agent) RunCycle(ctx context.Context) (map[string]model.MetricRecord, error) {
	cycle := a.cycleID()

	endpoints, err := a.upstream.Endpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFetch, err)
	}
	log.Printf("[agent] cycle=%s endpoints=%d", cycle, len(endpoints))

	records := make(map[string]model.MetricRecord, len(endpoints))
	for _, ep := range endpoints {
		if ctx.Err() != nil {
			return records, ctx.Err()
		}
		rec, err := a.sampler.Sample(ctx, ep.URL)
		if err != nil {
			log.Printf("[agent] cycle=%s endpoint=%s skipped: %v", cycle, ep.Name, err)
			continue
		}
		records[ep.Name] = rec
		log.Printf("[agent] cycle=%s endpoint=%s rwl=%dms tcp=%dms tls=%dms cpt=%dms tfb=%dms htc=%d",
			cycle, ep.Name, rec.RWL, rec.TCP, rec.TLS, rec.CPT, rec.TFB, rec.HTC)
	}

	if err := a.upstream.SubmitMetrics(ctx, cycle, api.MetricsRequest(records)); err != nil {
		return records, fmt.Errorf("%w: cycle=%s: %w", ErrSubmission, cycle, err)
	}
	log.Printf("[agent] cycle=%s submitted records=%d", cycle, len(records))
	return records, nil
}

// NextBoundary returns the first scheduled instant strictly after now.
func NextBoundary(schedule cron.Schedule, now time.Time) time.Time {
	return schedule.Next(now)
}

func normalizeBaseURL(addr string) string {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "https://" + addr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Upstream = (*api.Client)(nil)
var _ Sampler = (*probe.Prober)(nil)
