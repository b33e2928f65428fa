package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/cursus/internal/models"
	"github.com/ternarybob/cursus/internal/pipeline"
)

const (
	// DefaultPollInterval is the status fetch cadence used when the
	// caller does not configure one.
	DefaultPollInterval = 5 * time.Second

	// DefaultRunTimeout is the wall-clock ceiling for one run. When no
	// terminal token arrives within it, the poller declares TIMEOUT.
	DefaultRunTimeout = 20 * time.Minute

	// StateTimeout is the synthetic terminal state reported when the
	// guard timer fires before the backend reports a terminal token.
	StateTimeout = "TIMEOUT"
)

// StatusFetcher is the slice of the backend contract the poller needs.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, pollLocator string, detail models.DetailLevel) (models.StatusPayload, error)
}

// PollUpdate is delivered to OnUpdate on every successful fetch,
// terminal or not, so subscribers can refresh on each tick.
type PollUpdate struct {
	Status  pipeline.NormalizedStatus
	Payload models.StatusPayload
}

// PollerConfig is the construction input for one PollController.
type PollerConfig struct {
	PollLocator string
	Interval    time.Duration
	Timeout     time.Duration
	Detail      models.DetailLevel
	OnUpdate    func(PollUpdate)
	OnDone      func(state string, payload models.StatusPayload)
}

// PollController owns one polling loop against a status locator: an
// interval ticker plus a one-shot timeout guard, both cleared together on
// stop, natural completion, and cancellation. Stop is idempotent; Stop and
// natural completion serialize on one mutex, so once Stop wins no OnDone
// can begin.
type PollController struct {
	api    StatusFetcher
	cfg    PollerConfig
	logger arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stopped  bool
	finished bool
}

// NewPollController validates the configuration and prepares a controller.
// A zero or negative interval is a configuration error, not a silent
// default. Call Start to begin polling.
func NewPollController(api StatusFetcher, cfg PollerConfig, logger arbor.ILogger) (*PollController, error) {
	if api == nil {
		return nil, fmt.Errorf("poll controller requires a status fetcher")
	}
	if cfg.PollLocator == "" {
		return nil, fmt.Errorf("poll controller requires a poll locator")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", cfg.Interval)
	}
	if cfg.OnDone == nil {
		return nil, fmt.Errorf("poll controller requires an OnDone callback")
	}
	if !cfg.Detail.IsValid() {
		cfg.Detail = models.DetailLite
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRunTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &PollController{
		api:    api,
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start launches the polling loop in a background goroutine and returns
// immediately.
func (p *PollController) Start() {
	go p.loop()
}

// Stop clears both timers and discards any in-flight response. Calling it
// after the controller finished, or calling it twice, is a no-op.
func (p *PollController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	p.cancel()
}

func (p *PollController) loop() {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	guard := time.NewTimer(p.cfg.Timeout)
	defer guard.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return

		case <-guard.C:
			if p.logger != nil {
				p.logger.Warn().
					Str("poll_locator", p.cfg.PollLocator).
					Dur("timeout", p.cfg.Timeout).
					Msg("Run timed out waiting for terminal state")
			}
			p.finish(StateTimeout, nil)
			return

		case <-ticker.C:
			if done := p.tick(); done {
				return
			}
		}
	}
}

// tick performs one status fetch. It returns true when the loop should
// exit because a terminal state was delivered.
func (p *PollController) tick() bool {
	payload, err := p.api.FetchStatus(p.ctx, p.cfg.PollLocator, p.cfg.Detail)

	// A response that resolves after Stop belongs to a dead controller.
	if p.ctx.Err() != nil {
		return true
	}

	if err != nil {
		// Transient failures are expected in long-running pipelines; a
		// single failed tick is not terminal.
		if p.logger != nil {
			p.logger.Warn().
				Err(err).
				Str("poll_locator", p.cfg.PollLocator).
				Msg("Status poll failed, will retry on next tick")
		}
		return false
	}

	status := pipeline.Normalize(payload)

	if p.cfg.OnUpdate != nil {
		p.cfg.OnUpdate(PollUpdate{Status: status, Payload: payload})
	}

	if pipeline.IsTerminalToken(status.State) {
		p.finish(status.State, payload)
		return true
	}

	return false
}

// finish stops the timers and delivers OnDone at most once. The stopped
// flag is checked under the same mutex Stop takes, so a controller stopped
// externally delivers nothing. OnDone itself runs outside the lock: it
// calls back into code that may hold its own locks while calling Stop.
func (p *PollController) finish(state string, payload models.StatusPayload) {
	p.mu.Lock()
	if p.stopped || p.finished {
		p.mu.Unlock()
		return
	}
	p.finished = true
	p.stopped = true
	p.cancel()
	p.mu.Unlock()

	p.cfg.OnDone(state, payload)
}
