package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/defistate/defistate-clamm/protocols/clamm"
	"github.com/defistate/defistate-clamm/protocols/clamm/pool"
	"github.com/defistate/defistate-clamm/protocols/tokenregistry"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultStart is the simulated block time of the first step.
var DefaultStart = time.Unix(1_700_000_000, 0).UTC()

var ErrUnexpectedSuccess = errors.New("step succeeded but an error was expected")

type Config struct {
	// Workers bounds the scenarios run at the same time.
	Workers  int
	Registry prometheus.Registerer
	Logger   pool.Logger
	// Sink receives the events of every pool; it must be safe for
	// concurrent use. Optional.
	Sink  pool.EventSink
	Start time.Time
}

func (c *Config) validate() error {
	if c.Workers <= 0 {
		return errors.New("config: Workers must be positive")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// Result is the outcome of one scenario.
type Result struct {
	Name string
	// Steps counts the steps that ran as expected.
	Steps  int
	Events int
	View   clamm.PoolView
	Err    error
}

type Runner struct {
	workers  int
	registry prometheus.Registerer
	logger   pool.Logger
	sink     pool.EventSink
	start    time.Time
}

func NewRunner(cfg Config) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	start := cfg.Start
	if start.IsZero() {
		start = DefaultStart
	}
	return &Runner{
		workers:  cfg.Workers,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		sink:     cfg.Sink,
		start:    start,
	}, nil
}

// Run executes the scenarios on a worker pool and returns their results in
// input order. Each scenario gets its own pool and ledger.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario) ([]Result, error) {
	workers, err := ants.NewPool(r.workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer workers.Release()

	results := make([]Result, len(scenarios))
	var wg sync.WaitGroup
	for i, sc := range scenarios {
		i, sc := i, sc
		wg.Add(1)
		err := workers.Submit(func() {
			defer wg.Done()
			results[i] = r.run(ctx, sc)
		})
		if err != nil {
			wg.Done()
			results[i] = Result{Name: sc.Name, Err: fmt.Errorf("submit: %w", err)}
		}
	}
	wg.Wait()
	return results, nil
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

// countingSink forwards to next and counts what it saw.
type countingSink struct {
	next  pool.EventSink
	count int
}

func (s *countingSink) Publish(events []pool.Envelope) error {
	s.count += len(events)
	if s.next == nil {
		return nil
	}
	return s.next.Publish(events)
}

func (r *Runner) run(ctx context.Context, sc Scenario) Result {
	result := Result{Name: sc.Name}

	ledger, err := tokenregistry.NewLedger(sc.Tokens...)
	if err != nil {
		result.Err = err
		return result
	}
	for _, b := range sc.Balances {
		if err := ledger.Mint(b.Token, b.Owner, value(b.Amount)); err != nil {
			result.Err = fmt.Errorf("fund %s: %w", b.Owner.Hex(), err)
			return result
		}
	}

	c := &clock{now: r.start}
	sink := &countingSink{next: r.sink}
	p, err := pool.New(pool.Config{
		Address: sc.Pool.Address,
		Token0:  sc.Pool.Token0,
		Token1:  sc.Pool.Token1,
		Assets:  ledger.Account(sc.Pool.Address),
		Authority: pool.StaticAuthority{
			Admin: sc.Pool.Admin,
			Params: pool.Defaults{
				Fee:          sc.Pool.Fee,
				TickSpacing:  sc.Pool.TickSpacing,
				CommunityFee: sc.Pool.CommunityFee,
			},
		},
		Registry: r.registry,
		Logger:   r.logger,
	}, pool.WithClock(c.Now), pool.WithEventSink(sink), pool.WithCommunityVault(sc.Pool.Vault))
	if err != nil {
		result.Err = err
		return result
	}

	ex := &executor{pool: p, ledger: ledger, clock: c}
	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			result.Err = err
			break
		}
		err := ex.apply(step)
		if err = expect(step, err); err != nil {
			result.Err = fmt.Errorf("step %d (%s): %w", i, step.Op, err)
			break
		}
		result.Steps++
	}

	result.Events = sink.count
	result.View = p.View()
	if result.Err != nil {
		r.logger.Warn("scenario failed", "scenario", sc.Name, "steps", result.Steps, "error", result.Err)
	} else {
		r.logger.Info("scenario completed", "scenario", sc.Name, "steps", result.Steps, "events", result.Events)
	}
	return result
}

func expect(step Step, err error) error {
	switch {
	case step.ExpectError == "":
		return err
	case err == nil:
		return fmt.Errorf("%w: %q", ErrUnexpectedSuccess, step.ExpectError)
	case !strings.Contains(err.Error(), step.ExpectError):
		return fmt.Errorf("expected error containing %q: %w", step.ExpectError, err)
	}
	return nil
}
