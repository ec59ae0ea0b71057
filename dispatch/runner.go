package dispatch

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-redzone/types"
)

// DefaultCooldown is how long a location stays quiet after a dispatch starts.
const DefaultCooldown = 30 * time.Minute

// LocationDispatcher is what the Runner drives. *Dispatcher implements it.
type LocationDispatcher interface {
	DispatchLocationAlert(ctx context.Context, location string, disasterType types.DisasterType, timeout time.Duration) (Result, error)
}

// Report describes one finished background dispatch.
type Report struct {
	DispatchID string
	Aggregate  types.LocationAggregate
	Result     Result
	Err        error
	Summary    string
	Started    time.Time
	Finished   time.Time
}

// OpsNotifier tells operators that an alert fired.
type OpsNotifier interface {
	NotifyDispatch(ctx context.Context, report Report) error
}

// Summarizer condenses a location's recent reports into a few sentences.
type Summarizer interface {
	Summarize(ctx context.Context, location string) (string, error)
}

type RunnerOptions struct {
	// Cooldown of zero means DefaultCooldown. A negative value disables it.
	Cooldown    time.Duration
	CallTimeout time.Duration
	Notifier    OpsNotifier
	Summarizer  Summarizer
}

// Runner runs dispatches in the background, at most one per location at a time.
type Runner struct {
	dispatcher LocationDispatcher
	opts       RunnerOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	inFlight map[string]string
	lastRun  map[string]time.Time
	now      func() time.Time
}

func NewRunner(d LocationDispatcher, opts RunnerOptions) *Runner {
	if opts.Cooldown == 0 {
		opts.Cooldown = DefaultCooldown
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		dispatcher: d,
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
		inFlight:   make(map[string]string),
		lastRun:    make(map[string]time.Time),
		now:        time.Now,
	}
}

// Schedule starts a dispatch for agg.Location unless one is running or the
// location is cooling down. It does not wait for the dispatch.
func (r *Runner) Schedule(agg types.LocationAggregate) types.AlertTicket {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return types.AlertTicket{Reason: types.ReasonShuttingDown}
	}
	if id, ok := r.inFlight[agg.Location]; ok {
		r.mu.Unlock()
		log.Printf("Runner: dispatch %s already running for %s", id, agg.Location)
		return types.AlertTicket{Reason: types.ReasonDispatchInProgress}
	}
	now := r.now()
	if last, ok := r.lastRun[agg.Location]; ok && r.opts.Cooldown > 0 && now.Sub(last) < r.opts.Cooldown {
		r.mu.Unlock()
		log.Printf("Runner: %s is cooling down until %s", agg.Location, last.Add(r.opts.Cooldown).Format(time.RFC3339))
		return types.AlertTicket{Reason: types.ReasonCooldown}
	}
	id := uuid.NewString()
	r.inFlight[agg.Location] = id
	r.lastRun[agg.Location] = now
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(id, agg, now)
	log.Printf("Runner: scheduled dispatch %s for %s", id, agg.Location)
	return types.AlertTicket{Scheduled: true, Reason: types.ReasonThresholdsMet, DispatchID: id}
}

func (r *Runner) run(id string, agg types.LocationAggregate, started time.Time) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.inFlight, agg.Location)
		r.mu.Unlock()
	}()

	result, err := r.dispatcher.DispatchLocationAlert(r.ctx, agg.Location, agg.DisasterType, r.opts.CallTimeout)
	if err != nil {
		log.Printf("Runner: dispatch %s for %s failed: %v", id, agg.Location, err)
	} else {
		log.Printf("Runner: dispatch %s for %s finished: %s, %d users", id, agg.Location, result.Status, result.Count)
	}

	if r.opts.Notifier == nil {
		return
	}
	report := Report{
		DispatchID: id,
		Aggregate:  agg,
		Result:     result,
		Err:        err,
		Started:    started,
		Finished:   r.now(),
	}

	// Notifications still go out during shutdown, on a short budget.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if r.opts.Summarizer != nil {
		summary, err := r.opts.Summarizer.Summarize(ctx, agg.Location)
		if err != nil {
			log.Printf("Runner: summary for %s failed: %v", agg.Location, err)
		}
		report.Summary = summary
	}
	if err := r.opts.Notifier.NotifyDispatch(ctx, report); err != nil {
		log.Printf("Runner: ops notification for %s failed: %v", id, err)
	}
}

// Wait blocks until every scheduled dispatch has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown waits for running dispatches until ctx expires, then cancels them
// and waits for them to return. No new dispatches start afterwards.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
