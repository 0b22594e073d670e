// Package poll schedules the recurring checks: the single-case watch loop,
// the all-tracked-cases sweep and the order-sheet watch.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"casewatch/internal/court"
	"casewatch/internal/notify"
	"casewatch/internal/storage"
	"casewatch/internal/watch"
	"casewatch/pkg/logx"
)

const (
	ModeAllFields   = "all-fields"
	ModeHearingDate = "hearing-date"
)

// OrderFetcher fetches the newest order/judgment document link for a case.
type OrderFetcher interface {
	FetchLatestOrderLink(ctx context.Context, q court.OrderQuery) (string, error)
}

// WatchJob is one configured single-case watch loop.
type WatchJob struct {
	CINO       string
	Interval   time.Duration
	Mode       string // ModeAllFields (default) or ModeHearingDate
	Recipients []string
}

type SweepJob struct {
	Interval time.Duration
}

type OrdersJob struct {
	Query      court.OrderQuery
	Interval   time.Duration
	Recipients []string
}

type Config struct {
	Watch  *WatchJob
	Sweep  *SweepJob
	Orders *OrdersJob
}

type Orchestrator struct {
	cfg      Config
	detector *watch.Detector
	dispatch *notify.Dispatcher
	resolver *notify.Resolver
	store    storage.Store
	orders   OrderFetcher
	log      logx.Logger

	cron  *cron.Cron
	locks keyedLocks

	// watchBooted flips after the first watch run, which always sends the
	// full status so subscribers see the starting state.
	watchBooted bool

	orderMu       sync.Mutex
	lastOrderLink string
}

func NewOrchestrator(cfg Config, detector *watch.Detector, dispatch *notify.Dispatcher, resolver *notify.Resolver, store storage.Store, orders OrderFetcher, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{
		cfg:      cfg,
		detector: detector,
		dispatch: dispatch,
		resolver: resolver,
		store:    store,
		orders:   orders,
		log:      log,
		cron:     cron.New(),
		locks:    keyedLocks{held: make(map[string]*sync.Mutex)},
	}
}

// Start registers the enabled jobs and starts the scheduler. The watch job
// also runs once immediately.
func (o *Orchestrator) Start(ctx context.Context) error {
	if j := o.cfg.Watch; j != nil {
		if _, err := o.cron.AddFunc(every(j.Interval), func() { o.runWatch(ctx, *j) }); err != nil {
			return err
		}
		go o.runWatch(ctx, *j)
		o.log.Info("watch loop scheduled",
			logx.String("cino", j.CINO),
			logx.Duration("interval", j.Interval),
			logx.String("mode", j.Mode))
	}
	if j := o.cfg.Sweep; j != nil {
		if _, err := o.cron.AddFunc(every(j.Interval), func() { o.runSweep(ctx) }); err != nil {
			return err
		}
		o.log.Info("sweep scheduled", logx.Duration("interval", j.Interval))
	}
	if j := o.cfg.Orders; j != nil {
		if _, err := o.cron.AddFunc(every(j.Interval), func() { o.runOrders(ctx, j.Query) }); err != nil {
			return err
		}
		o.log.Info("order-sheet watch scheduled",
			logx.String("case_no", j.Query.CaseNo),
			logx.Duration("interval", j.Interval))
	}
	o.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for in-flight runs it started.
func (o *Orchestrator) Stop(ctx context.Context) {
	done := o.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) runWatch(ctx context.Context, job WatchJob) {
	unlock := o.locks.lock(job.CINO)
	defer unlock()

	res, err := o.detector.Detect(ctx, job.CINO)
	if err != nil {
		o.log.Error("watch check failed", logx.Err(err), logx.String("cino", job.CINO))
		return
	}

	// The boot-time run announces the full current status once; change
	// alerts start with the second run.
	if !o.watchBooted {
		o.watchBooted = true
		o.dispatch.NotifyStatus(ctx, job.CINO, res.Current, job.Recipients)
		return
	}
	switch job.Mode {
	case ModeHearingDate:
		o.dispatch.NotifyHearingDate(ctx, job.CINO, res, job.Recipients)
	default:
		o.dispatch.NotifyChanges(ctx, job.CINO, res, job.Recipients)
	}
}

func (o *Orchestrator) runSweep(ctx context.Context) {
	byCase, err := o.store.ActiveByCase(ctx)
	if err != nil {
		o.log.Error("sweep: load tracked cases", logx.Err(err))
		return
	}
	o.log.Debug("sweep started", logx.Int("cases", len(byCase)))

	for cino, phones := range byCase {
		if ctx.Err() != nil {
			return
		}
		o.sweepOne(ctx, cino, phones)
	}
}

// sweepOne checks one case on behalf of its subscribers. Fetch failures skip
// the case; the next sweep retries.
func (o *Orchestrator) sweepOne(ctx context.Context, cino string, phones []string) {
	unlock := o.locks.lock(cino)
	defer unlock()

	res, err := o.detector.Detect(ctx, cino)
	if err != nil {
		o.log.Warn("sweep check failed", logx.Err(err), logx.String("cino", cino))
		return
	}
	if !res.HasChanges() {
		return
	}
	addrs := make([]string, 0, len(phones))
	for _, p := range phones {
		addrs = append(addrs, o.resolver.Address(p))
	}
	o.dispatch.NotifySweep(ctx, cino, res, addrs)
}

func (o *Orchestrator) runOrders(ctx context.Context, q court.OrderQuery) {
	link, err := o.orders.FetchLatestOrderLink(ctx, q)
	if err != nil {
		o.log.Warn("order-sheet check failed", logx.Err(err))
		return
	}
	if link == "" {
		return
	}

	o.orderMu.Lock()
	changed := link != o.lastOrderLink
	seeded := o.lastOrderLink == ""
	o.lastOrderLink = link
	o.orderMu.Unlock()

	// First observation only seeds the baseline.
	if !changed || seeded {
		return
	}
	o.log.Info("new order document", logx.String("link", link))
	if j := o.cfg.Orders; j != nil {
		o.dispatch.Send(ctx, j.Recipients, notify.FormatOrderAlert(link))
	}
}

func every(d time.Duration) string { return "@every " + d.String() }

// keyedLocks serializes overlapping runs per case identifier, so a slow sweep
// and the watch loop never interleave a fetch/store cycle for the same case.
type keyedLocks struct {
	mu   sync.Mutex
	held map[string]*sync.Mutex
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.held[key]
	if !ok {
		m = &sync.Mutex{}
		k.held[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
