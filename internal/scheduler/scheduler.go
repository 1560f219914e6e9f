package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"restock-monitor/internal/assert"
	"restock-monitor/internal/components/chrono"
	"restock-monitor/internal/components/telemetry"
	"restock-monitor/internal/extractor"
	"restock-monitor/internal/fetcher"
	"restock-monitor/internal/notifier"
	"restock-monitor/internal/registry"
	"restock-monitor/internal/tracker"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("restock-monitor/internal/scheduler")

const (
	report_monitor_list_products = "monitor.list-products"
	report_monitor_list_pending  = "monitor.list-pending"
	report_monitor_fetch         = "monitor.fetch"
	report_monitor_extract       = "monitor.extract"
	report_monitor_record        = "monitor.record"
	report_monitor_notify        = "monitor.notify"
	report_monitor_panic         = "monitor.panic"
	report_monitor_start         = "monitor.start"
	report_cycle_checked         = "cycle.checked"
	report_cycle_failed          = "cycle.failed"
	report_cycle_skipped         = "cycle.skipped"
	report_cycle_deferred        = "cycle.deferred"
	report_cycle_restocks        = "cycle.restocks"
)

// Registry is the part of the product registry the monitor reads and writes.
type Registry interface {
	List(ctx context.Context, enabledOnly bool) ([]registry.Product, error)
	ListPending(ctx context.Context) ([]registry.Product, error)
	RecordObservation(ctx context.Context, update registry.ObservationUpdate) error
	RecordFailure(ctx context.Context, id string, at time.Time, cause error) error
	ClearPending(ctx context.Context, id string) error
}

type Notifier interface {
	Notify(ctx context.Context, product registry.Product, transition tracker.Transition) (notifier.Report, error)
}

// ExtractFunc reads the stock signal from a page.
type ExtractFunc func(content []byte, selector, marker string) (bool, error)

type Config struct {
	// Interval is the fixed cadence of monitoring cycles.
	Interval time.Duration
	// Workers is the number of products checked at the same time.
	Workers int
	// CycleDeadline is a soft deadline, products that have not started when it
	// passes wait for the next cycle.
	CycleDeadline time.Duration
	// RestockConfirmations is how many consecutive out of stock observations must
	// precede an in stock observation for it to alert.
	RestockConfirmations int
	// RunOnStart runs a cycle as soon as the monitor starts.
	RunOnStart bool
}

// ErrInFlight is returned by Check when the product is already being checked.
var ErrInFlight = errors.New("product check already in flight")

// Monitor drives the monitoring pipeline: every cycle it checks each enabled
// product by fetching, extracting, classifying and, on a restock, notifying.
type Monitor struct {
	registry Registry
	fetcher  fetcher.Fetcher
	extract  ExtractFunc
	notifier Notifier
	clock    chrono.TimeAPI
	tel      telemetry.API
	config   Config

	inFlight *sync.Map
	// running tracks the cycles started by Start
	running *sync.WaitGroup
}

func New(
	reg Registry,
	fetch fetcher.Fetcher,
	notif Notifier,
	clock chrono.TimeAPI,
	tel telemetry.API,
	config Config,
) Monitor {
	assert.NotNil(reg, "registry")
	assert.NotNil(fetch, "fetcher")
	assert.NotNil(notif, "notifier")
	assert.NotNil(clock, "clock")
	assert.NotNil(tel, "telemetry")
	assert.Positive(config.Workers, "workers")
	if config.RestockConfirmations < 1 {
		config.RestockConfirmations = 1
	}

	return Monitor{
		registry: reg,
		fetcher:  fetch,
		extract:  extractor.Extract,
		notifier: notif,
		clock:    clock,
		tel:      telemetry.NewScopedAPI("scheduler", tel),
		config:   config,
		inFlight: &sync.Map{},
		running:  &sync.WaitGroup{},
	}
}

// Start registers the monitoring cycle with cron, cycles run until ctx is done.
// Wait must be called before the registry is closed.
func (m Monitor) Start(ctx context.Context, cron chrono.CronAPI) error {
	assert.NotNil(cron, "cron")
	assert.Positive(m.config.Interval, "interval")

	err := cron.Cron(chrono.Every(m.config.Interval), func() {
		if ctx.Err() != nil {
			return
		}
		m.running.Add(1)
		defer m.running.Done()
		m.RunCycle(ctx)
	})
	if err != nil {
		m.tel.ReportBroken(report_monitor_start, err)
		return err
	}
	if m.config.RunOnStart {
		m.running.Add(1)
		go func() {
			defer m.running.Done()
			m.RunCycle(ctx)
		}()
	}
	return nil
}

// Wait blocks until every cycle started by Start has finished.
func (m Monitor) Wait() {
	m.running.Wait()
}

// CycleReport summarizes a single monitoring cycle.
type CycleReport struct {
	Started  time.Time
	Duration time.Duration
	Products int
	Checked  int
	Failed   int
	// Skipped counts products still in flight from an earlier cycle.
	Skipped int
	// Deferred counts products not started before the cycle deadline.
	Deferred int
	Restocks int
	Notified int
}

type cycleCounter struct {
	mutex  sync.Mutex
	report CycleReport
}

func (c *cycleCounter) add(fn func(r *CycleReport)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	fn(&c.report)
}

// RunCycle checks every enabled product once. Disabled products are never fetched.
// No per product failure stops the cycle.
func (m Monitor) RunCycle(ctx context.Context) CycleReport {
	started := m.clock.Now()
	counter := &cycleCounter{report: CycleReport{Started: started}}

	m.resumePending(ctx, counter)

	products, err := m.registry.List(ctx, true)
	if err != nil {
		m.tel.ReportBroken(report_monitor_list_products, err)
		return counter.report
	}
	counter.report.Products = len(products)

	cycleCtx := ctx
	if m.config.CycleDeadline > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, m.config.CycleDeadline)
		defer cancel()
	}

	group := errgroup.Group{}
	group.SetLimit(m.config.Workers)
	for _, product := range products {
		group.Go(func() error {
			if cycleCtx.Err() != nil {
				counter.add(func(r *CycleReport) { r.Deferred++ })
				return nil
			}
			// in flight products run to their own timeouts, only the start is bounded
			// by the cycle deadline
			result, err := m.Check(ctx, product, true)
			counter.add(func(r *CycleReport) {
				switch {
				case errors.Is(err, ErrInFlight):
					r.Skipped++
				case err != nil:
					r.Failed++
				default:
					r.Checked++
				}
				if result.Restocked {
					r.Restocks++
				}
				r.Notified += result.Notified
			})
			return nil
		})
	}
	group.Wait()

	report := counter.report
	report.Duration = m.clock.Now().Sub(started)

	m.tel.ReportCount(report_cycle_checked, int64(report.Checked))
	m.tel.ReportCount(report_cycle_failed, int64(report.Failed))
	m.tel.ReportCount(report_cycle_skipped, int64(report.Skipped))
	m.tel.ReportCount(report_cycle_deferred, int64(report.Deferred))
	m.tel.ReportCount(report_cycle_restocks, int64(report.Restocks))
	m.tel.ReportDebug(
		"cycle finished",
		"products", report.Products,
		"checked", report.Checked,
		"failed", report.Failed,
		"duration", report.Duration.String(),
	)
	return report
}

// resumePending finishes notifying restocks whose notification was interrupted,
// by a crash or a storage failure, before it completed.
func (m Monitor) resumePending(ctx context.Context, counter *cycleCounter) {
	pending, err := m.registry.ListPending(ctx)
	if err != nil {
		m.tel.ReportBroken(report_monitor_list_pending, err)
		return
	}
	for _, product := range pending {
		notified := m.notifyRestock(ctx, product)
		counter.add(func(r *CycleReport) { r.Notified += notified })
	}
}

// Result is the outcome of checking one product.
type Result struct {
	Observation tracker.Observation
	Previous    tracker.Status
	Transition  tracker.Transition
	// Restocked is set when the check alerted (or would have alerted) subscribers.
	Restocked bool
	Notified  int
}

// Check runs a single product through the pipeline. With notify unset the new
// status is still recorded but no one is alerted, which is how an operator checks
// a product by hand.
func (m Monitor) Check(ctx context.Context, product registry.Product, notify bool) (result Result, err error) {
	_, loaded := m.inFlight.LoadOrStore(product.ID, struct{}{})
	if loaded {
		return Result{}, ErrInFlight
	}
	defer m.inFlight.Delete(product.ID)

	ctx, span := tracer.Start(ctx, "Monitor.Check", trace.WithAttributes(
		attribute.String("product_id", product.ID),
		attribute.String("strategy", string(product.Strategy)),
	))
	defer func() {
		span.SetAttributes(attribute.String("transition", string(result.Transition)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "check failed")
		}
		span.End()
	}()

	defer func() {
		recovered := recover()
		if recovered != nil {
			m.tel.ReportBroken(report_monitor_panic, recovered, product.ID)
			err = fmt.Errorf("check '%s' panicked: %v", product.ID, recovered)
		}
	}()

	result.Previous = product.Status
	result.Transition = tracker.TransitionNone
	result.Observation = m.observe(ctx, product)
	if !result.Observation.Ok() {
		return result, result.Observation.Err
	}

	result.Transition = tracker.Classify(product.Status, result.Observation.InStock)
	restocked := result.Transition == tracker.TransitionBecameInStock &&
		product.ConsecutiveOutOfStock >= m.config.RestockConfirmations

	err = m.registry.RecordObservation(ctx, registry.ObservationUpdate{
		ProductID: product.ID,
		Status:    tracker.StatusOf(result.Observation.InStock),
		CheckedAt: result.Observation.At,
		Restocked: restocked && notify,
	})
	if err != nil {
		m.tel.ReportBroken(report_monitor_record, err, product.ID)
		return result, err
	}
	result.Restocked = restocked

	product.Status = tracker.StatusOf(result.Observation.InStock)
	product.LastChecked = result.Observation.At
	if !notify {
		return result, nil
	}

	switch {
	case restocked:
		product.LastRestock = result.Observation.At
		product.PendingNotification = true
		result.Notified = m.notifyRestock(ctx, product)
	case result.Transition == tracker.TransitionBecameOutOfStock:
		report, err := m.notifier.Notify(ctx, product, result.Transition)
		if err != nil {
			m.tel.ReportWarning(report_monitor_notify, err, product.ID)
		}
		result.Notified = report.Sent
	}
	return result, nil
}

// observe fetches and extracts the product's stock signal.
func (m Monitor) observe(ctx context.Context, product registry.Product) tracker.Observation {
	observation := tracker.Observation{
		ProductID: product.ID,
		Strategy:  string(product.Strategy),
	}

	// the fetcher bounds its own request, time spent waiting for the host is not
	// part of it
	content, err := m.fetcher.Fetch(ctx, product)
	observation.At = m.clock.Now()
	if err != nil {
		m.tel.ReportWarning(report_monitor_fetch, err, product.ID)
		observation.Err = err
		m.recordFailure(ctx, product, observation)
		return observation
	}

	inStock, err := m.extract(content, product.Selector, product.Marker)
	if err != nil {
		// a selector that stops matching is a broken product configuration
		m.tel.ReportBroken(report_monitor_extract, err, product.ID)
		observation.Err = err
		m.recordFailure(ctx, product, observation)
		return observation
	}

	observation.InStock = inStock
	return observation
}

func (m Monitor) recordFailure(ctx context.Context, product registry.Product, observation tracker.Observation) {
	err := m.registry.RecordFailure(ctx, product.ID, observation.At, observation.Err)
	if err != nil {
		m.tel.ReportBroken(report_monitor_record, err, product.ID)
	}
}

// notifyRestock alerts subscribers of a recorded restock and clears the pending
// mark, unless a retry could still reach someone.
func (m Monitor) notifyRestock(ctx context.Context, product registry.Product) int {
	report, err := m.notifier.Notify(ctx, product, tracker.TransitionBecameInStock)
	if err != nil {
		m.tel.ReportWarning(report_monitor_notify, err, product.ID)
		return report.Sent
	}
	err = m.registry.ClearPending(ctx, product.ID)
	if err != nil {
		m.tel.ReportBroken(report_monitor_record, err, product.ID)
	}
	return report.Sent
}
