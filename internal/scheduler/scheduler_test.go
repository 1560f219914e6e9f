package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"restock-monitor/internal/components/chrono"
	"restock-monitor/internal/components/telemetry"
	"restock-monitor/internal/db"
	"restock-monitor/internal/extractor"
	"restock-monitor/internal/fetcher"
	"restock-monitor/internal/messaging"
	"restock-monitor/internal/notifier"
	"restock-monitor/internal/registry"
	"restock-monitor/internal/testutil"
	"restock-monitor/internal/tracker"

	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const (
	inStockPage    = `<html><body><button id="stock">Add to Cart</button></body></html>`
	outOfStockPage = `<html><body><button id="stock">Sold Out</button></body></html>`
	brokenPage     = `<html><body><p>maintenance</p></body></html>`
)

type fakeFetcher struct {
	mutex sync.Mutex
	pages map[string]func(ctx context.Context) ([]byte, error)
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string]func(ctx context.Context) ([]byte, error)),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) set(id, page string) {
	f.setFunc(id, func(ctx context.Context) ([]byte, error) {
		return []byte(page), nil
	})
}

func (f *fakeFetcher) setFunc(id string, fn func(ctx context.Context) ([]byte, error)) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.pages[id] = fn
}

func (f *fakeFetcher) count(id string) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls[id]
}

func (f *fakeFetcher) Fetch(ctx context.Context, product registry.Product) ([]byte, error) {
	f.mutex.Lock()
	f.calls[product.ID]++
	fn, ok := f.pages[product.ID]
	f.mutex.Unlock()
	if !ok {
		return nil, errors.New("no page")
	}
	return fn(ctx)
}

type fakeSender struct {
	mutex sync.Mutex
	sent  []string
}

func (f *fakeSender) Send(ctx context.Context, subscriberID string, alert messaging.Alert) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.sent = append(f.sent, subscriberID+":"+alert.ProductID)
	return nil
}

func (f *fakeSender) alerts() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	out := append([]string(nil), f.sent...)
	sort.Strings(out)
	return out
}

type fixture struct {
	reg     registry.Registry
	fetcher *fakeFetcher
	sender  *fakeSender
	clock   *chrono.FakeTime
	rec     *telemetry.Recorder
	monitor Monitor
}

func setup(t *testing.T, config Config) fixture {
	reg := registry.New(testutil.OpenDB(t))
	fetch := newFakeFetcher()
	sender := &fakeSender{}
	clock := chrono.NewFakeTime(start)
	rec := telemetry.NewRecorder()

	notif := notifier.New(reg, sender, clock, rec, notifier.Config{DeliveryTimeout: time.Second})
	if config.Workers == 0 {
		config.Workers = 4
	}
	monitor := New(reg, fetch, notif, clock, rec, config)

	return fixture{
		reg:     reg,
		fetcher: fetch,
		sender:  sender,
		clock:   clock,
		rec:     rec,
		monitor: monitor,
	}
}

func (f fixture) addProduct(t *testing.T, id string, status tracker.Status) {
	ctx := context.Background()
	require.NoError(t, f.reg.Put(ctx, registry.Product{
		ID:          id,
		Name:        "Product " + id,
		Store:       "Shop",
		URL:         "https://shop.test/" + id,
		CheckoutURL: "https://shop.test/cart/" + id,
		Selector:    "#stock",
		Marker:      "Add to Cart",
		Strategy:    registry.StrategyStatic,
		Enabled:     true,
	}, start))
	if status != tracker.StatusUnknown {
		require.NoError(t, f.reg.SetStatus(ctx, id, status, start))
	}
}

func (f fixture) subscribe(t *testing.T, subscriber, target string) {
	_, err := f.reg.Subscribe(context.Background(), subscriber, target, start)
	require.NoError(t, err)
}

func (f fixture) product(t *testing.T, id string) registry.Product {
	product, err := f.reg.Get(context.Background(), id)
	require.NoError(t, err)
	return product
}

func (f fixture) cycle() CycleReport {
	f.clock.Advance(time.Minute)
	return f.monitor.RunCycle(context.Background())
}

func TestBaselineNeverNotifies(t *testing.T) {
	f := setup(t, Config{})
	f.addProduct(t, "q", tracker.StatusUnknown)
	f.subscribe(t, "chan", "q")
	f.subscribe(t, "everyone", db.WildcardTarget)
	f.fetcher.set("q", inStockPage)

	report := f.cycle()
	require.Equal(t, 1, report.Checked)
	require.Equal(t, 0, report.Notified)
	require.Empty(t, f.sender.alerts())
	require.Equal(t, tracker.StatusInStock, f.product(t, "q").Status)
}

func TestRestockNotifiesEverySubscriberOnce(t *testing.T) {
	f := setup(t, Config{})
	f.addProduct(t, "p", tracker.StatusOutOfStock)
	f.addProduct(t, "other", tracker.StatusOutOfStock)
	f.subscribe(t, "chan-p", "p")
	f.subscribe(t, "chan-other", "other")
	f.subscribe(t, "everyone", db.WildcardTarget)
	f.fetcher.set("p", inStockPage)
	f.fetcher.set("other", outOfStockPage)

	report := f.cycle()
	require.Equal(t, 2, report.Checked)
	require.Equal(t, 1, report.Restocks)
	require.Equal(t, 2, report.Notified)
	require.Equal(t, []string{"chan-p:p", "everyone:p"}, f.sender.alerts())

	p := f.product(t, "p")
	require.Equal(t, tracker.StatusInStock, p.Status)
	require.False(t, p.PendingNotification)
	require.Equal(t, start.Add(time.Minute), p.LastRestock)

	// staying in stock is not another restock
	f.cycle()
	require.Len(t, f.sender.alerts(), 2)
}

func TestNotifiesOnlyOnOutToIn(t *testing.T) {
	f := setup(t, Config{})
	f.addProduct(t, "p", tracker.StatusUnknown)
	f.subscribe(t, "chan", "p")

	sequence := []string{inStockPage, outOfStockPage, outOfStockPage, inStockPage, inStockPage, outOfStockPage, inStockPage}
	for _, page := range sequence {
		f.fetcher.set("p", page)
		f.cycle()
	}
	require.Equal(t, []string{"chan:p", "chan:p"}, f.sender.alerts())
}

func TestFetchFailureLeavesStatus(t *testing.T) {
	f := setup(t, Config{})
	f.addProduct(t, "r", tracker.StatusOutOfStock)
	f.subscribe(t, "chan", "r")
	f.fetcher.setFunc("r", func(ctx context.Context) ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	report := f.cycle()
	require.Equal(t, 1, report.Failed)

	r := f.product(t, "r")
	require.Equal(t, tracker.StatusOutOfStock, r.Status)
	require.Equal(t, 1, r.ConsecutiveFailures)
	require.Contains(t, r.LastError, "deadline exceeded")
	require.Len(t, f.rec.Find("warning", report_monitor_fetch), 1)

	// the next cycle retries
	f.fetcher.set("r", inStockPage)
	report = f.cycle()
	require.Equal(t, 1, report.Checked)
	require.Equal(t, 2, f.fetcher.count("r"))
	require.Equal(t, []string{"chan:r"}, f.sender.alerts())

	r = f.product(t, "r")
	require.Equal(t, 0, r.ConsecutiveFailures)
	require.Equal(t, "", r.LastError)
}

func TestSameHostProductsWaitOutsideFetchTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(outOfStockPage))
	}))
	defer server.Close()

	reg := registry.New(testutil.OpenDB(t))
	clock := chrono.NewFakeTime(start)
	rec := telemetry.NewRecorder()
	notif := notifier.New(reg, &fakeSender{}, clock, rec, notifier.Config{DeliveryTimeout: time.Second})
	static := fetcher.NewStaticFetcher(250*time.Millisecond, fetcher.NewHostLimiter(100*time.Millisecond), rec)
	monitor := New(reg, fetcher.NewRouter(static, nil), notif, clock, rec, Config{Workers: 8})

	// eight requests to one host take longer than a single fetch may
	for i := 0; i < 8; i++ {
		require.NoError(t, reg.Put(context.Background(), registry.Product{
			ID:       fmt.Sprintf("p%d", i),
			Name:     "Product",
			URL:      fmt.Sprintf("%s/p%d", server.URL, i),
			Selector: "#stock",
			Marker:   "Add to Cart",
			Strategy: registry.StrategyStatic,
			Enabled:  true,
		}, start))
	}

	report := monitor.RunCycle(context.Background())
	require.Equal(t, 0, report.Failed)
	require.Equal(t, 8, report.Checked)
	require.Empty(t, rec.Find("warning", report_monitor_fetch))
}

func TestSelectorNotFoundIsAFailure(t *testing.T) {
	f := setup(t, Config{})
	f.addProduct(t, "p", tracker.StatusInStock)
	f.fetcher.set("p", brokenPage)

	report := f.cycle()
	require.Equal(t, 1, report.Failed)

	p := f.product(t, "p")
	require.Equal(t, tracker.StatusInStock, p.Status)
	require.Contains(t, p.LastError, extractor.ErrSelectorNotFound.Error())
	require.Len(t, f.rec.Find("broken", report_monitor_extract), 1)
}

func TestDisabledProductsAreNeverFetched(t *testing.T) {
	f := setup(t, Config{})
	f.addProduct(t, "off", tracker.StatusOutOfStock)
	f.subscribe(t, "chan", "off")
	f.fetcher.set("off", inStockPage)
	require.NoError(t, f.reg.SetEnabled(context.Background(), "off", false))

	for i := 0; i < 3; i++ {
		report := f.cycle()
		require.Equal(t, 0, report.Products)
	}
	require.Equal(t, 0, f.fetcher.count("off"))
	require.Empty(t, f.sender.alerts())
}

func TestInFlightProductIsSkipped(t *testing.T) {
	f := setup(t, Config{})
	f.addProduct(t, "slow", tracker.StatusOutOfStock)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.fetcher.setFunc("slow", func(ctx context.Context) ([]byte, error) {
		close(entered)
		<-release
		return []byte(outOfStockPage), nil
	})

	done := make(chan CycleReport)
	go func() {
		done <- f.monitor.RunCycle(context.Background())
	}()
	<-entered

	report := f.monitor.RunCycle(context.Background())
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, 0, report.Checked)

	close(release)
	first := <-done
	require.Equal(t, 1, first.Checked)
	require.Equal(t, 1, f.fetcher.count("slow"))
}

func TestPanicIsRecovered(t *testing.T) {
	f := setup(t, Config{})
	f.addProduct(t, "bad", tracker.StatusOutOfStock)
	f.addProduct(t, "good", tracker.StatusOutOfStock)
	f.fetcher.setFunc("bad", func(ctx context.Context) ([]byte, error) {
		panic("unexpected")
	})
	f.fetcher.set("good", inStockPage)

	report := f.cycle()
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 1, report.Checked)
	require.Len(t, f.rec.Find("broken", report_monitor_panic), 1)

	// the product is released after the panic
	f.fetcher.set("bad", outOfStockPage)
	report = f.cycle()
	require.Equal(t, 2, report.Checked)
}

func TestPendingRestockIsResumed(t *testing.T) {
	f := setup(t, Config{})
	f.addProduct(t, "p", tracker.StatusOutOfStock)
	f.subscribe(t, "chan-a", "p")
	f.subscribe(t, "chan-b", "p")

	// a restock recorded before a crash, chan-a was already alerted
	ctx := context.Background()
	require.NoError(t, f.reg.RecordObservation(ctx, registry.ObservationUpdate{
		ProductID: "p",
		Status:    tracker.StatusInStock,
		CheckedAt: start,
		Restocked: true,
	}))
	_, err := f.reg.ClaimDelivery(ctx, "chan-a", "p", start, start)
	require.NoError(t, err)

	f.fetcher.set("p", inStockPage)
	report := f.cycle()
	require.Equal(t, 1, report.Notified)
	require.Equal(t, []string{"chan-b:p"}, f.sender.alerts())
	require.False(t, f.product(t, "p").PendingNotification)
}

func TestRestockConfirmations(t *testing.T) {
	f := setup(t, Config{RestockConfirmations: 2})
	f.addProduct(t, "p", tracker.StatusInStock)
	f.subscribe(t, "chan", "p")

	// a single out of stock observation is not enough
	for _, page := range []string{outOfStockPage, inStockPage} {
		f.fetcher.set("p", page)
		f.cycle()
	}
	require.Empty(t, f.sender.alerts())

	for _, page := range []string{outOfStockPage, outOfStockPage, inStockPage} {
		f.fetcher.set("p", page)
		f.cycle()
	}
	require.Equal(t, []string{"chan:p"}, f.sender.alerts())
}

func TestCheckWithoutNotifying(t *testing.T) {
	f := setup(t, Config{})
	f.addProduct(t, "p", tracker.StatusOutOfStock)
	f.subscribe(t, "chan", "p")
	f.fetcher.set("p", inStockPage)

	result, err := f.monitor.Check(context.Background(), f.product(t, "p"), false)
	require.NoError(t, err)
	require.Equal(t, tracker.TransitionBecameInStock, result.Transition)
	require.Equal(t, tracker.StatusOutOfStock, result.Previous)
	require.Empty(t, f.sender.alerts())

	p := f.product(t, "p")
	require.Equal(t, tracker.StatusInStock, p.Status)
	require.False(t, p.PendingNotification)
}

func TestCycleDeadlineDefersUnstartedProducts(t *testing.T) {
	f := setup(t, Config{Workers: 1, CycleDeadline: 50 * time.Millisecond})
	f.addProduct(t, "a", tracker.StatusOutOfStock)
	f.addProduct(t, "b", tracker.StatusOutOfStock)
	f.fetcher.setFunc("a", func(ctx context.Context) ([]byte, error) {
		time.Sleep(100 * time.Millisecond)
		return []byte(outOfStockPage), nil
	})
	f.fetcher.set("b", outOfStockPage)

	report := f.cycle()
	require.Equal(t, 1, report.Checked)
	require.Equal(t, 1, report.Deferred)
	require.Equal(t, 0, f.fetcher.count("b"))
}

type fakeCron struct {
	specs     []string
	callbacks []func()
}

func (c *fakeCron) Cron(spec string, callback func()) error {
	c.specs = append(c.specs, spec)
	c.callbacks = append(c.callbacks, callback)
	return nil
}

func TestStartRegistersCycle(t *testing.T) {
	f := setup(t, Config{Interval: 5 * time.Minute})
	f.addProduct(t, "p", tracker.StatusOutOfStock)
	f.fetcher.set("p", outOfStockPage)

	cron := &fakeCron{}
	require.NoError(t, f.monitor.Start(context.Background(), cron))
	require.Equal(t, []string{"@every 5m0s"}, cron.specs)

	cron.callbacks[0]()
	require.Equal(t, 1, f.fetcher.count("p"))
}

func TestWaitCoversStartupCycle(t *testing.T) {
	f := setup(t, Config{Interval: 5 * time.Minute, RunOnStart: true})
	f.addProduct(t, "p", tracker.StatusOutOfStock)
	release := make(chan struct{})
	f.fetcher.setFunc("p", func(ctx context.Context) ([]byte, error) {
		<-release
		return []byte(outOfStockPage), nil
	})

	require.NoError(t, f.monitor.Start(context.Background(), &fakeCron{}))

	done := make(chan struct{})
	go func() {
		f.monitor.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("wait returned while the startup cycle was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait did not return after the startup cycle")
	}
	require.Equal(t, 1, f.fetcher.count("p"))
}
