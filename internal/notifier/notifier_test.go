package notifier

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"restock-monitor/internal/components/chrono"
	"restock-monitor/internal/components/telemetry"
	"restock-monitor/internal/db"
	"restock-monitor/internal/messaging"
	"restock-monitor/internal/registry"
	"restock-monitor/internal/testutil"
	"restock-monitor/internal/tracker"

	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeSender struct {
	mutex  sync.Mutex
	sent   map[string][]messaging.Alert
	failOn map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		sent:   make(map[string][]messaging.Alert),
		failOn: make(map[string]bool),
	}
}

func (f *fakeSender) Send(ctx context.Context, subscriberID string, alert messaging.Alert) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.failOn[subscriberID] {
		return errors.New("channel unavailable")
	}
	f.sent[subscriberID] = append(f.sent[subscriberID], alert)
	return nil
}

func (f *fakeSender) recipients() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	var out []string
	for id := range f.sent {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type fixture struct {
	reg    registry.Registry
	sender *fakeSender
	rec    *telemetry.Recorder
	notif  Notifier
}

func setup(t *testing.T, config Config) fixture {
	reg := registry.New(testutil.OpenDB(t))
	sender := newFakeSender()
	rec := telemetry.NewRecorder()
	if config.DeliveryTimeout == 0 {
		config.DeliveryTimeout = time.Second
	}
	notif := New(reg, sender, chrono.NewFakeTime(start), rec, config)

	ctx := context.Background()
	for _, id := range []string{"p", "q"} {
		require.NoError(t, reg.Put(ctx, registry.Product{
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
	}
	subscriptions := [][2]string{
		{"direct-p", "p"},
		{"direct-q", "q"},
		{"wildcard", db.WildcardTarget},
		{"both", "p"},
		{"both", db.WildcardTarget},
	}
	for _, sub := range subscriptions {
		_, err := reg.Subscribe(ctx, sub[0], sub[1], start)
		require.NoError(t, err)
	}

	return fixture{reg: reg, sender: sender, rec: rec, notif: notif}
}

func restocked(t *testing.T, f fixture, id string, at time.Time) registry.Product {
	ctx := context.Background()
	require.NoError(t, f.reg.RecordObservation(ctx, registry.ObservationUpdate{
		ProductID: id,
		Status:    tracker.StatusInStock,
		CheckedAt: at,
		Restocked: true,
	}))
	product, err := f.reg.Get(ctx, id)
	require.NoError(t, err)
	return product
}

func TestNotifyRestockFanOut(t *testing.T) {
	f := setup(t, Config{})
	product := restocked(t, f, "p", start.Add(time.Minute))

	report, err := f.notif.Notify(context.Background(), product, tracker.TransitionBecameInStock)
	require.NoError(t, err)
	require.Equal(t, 3, report.Subscribers)
	require.Equal(t, 3, report.Sent)

	require.Equal(t, []string{"both", "direct-p", "wildcard"}, f.sender.recipients())
	for _, alerts := range f.sender.sent {
		require.Len(t, alerts, 1)
		require.Equal(t, messaging.AlertRestock, alerts[0].Kind)
		require.Equal(t, "Product p", alerts[0].ProductName)
		require.Equal(t, "https://shop.test/p", alerts[0].ProductURL)
		require.Equal(t, "https://shop.test/cart/p", alerts[0].CheckoutURL)
		require.Equal(t, start.Add(time.Minute), alerts[0].DetectedAt)
	}
}

func TestNotifyIsAtMostOncePerRestock(t *testing.T) {
	f := setup(t, Config{})
	product := restocked(t, f, "q", start.Add(time.Minute))

	_, err := f.notif.Notify(context.Background(), product, tracker.TransitionBecameInStock)
	require.NoError(t, err)

	report, err := f.notif.Notify(context.Background(), product, tracker.TransitionBecameInStock)
	require.NoError(t, err)
	require.Equal(t, 0, report.Sent)
	require.Equal(t, 3, report.Skipped)
	for _, alerts := range f.sender.sent {
		require.Len(t, alerts, 1)
	}

	// a later restock is a new event
	product = restocked(t, f, "q", start.Add(time.Hour))
	report, err = f.notif.Notify(context.Background(), product, tracker.TransitionBecameInStock)
	require.NoError(t, err)
	require.Equal(t, 3, report.Sent)
}

func TestNotifyIsolatesDeliveryFailures(t *testing.T) {
	f := setup(t, Config{})
	f.sender.failOn["both"] = true
	product := restocked(t, f, "p", start.Add(time.Minute))

	report, err := f.notif.Notify(context.Background(), product, tracker.TransitionBecameInStock)
	require.NoError(t, err)
	require.Equal(t, 2, report.Sent)
	require.Len(t, report.Failed, 1)
	require.Equal(t, "both", report.Failed[0].SubscriberID)
	require.ErrorContains(t, report.Failed[0], "channel unavailable")
	require.Equal(t, []string{"direct-p", "wildcard"}, f.sender.recipients())
	require.Len(t, f.rec.Find("warning", report_notifier_deliver), 1)
}

func TestNotifyIgnoresOtherTransitions(t *testing.T) {
	f := setup(t, Config{})
	product, err := f.reg.Get(context.Background(), "p")
	require.NoError(t, err)

	for _, transition := range []tracker.Transition{tracker.TransitionNone, tracker.TransitionBecameOutOfStock} {
		report, err := f.notif.Notify(context.Background(), product, transition)
		require.NoError(t, err)
		require.Equal(t, 0, report.Sent)
	}
	require.Empty(t, f.sender.recipients())
}

func TestNotifyOutOfStockWhenEnabled(t *testing.T) {
	f := setup(t, Config{NotifyOutOfStock: true})
	product, err := f.reg.Get(context.Background(), "q")
	require.NoError(t, err)

	report, err := f.notif.Notify(context.Background(), product, tracker.TransitionBecameOutOfStock)
	require.NoError(t, err)
	require.Equal(t, 3, report.Sent)
	require.Equal(t, messaging.AlertOutOfStock, f.sender.sent["direct-q"][0].Kind)
}

type brokenSubscribers struct {
	listErr  error
	claimErr error
}

func (b brokenSubscribers) ListForProduct(ctx context.Context, productID string) ([]string, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	return []string{"a", "b"}, nil
}

func (b brokenSubscribers) ClaimDelivery(ctx context.Context, subscriberID, productID string, restockAt, now time.Time) (bool, error) {
	if b.claimErr != nil && subscriberID == "a" {
		return false, b.claimErr
	}
	return true, nil
}

func TestNotifyReportsRetryableFailures(t *testing.T) {
	product := registry.Product{ID: "p", Name: "P", LastRestock: start}
	rec := telemetry.NewRecorder()

	sender := newFakeSender()
	notif := New(brokenSubscribers{listErr: errors.New("disk full")}, sender, chrono.NewFakeTime(start), rec, Config{DeliveryTimeout: time.Second})
	_, err := notif.Notify(context.Background(), product, tracker.TransitionBecameInStock)
	require.ErrorContains(t, err, "disk full")
	require.Len(t, rec.Find("broken", report_notifier_list_subscribers), 1)

	notif = New(brokenSubscribers{claimErr: errors.New("locked")}, sender, chrono.NewFakeTime(start), rec, Config{DeliveryTimeout: time.Second})
	report, err := notif.Notify(context.Background(), product, tracker.TransitionBecameInStock)
	var deliveryErr *DeliveryError
	require.True(t, errors.As(err, &deliveryErr))
	require.Equal(t, "a", deliveryErr.SubscriberID)
	require.Equal(t, 1, report.Sent)
	require.Equal(t, []string{"b"}, sender.recipients())
}
