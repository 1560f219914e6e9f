package service

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"restock-monitor/internal/components/chrono"
	"restock-monitor/internal/components/telemetry"
	"restock-monitor/internal/db"
	"restock-monitor/internal/registry"
	"restock-monitor/internal/scheduler"
	"restock-monitor/internal/testutil"
	"restock-monitor/internal/tracker"

	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeChecker struct {
	mutex  sync.Mutex
	checks []string
	notify []bool
	cycles int
}

func (f *fakeChecker) Check(ctx context.Context, product registry.Product, notify bool) (scheduler.Result, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.checks = append(f.checks, product.ID)
	f.notify = append(f.notify, notify)
	return scheduler.Result{Transition: tracker.TransitionNone}, nil
}

func (f *fakeChecker) RunCycle(ctx context.Context) scheduler.CycleReport {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.cycles++
	return scheduler.CycleReport{}
}

func setup(t *testing.T) (Service, *fakeChecker) {
	checker := &fakeChecker{}
	s := New(
		registry.New(testutil.OpenDB(t)),
		checker,
		WithTimeAPI(chrono.NewFakeTime(start)),
		WithTelemetryAPI(telemetry.NewRecorder()),
	)
	return s, checker
}

func request(name string) AddProductRequest {
	return AddProductRequest{
		Name:        name,
		Store:       "Poke Mart",
		URL:         "https://pokemart.test/" + url.PathEscape(name),
		CheckoutURL: "https://pokemart.test/cart",
		Selector:    "#stock",
		Marker:      "Add to Cart",
	}
}

func TestAddProductDerivesID(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	id, err := s.AddProduct(ctx, request("Booster Box v2.0"))
	require.NoError(t, err)
	require.Equal(t, "poke_mart_booster_box_v20", id)

	id, err = s.AddProduct(ctx, request("Booster Box v2.0"))
	require.NoError(t, err)
	require.Equal(t, "poke_mart_booster_box_v20_1", id)

	id, err = s.AddProduct(ctx, request("Booster Box v2.0"))
	require.NoError(t, err)
	require.Equal(t, "poke_mart_booster_box_v20_2", id)

	product, err := s.GetProduct(ctx, "poke_mart_booster_box_v20")
	require.NoError(t, err)
	require.Equal(t, tracker.StatusUnknown, product.Status)
	require.Equal(t, registry.StrategyStatic, product.Strategy)
	require.True(t, product.Enabled)
	require.Equal(t, start, product.CreatedAt)
}

func TestAddProductExplicitID(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	req := request("Elite Trainer Box")
	req.ID = "etb"
	req.Strategy = "dynamic"
	id, err := s.AddProduct(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "etb", id)

	product, err := s.GetProduct(ctx, "etb")
	require.NoError(t, err)
	require.Equal(t, registry.StrategyDynamic, product.Strategy)

	_, err = s.AddProduct(ctx, req)
	require.ErrorIs(t, err, ErrAlreadyExists)

	req.ID = "Not Valid"
	_, err = s.AddProduct(ctx, req)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAddProductValidation(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	mutations := []func(r *AddProductRequest){
		func(r *AddProductRequest) { r.Name = " " },
		func(r *AddProductRequest) { r.Store = "" },
		func(r *AddProductRequest) { r.URL = "pokemart.test/item" },
		func(r *AddProductRequest) { r.URL = "ftp://pokemart.test/item" },
		func(r *AddProductRequest) { r.CheckoutURL = "/cart" },
		func(r *AddProductRequest) { r.Selector = "div[" },
		func(r *AddProductRequest) { r.Selector = "" },
		func(r *AddProductRequest) { r.Marker = "" },
		func(r *AddProductRequest) { r.Strategy = "telepathy" },
	}
	for i, mutate := range mutations {
		req := request("Tin")
		mutate(&req)
		_, err := s.AddProduct(ctx, req)
		require.ErrorIs(t, err, ErrInvalidArgument, "mutation %d", i)
	}

	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	require.Empty(t, products)

	// the checkout url defaults to the product url
	req := request("Tin")
	req.CheckoutURL = ""
	id, err := s.AddProduct(ctx, req)
	require.NoError(t, err)
	product, err := s.GetProduct(ctx, id)
	require.NoError(t, err)
	require.Equal(t, req.URL, product.CheckoutURL)
}

func TestRemoveAndToggle(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	id, err := s.AddProduct(ctx, request("Tin"))
	require.NoError(t, err)

	require.NoError(t, s.ToggleProduct(ctx, id, false))
	product, err := s.GetProduct(ctx, id)
	require.NoError(t, err)
	require.False(t, product.Enabled)

	// editing keeps the enabled flag and status
	require.NoError(t, s.SetStatus(ctx, id, "in"))
	edit := request("Tin")
	edit.Selector = ".buy"
	require.NoError(t, s.UpdateProduct(ctx, id, edit))
	product, err = s.GetProduct(ctx, id)
	require.NoError(t, err)
	require.False(t, product.Enabled)
	require.Equal(t, ".buy", product.Selector)
	require.Equal(t, tracker.StatusInStock, product.Status)

	require.NoError(t, s.RemoveProduct(ctx, id))
	require.ErrorIs(t, s.RemoveProduct(ctx, id), ErrNotFound)
	require.ErrorIs(t, s.ToggleProduct(ctx, id, true), ErrNotFound)
	require.ErrorIs(t, s.UpdateProduct(ctx, id, edit), ErrNotFound)
}

func TestSubscribe(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	id, err := s.AddProduct(ctx, request("Surging Sparks Booster Bundle"))
	require.NoError(t, err)

	result, err := s.Subscribe(ctx, "channel-1", "")
	require.NoError(t, err)
	require.Equal(t, db.WildcardTarget, result.Target)
	require.True(t, result.Created)

	result, err = s.Subscribe(ctx, "channel-1", id)
	require.NoError(t, err)
	require.Equal(t, id, result.Target)
	require.Equal(t, "Surging Sparks Booster Bundle", result.ProductName)

	result, err = s.Subscribe(ctx, "channel-1", "surging sparks booster bundle")
	require.NoError(t, err)
	require.Equal(t, id, result.Target)
	require.False(t, result.Created)

	result, err = s.Subscribe(ctx, "channel-2", "Surging Sparks Booster Bundl")
	require.NoError(t, err)
	require.Equal(t, id, result.Target)

	_, err = s.Subscribe(ctx, "channel-2", "completely unrelated thing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Subscribe(ctx, " ", id)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUnsubscribe(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	a, err := s.AddProduct(ctx, request("Tin"))
	require.NoError(t, err)
	b, err := s.AddProduct(ctx, request("Binder"))
	require.NoError(t, err)

	for _, target := range []string{"", a, b} {
		_, err := s.Subscribe(ctx, "dm-1", target)
		require.NoError(t, err)
	}

	removed, err := s.Unsubscribe(ctx, "dm-1", "Binder")
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = s.Unsubscribe(ctx, "dm-1", "Binder")
	require.ErrorIs(t, err, ErrNotFound)

	removed, err = s.Unsubscribe(ctx, "dm-1", "")
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	subs, err := s.ListSubscriptions(ctx, "dm-1")
	require.NoError(t, err)
	require.Empty(t, subs)
}

func TestOrphanedSubscriptions(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	a, err := s.AddProduct(ctx, request("Tin"))
	require.NoError(t, err)
	_, err = s.Subscribe(ctx, "channel-1", a)
	require.NoError(t, err)
	_, err = s.Subscribe(ctx, "channel-1", "")
	require.NoError(t, err)

	require.NoError(t, s.RemoveProduct(ctx, a))

	subs, err := s.ListSubscriptions(ctx, "channel-1")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	orphaned := 0
	for _, sub := range subs {
		if sub.Orphaned {
			orphaned++
			require.Equal(t, a, sub.Target)
		}
	}
	require.Equal(t, 1, orphaned)

	// an orphaned subscription can still be removed by its id
	removed, err := s.Unsubscribe(ctx, "channel-1", a)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = s.Subscribe(ctx, "channel-1", a)
	require.ErrorIs(t, err, ErrNotFound)

	count, err := s.PruneOrphanedSubscriptions(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestStatuses(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	a, err := s.AddProduct(ctx, request("Tin"))
	require.NoError(t, err)
	_, err = s.AddProduct(ctx, request("Binder"))
	require.NoError(t, err)

	require.ErrorIs(t, s.SetStatus(ctx, a, "sideways"), ErrInvalidArgument)
	require.ErrorIs(t, s.SetStatus(ctx, "missing", "in"), ErrNotFound)
	require.NoError(t, s.SetStatus(ctx, a, "In"))

	count, err := s.ResetAllStatuses(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	for _, p := range products {
		require.Equal(t, tracker.StatusOutOfStock, p.Status)
	}
}

func TestChecksNeverNotify(t *testing.T) {
	s, checker := setup(t)
	ctx := context.Background()

	a, err := s.AddProduct(ctx, request("Tin"))
	require.NoError(t, err)
	b, err := s.AddProduct(ctx, request("Binder"))
	require.NoError(t, err)
	require.NoError(t, s.ToggleProduct(ctx, b, false))

	_, err = s.CheckProduct(ctx, a)
	require.NoError(t, err)
	_, err = s.CheckProduct(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	outcomes, err := s.CheckAllProducts(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	require.Equal(t, []string{a, a}, checker.checks)
	require.Equal(t, []bool{false, false}, checker.notify)

	s.RunCycle(ctx)
	require.Equal(t, 1, checker.cycles)
}
