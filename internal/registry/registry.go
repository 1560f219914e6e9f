package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"restock-monitor/internal/assert"
	"restock-monitor/internal/db"
	"restock-monitor/internal/tracker"

	"github.com/google/uuid"
)

// Registry is the persistent store of products, subscriptions and delivered alerts.
//
// Status writes are field level updates, they never rewrite a product's definition
// so a concurrent admin edit cannot be clobbered by the monitor.
type Registry struct {
	qry    *db.Queries
	makeTx db.MakeTx
}

func New(database *sql.DB) Registry {
	assert.NotNil(database, "database")
	return Registry{
		qry:    db.New(database),
		makeTx: db.NewMakeTx(database),
	}
}

func (r Registry) Get(ctx context.Context, id string) (Product, error) {
	row, err := r.qry.GetProduct(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, fmt.Errorf("product '%s': %w", id, ErrNotFound)
	}
	if err != nil {
		return Product{}, wrap("get product", err)
	}
	return productFromRow(row), nil
}

// Exists reports whether a product with the given id is registered.
func (r Registry) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns every product, or only the enabled ones when enabledOnly is set.
func (r Registry) List(ctx context.Context, enabledOnly bool) ([]Product, error) {
	var (
		rows []db.Product
		err  error
	)
	if enabledOnly {
		rows, err = r.qry.ListEnabledProducts(ctx)
	} else {
		rows, err = r.qry.ListProducts(ctx)
	}
	if err != nil {
		return nil, wrap("list products", err)
	}
	products := make([]Product, len(rows))
	for i, row := range rows {
		products[i] = productFromRow(row)
	}
	return products, nil
}

// Put creates the product if its id is unused, otherwise it replaces the product's
// definition fields. Status fields are left untouched either way, a new product
// starts out as tracker.StatusUnknown.
func (r Registry) Put(ctx context.Context, product Product, now time.Time) error {
	tx, discard, commit, err := r.makeTx(ctx)
	if err != nil {
		return wrap("put product", err)
	}
	defer discard()

	_, err = tx.GetProduct(ctx, product.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = tx.CreateProduct(ctx, db.CreateProductParams{
			ID:          product.ID,
			Name:        product.Name,
			Store:       product.Store,
			Url:         product.URL,
			CheckoutUrl: product.CheckoutURL,
			Selector:    product.Selector,
			Marker:      product.Marker,
			Strategy:    string(product.Strategy),
			Enabled:     boolInt(product.Enabled),
			CreatedAt:   now.Unix(),
		})
	case err == nil:
		_, err = tx.UpdateProductDefinition(ctx, db.UpdateProductDefinitionParams{
			Name:        product.Name,
			Store:       product.Store,
			Url:         product.URL,
			CheckoutUrl: product.CheckoutURL,
			Selector:    product.Selector,
			Marker:      product.Marker,
			Strategy:    string(product.Strategy),
			ID:          product.ID,
		})
	}
	if err != nil {
		return wrap("put product", err)
	}
	return wrap("put product", commit())
}

// Delete removes a product, its subscriptions are kept and become orphaned.
func (r Registry) Delete(ctx context.Context, id string) error {
	count, err := r.qry.DeleteProduct(ctx, id)
	if err != nil {
		return wrap("delete product", err)
	}
	if count == 0 {
		return fmt.Errorf("product '%s': %w", id, ErrNotFound)
	}
	return nil
}

func (r Registry) SetEnabled(ctx context.Context, id string, enabled bool) error {
	count, err := r.qry.SetProductEnabled(ctx, db.SetProductEnabledParams{
		Enabled: boolInt(enabled),
		ID:      id,
	})
	if err != nil {
		return wrap("set enabled", err)
	}
	if count == 0 {
		return fmt.Errorf("product '%s': %w", id, ErrNotFound)
	}
	return nil
}

// ObservationUpdate is the field level write made after a successful observation.
type ObservationUpdate struct {
	ProductID string
	Status    tracker.Status
	CheckedAt time.Time
	// Restocked records CheckedAt as the product's latest restock and marks the
	// restock as pending notification.
	Restocked bool
}

func (r Registry) RecordObservation(ctx context.Context, update ObservationUpdate) error {
	params := db.RecordObservationParams{
		Status:      string(update.Status),
		LastChecked: update.CheckedAt.Unix(),
		ID:          update.ProductID,
	}
	if update.Restocked {
		params.LastRestock = sql.NullInt64{Int64: update.CheckedAt.Unix(), Valid: true}
		params.Pending = 1
	}
	count, err := r.qry.RecordObservation(ctx, params)
	if err != nil {
		return wrap("record observation", err)
	}
	if count == 0 {
		return fmt.Errorf("product '%s': %w", update.ProductID, ErrNotFound)
	}
	return nil
}

// RecordFailure stores a failed observation, the product's status is unchanged.
func (r Registry) RecordFailure(ctx context.Context, id string, at time.Time, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	count, err := r.qry.RecordFailure(ctx, db.RecordFailureParams{
		LastChecked: at.Unix(),
		LastError:   message,
		ID:          id,
	})
	if err != nil {
		return wrap("record failure", err)
	}
	if count == 0 {
		return fmt.Errorf("product '%s': %w", id, ErrNotFound)
	}
	return nil
}

// ListPending returns products with a restock whose notification has not finished.
func (r Registry) ListPending(ctx context.Context) ([]Product, error) {
	rows, err := r.qry.ListPendingNotifications(ctx)
	if err != nil {
		return nil, wrap("list pending", err)
	}
	products := make([]Product, len(rows))
	for i, row := range rows {
		products[i] = productFromRow(row)
	}
	return products, nil
}

func (r Registry) ClearPending(ctx context.Context, id string) error {
	_, err := r.qry.ClearPendingNotification(ctx, id)
	return wrap("clear pending", err)
}

// SetStatus overrides a product's status without an observation.
func (r Registry) SetStatus(ctx context.Context, id string, status tracker.Status, at time.Time) error {
	count, err := r.qry.SetProductStatus(ctx, db.SetProductStatusParams{
		Status:                string(status),
		LastChecked:           at.Unix(),
		ConsecutiveOutOfStock: manualOutOfStockCount(status),
		ID:                    id,
	})
	if err != nil {
		return wrap("set status", err)
	}
	if count == 0 {
		return fmt.Errorf("product '%s': %w", id, ErrNotFound)
	}
	return nil
}

// ResetStatuses sets every product's status, returning how many were changed.
func (r Registry) ResetStatuses(ctx context.Context, status tracker.Status, at time.Time) (int, error) {
	count, err := r.qry.ResetProductStatuses(ctx, db.ResetProductStatusesParams{
		Status:                string(status),
		LastChecked:           at.Unix(),
		ConsecutiveOutOfStock: manualOutOfStockCount(status),
	})
	if err != nil {
		return 0, wrap("reset statuses", err)
	}
	return int(count), nil
}

// Subscribe registers a subscription, it reports false if the pair already existed.
func (r Registry) Subscribe(ctx context.Context, subscriberID, target string, now time.Time) (bool, error) {
	count, err := r.qry.CreateSubscription(ctx, db.CreateSubscriptionParams{
		SubscriberID: subscriberID,
		Target:       target,
		CreatedAt:    now.Unix(),
	})
	if err != nil {
		return false, wrap("subscribe", err)
	}
	return count > 0, nil
}

// Unsubscribe removes a subscription, it reports false if the pair didn't exist.
func (r Registry) Unsubscribe(ctx context.Context, subscriberID, target string) (bool, error) {
	count, err := r.qry.DeleteSubscription(ctx, db.DeleteSubscriptionParams{
		SubscriberID: subscriberID,
		Target:       target,
	})
	if err != nil {
		return false, wrap("unsubscribe", err)
	}
	return count > 0, nil
}

func (r Registry) ListBySubscriber(ctx context.Context, subscriberID string) ([]Subscription, error) {
	rows, err := r.qry.ListSubscriptionsBySubscriber(ctx, subscriberID)
	if err != nil {
		return nil, wrap("list subscriptions", err)
	}
	return subscriptionsFromRows(rows), nil
}

// ListForProduct returns the ids of everyone subscribed to the product directly or
// through a wildcard, each id at most once.
func (r Registry) ListForProduct(ctx context.Context, productID string) ([]string, error) {
	subscribers, err := r.qry.ListSubscribersForProduct(ctx, productID)
	if err != nil {
		return nil, wrap("list subscribers", err)
	}
	return subscribers, nil
}

// ListOrphaned returns specific subscriptions whose product no longer exists.
func (r Registry) ListOrphaned(ctx context.Context) ([]Subscription, error) {
	rows, err := r.qry.ListOrphanedSubscriptions(ctx)
	if err != nil {
		return nil, wrap("list orphaned", err)
	}
	return subscriptionsFromRows(rows), nil
}

func (r Registry) DeleteOrphaned(ctx context.Context) (int, error) {
	count, err := r.qry.DeleteOrphanedSubscriptions(ctx)
	if err != nil {
		return 0, wrap("delete orphaned", err)
	}
	return int(count), nil
}

// ClaimDelivery records that the alert for one restock is being delivered to a
// subscriber. Only the first claim for a (subscriber, product, restock) triple
// succeeds, which keeps a restock from alerting anyone twice across restarts.
func (r Registry) ClaimDelivery(ctx context.Context, subscriberID, productID string, restockAt, now time.Time) (bool, error) {
	count, err := r.qry.CreateDelivery(ctx, db.CreateDeliveryParams{
		ID:           uuid.NewString(),
		SubscriberID: subscriberID,
		ProductID:    productID,
		RestockAt:    restockAt.Unix(),
		DeliveredAt:  now.Unix(),
	})
	if err != nil {
		return false, wrap("claim delivery", err)
	}
	return count > 0, nil
}

// an operator marking a product out of stock counts as one out of stock observation
func manualOutOfStockCount(status tracker.Status) int64 {
	if status == tracker.StatusOutOfStock {
		return 1
	}
	return 0
}

func subscriptionsFromRows(rows []db.Subscription) []Subscription {
	subscriptions := make([]Subscription, len(rows))
	for i, row := range rows {
		subscriptions[i] = subscriptionFromRow(row)
	}
	return subscriptions
}
