// source: query.sql

package db

import (
	"context"
	"database/sql"
)

const productColumns = `id, name, store, url, checkout_url, selector, marker, strategy, enabled, status,
last_checked, last_restock, last_error, consecutive_failures, consecutive_out_of_stock,
pending_notification, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var i Product
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Store,
		&i.Url,
		&i.CheckoutUrl,
		&i.Selector,
		&i.Marker,
		&i.Strategy,
		&i.Enabled,
		&i.Status,
		&i.LastChecked,
		&i.LastRestock,
		&i.LastError,
		&i.ConsecutiveFailures,
		&i.ConsecutiveOutOfStock,
		&i.PendingNotification,
		&i.CreatedAt,
	)
	return i, err
}

func (q *Queries) queryProducts(ctx context.Context, query string, args ...any) ([]Product, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Product
	for rows.Next() {
		i, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func execRows(result sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const createProduct = `insert into products (
    id, name, store, url, checkout_url, selector, marker, strategy, enabled, status, created_at
) values (?, ?, ?, ?, ?, ?, ?, ?, ?, 'unknown', ?)`

type CreateProductParams struct {
	ID          string
	Name        string
	Store       string
	Url         string
	CheckoutUrl string
	Selector    string
	Marker      string
	Strategy    string
	Enabled     int64
	CreatedAt   int64
}

func (q *Queries) CreateProduct(ctx context.Context, arg CreateProductParams) error {
	_, err := q.db.ExecContext(ctx, createProduct,
		arg.ID,
		arg.Name,
		arg.Store,
		arg.Url,
		arg.CheckoutUrl,
		arg.Selector,
		arg.Marker,
		arg.Strategy,
		arg.Enabled,
		arg.CreatedAt,
	)
	return err
}

const getProduct = `select ` + productColumns + ` from products where id = ?`

func (q *Queries) GetProduct(ctx context.Context, id string) (Product, error) {
	row := q.db.QueryRowContext(ctx, getProduct, id)
	return scanProduct(row)
}

const listProducts = `select ` + productColumns + ` from products order by name, id`

func (q *Queries) ListProducts(ctx context.Context) ([]Product, error) {
	return q.queryProducts(ctx, listProducts)
}

const listEnabledProducts = `select ` + productColumns + ` from products where enabled = 1 order by name, id`

func (q *Queries) ListEnabledProducts(ctx context.Context) ([]Product, error) {
	return q.queryProducts(ctx, listEnabledProducts)
}

const listPendingNotifications = `select ` + productColumns + ` from products where pending_notification = 1 order by id`

func (q *Queries) ListPendingNotifications(ctx context.Context) ([]Product, error) {
	return q.queryProducts(ctx, listPendingNotifications)
}

const updateProductDefinition = `update products set
    name = ?, store = ?, url = ?, checkout_url = ?, selector = ?, marker = ?, strategy = ?
where id = ?`

type UpdateProductDefinitionParams struct {
	Name        string
	Store       string
	Url         string
	CheckoutUrl string
	Selector    string
	Marker      string
	Strategy    string
	ID          string
}

func (q *Queries) UpdateProductDefinition(ctx context.Context, arg UpdateProductDefinitionParams) (int64, error) {
	return execRows(q.db.ExecContext(ctx, updateProductDefinition,
		arg.Name,
		arg.Store,
		arg.Url,
		arg.CheckoutUrl,
		arg.Selector,
		arg.Marker,
		arg.Strategy,
		arg.ID,
	))
}

const deleteProduct = `delete from products where id = ?`

func (q *Queries) DeleteProduct(ctx context.Context, id string) (int64, error) {
	return execRows(q.db.ExecContext(ctx, deleteProduct, id))
}

const setProductEnabled = `update products set enabled = ? where id = ?`

type SetProductEnabledParams struct {
	Enabled int64
	ID      string
}

func (q *Queries) SetProductEnabled(ctx context.Context, arg SetProductEnabledParams) (int64, error) {
	return execRows(q.db.ExecContext(ctx, setProductEnabled, arg.Enabled, arg.ID))
}

const recordObservation = `update products set
    status = ?,
    last_checked = ?,
    last_restock = coalesce(?, last_restock),
    pending_notification = case when ? = 1 then 1 else pending_notification end,
    consecutive_out_of_stock = case when ? = 'out_of_stock' then consecutive_out_of_stock + 1 else 0 end,
    consecutive_failures = 0,
    last_error = ''
where id = ?`

type RecordObservationParams struct {
	Status      string
	LastChecked int64
	LastRestock sql.NullInt64
	Pending     int64
	ID          string
}

func (q *Queries) RecordObservation(ctx context.Context, arg RecordObservationParams) (int64, error) {
	return execRows(q.db.ExecContext(ctx, recordObservation,
		arg.Status,
		arg.LastChecked,
		arg.LastRestock,
		arg.Pending,
		arg.Status,
		arg.ID,
	))
}

const recordFailure = `update products set
    last_checked = ?,
    last_error = ?,
    consecutive_failures = consecutive_failures + 1
where id = ?`

type RecordFailureParams struct {
	LastChecked int64
	LastError   string
	ID          string
}

func (q *Queries) RecordFailure(ctx context.Context, arg RecordFailureParams) (int64, error) {
	return execRows(q.db.ExecContext(ctx, recordFailure, arg.LastChecked, arg.LastError, arg.ID))
}

const clearPendingNotification = `update products set pending_notification = 0 where id = ?`

func (q *Queries) ClearPendingNotification(ctx context.Context, id string) (int64, error) {
	return execRows(q.db.ExecContext(ctx, clearPendingNotification, id))
}

const setProductStatus = `update products set status = ?, last_checked = ?, consecutive_out_of_stock = ? where id = ?`

type SetProductStatusParams struct {
	Status                string
	LastChecked           int64
	ConsecutiveOutOfStock int64
	ID                    string
}

func (q *Queries) SetProductStatus(ctx context.Context, arg SetProductStatusParams) (int64, error) {
	return execRows(q.db.ExecContext(ctx, setProductStatus,
		arg.Status,
		arg.LastChecked,
		arg.ConsecutiveOutOfStock,
		arg.ID,
	))
}

const resetProductStatuses = `update products set status = ?, last_checked = ?, consecutive_out_of_stock = ?`

type ResetProductStatusesParams struct {
	Status                string
	LastChecked           int64
	ConsecutiveOutOfStock int64
}

func (q *Queries) ResetProductStatuses(ctx context.Context, arg ResetProductStatusesParams) (int64, error) {
	return execRows(q.db.ExecContext(ctx, resetProductStatuses,
		arg.Status,
		arg.LastChecked,
		arg.ConsecutiveOutOfStock,
	))
}

const createSubscription = `insert or ignore into subscriptions (subscriber_id, target, created_at) values (?, ?, ?)`

type CreateSubscriptionParams struct {
	SubscriberID string
	Target       string
	CreatedAt    int64
}

func (q *Queries) CreateSubscription(ctx context.Context, arg CreateSubscriptionParams) (int64, error) {
	return execRows(q.db.ExecContext(ctx, createSubscription, arg.SubscriberID, arg.Target, arg.CreatedAt))
}

const deleteSubscription = `delete from subscriptions where subscriber_id = ? and target = ?`

type DeleteSubscriptionParams struct {
	SubscriberID string
	Target       string
}

func (q *Queries) DeleteSubscription(ctx context.Context, arg DeleteSubscriptionParams) (int64, error) {
	return execRows(q.db.ExecContext(ctx, deleteSubscription, arg.SubscriberID, arg.Target))
}

func (q *Queries) querySubscriptions(ctx context.Context, query string, args ...any) ([]Subscription, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Subscription
	for rows.Next() {
		var i Subscription
		if err := rows.Scan(&i.SubscriberID, &i.Target, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listSubscriptionsBySubscriber = `select subscriber_id, target, created_at from subscriptions
where subscriber_id = ? order by created_at, target`

func (q *Queries) ListSubscriptionsBySubscriber(ctx context.Context, subscriberID string) ([]Subscription, error) {
	return q.querySubscriptions(ctx, listSubscriptionsBySubscriber, subscriberID)
}

const listSubscribersForProduct = `select distinct subscriber_id from subscriptions
where target = ? or target = '*'
order by subscriber_id`

func (q *Queries) ListSubscribersForProduct(ctx context.Context, productID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listSubscribersForProduct, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var subscriberID string
		if err := rows.Scan(&subscriberID); err != nil {
			return nil, err
		}
		items = append(items, subscriberID)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listOrphanedSubscriptions = `select subscriber_id, target, created_at from subscriptions
where target != '*' and target not in (select id from products)
order by subscriber_id, target`

func (q *Queries) ListOrphanedSubscriptions(ctx context.Context) ([]Subscription, error) {
	return q.querySubscriptions(ctx, listOrphanedSubscriptions)
}

const deleteOrphanedSubscriptions = `delete from subscriptions
where target != '*' and target not in (select id from products)`

func (q *Queries) DeleteOrphanedSubscriptions(ctx context.Context) (int64, error) {
	return execRows(q.db.ExecContext(ctx, deleteOrphanedSubscriptions))
}

const createDelivery = `insert or ignore into deliveries (id, subscriber_id, product_id, restock_at, delivered_at)
values (?, ?, ?, ?, ?)`

type CreateDeliveryParams struct {
	ID           string
	SubscriberID string
	ProductID    string
	RestockAt    int64
	DeliveredAt  int64
}

func (q *Queries) CreateDelivery(ctx context.Context, arg CreateDeliveryParams) (int64, error) {
	return execRows(q.db.ExecContext(ctx, createDelivery,
		arg.ID,
		arg.SubscriberID,
		arg.ProductID,
		arg.RestockAt,
		arg.DeliveredAt,
	))
}
