package registry

import (
	"errors"
	"fmt"
	"time"

	"restock-monitor/internal/db"
	"restock-monitor/internal/tracker"
)

// Strategy selects how a product page is retrieved.
type Strategy string

const (
	// StrategyStatic issues a plain http request for the page.
	StrategyStatic Strategy = "static"
	// StrategyDynamic renders the page in a headless browser so client side
	// scripts can populate the stock indicator.
	StrategyDynamic Strategy = "dynamic"
)

func ParseStrategy(value string) (Strategy, error) {
	switch value {
	case "", "static":
		return StrategyStatic, nil
	case "dynamic", "render", "js":
		return StrategyDynamic, nil
	}
	return "", fmt.Errorf("unknown rendering strategy '%s'", value)
}

// Product is a monitored product page definition along with its last known status.
type Product struct {
	ID          string
	Name        string
	Store       string
	URL         string
	CheckoutURL string
	Selector    string
	Marker      string
	Strategy    Strategy
	Enabled     bool

	Status                tracker.Status
	LastChecked           time.Time
	LastRestock           time.Time
	LastError             string
	ConsecutiveFailures   int
	ConsecutiveOutOfStock int
	PendingNotification   bool
	CreatedAt             time.Time
}

// Subscription registers a subscriber's interest in one product or, when Target
// is db.WildcardTarget, in every product.
type Subscription struct {
	SubscriberID string
	Target       string
	CreatedAt    time.Time
}

func (s Subscription) Wildcard() bool {
	return s.Target == db.WildcardTarget
}

// ErrNotFound is returned when an addressed product or subscription does not exist.
var ErrNotFound = errors.New("not found")

// PersistenceError is returned whenever the underlying store fails.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

func fromUnix(value int64) time.Time {
	return time.Unix(value, 0).UTC()
}

func fromNullUnix(valid bool, value int64) time.Time {
	if !valid {
		return time.Time{}
	}
	return fromUnix(value)
}

func boolInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

func productFromRow(row db.Product) Product {
	return Product{
		ID:                    row.ID,
		Name:                  row.Name,
		Store:                 row.Store,
		URL:                   row.Url,
		CheckoutURL:           row.CheckoutUrl,
		Selector:              row.Selector,
		Marker:                row.Marker,
		Strategy:              Strategy(row.Strategy),
		Enabled:               row.Enabled != 0,
		Status:                tracker.Status(row.Status),
		LastChecked:           fromNullUnix(row.LastChecked.Valid, row.LastChecked.Int64),
		LastRestock:           fromNullUnix(row.LastRestock.Valid, row.LastRestock.Int64),
		LastError:             row.LastError,
		ConsecutiveFailures:   int(row.ConsecutiveFailures),
		ConsecutiveOutOfStock: int(row.ConsecutiveOutOfStock),
		PendingNotification:   row.PendingNotification != 0,
		CreatedAt:             fromUnix(row.CreatedAt),
	}
}

func subscriptionFromRow(row db.Subscription) Subscription {
	return Subscription{
		SubscriberID: row.SubscriberID,
		Target:       row.Target,
		CreatedAt:    fromUnix(row.CreatedAt),
	}
}
