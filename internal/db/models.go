package db

import (
	"database/sql"
)

type Product struct {
	ID                    string
	Name                  string
	Store                 string
	Url                   string
	CheckoutUrl           string
	Selector              string
	Marker                string
	Strategy              string
	Enabled               int64
	Status                string
	LastChecked           sql.NullInt64
	LastRestock           sql.NullInt64
	LastError             string
	ConsecutiveFailures   int64
	ConsecutiveOutOfStock int64
	PendingNotification   int64
	CreatedAt             int64
}

type Subscription struct {
	SubscriberID string
	Target       string
	CreatedAt    int64
}

type Delivery struct {
	ID           string
	SubscriberID string
	ProductID    string
	RestockAt    int64
	DeliveredAt  int64
}
