// Package catalog holds the entity types this binary synchronizes.
package catalog

import (
	"time"

	"statesync/internal/model"
	"statesync/internal/query"
)

// OrderEntity is the registered name of Order.
const OrderEntity = "order"

// OrderVersion is bumped whenever Order changes shape incompatibly.
const OrderVersion = 1

// Order statuses.
const (
	OrderPending   = "Pending"
	OrderShipped   = "Shipped"
	OrderDelivered = "Delivered"
	OrderCancelled = "Cancelled"
)

// Order is a customer order.
type Order struct {
	model.Meta
	Customer    string     `json:"customer"`
	Status      string     `json:"status"`
	Items       int        `json:"items"`
	Total       float64    `json:"total"`
	Paid        bool       `json:"paid"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

func (o Order) WithMeta(m model.Meta) Order { o.Meta = m; return o }

// Clone copies the delivery time so history snapshots do not share it.
func (o Order) Clone() Order {
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		o.DeliveredAt = &t
	}
	return o
}

// OrderSchema lists the queryable fields of Order.
var OrderSchema = query.MustSchema[Order](
	query.StringField("customer", func(o Order) string { return o.Customer }),
	query.StringField("status", func(o Order) string { return o.Status }),
	query.IntField("items", func(o Order) int { return o.Items }),
	query.FloatField("total", func(o Order) float64 { return o.Total }),
	query.BoolField("paid", func(o Order) bool { return o.Paid }),
	query.OptionalTime("deliveredAt", func(o Order) *time.Time { return o.DeliveredAt }),
	query.StringField("notes", func(o Order) string { return o.Notes }),
)
