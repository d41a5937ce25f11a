package entity

import (
	"time"

	"github.com/goliatone/go-biocore/flow"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderDraft          OrderStatus = "draft"
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderPaid           OrderStatus = "paid"
	OrderProcessing     OrderStatus = "processing"
	OrderShipped        OrderStatus = "shipped"
	OrderDelivered      OrderStatus = "delivered"
	OrderCancelled      OrderStatus = "cancelled"
	OrderRefunded       OrderStatus = "refunded"
)

type OrderItem struct {
	SKU       string          `json:"sku" yaml:"sku"`
	Quantity  int             `json:"quantity" yaml:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" yaml:"unit_price"`
}

type Order struct {
	ID                 string          `json:"id" yaml:"id"`
	CustomerID         string          `json:"customer_id,omitempty" yaml:"customer_id,omitempty"`
	Items              []OrderItem     `json:"items" yaml:"items"`
	ShippingAddress    string          `json:"shipping_address" yaml:"shipping_address"`
	Total              decimal.Decimal `json:"total" yaml:"total"`
	PaymentConfirmed   bool            `json:"payment_confirmed" yaml:"payment_confirmed"`
	PaymentAmount      decimal.Decimal `json:"payment_amount" yaml:"payment_amount"`
	InventoryReserved  bool            `json:"inventory_reserved" yaml:"inventory_reserved"`
	OnHold             bool            `json:"on_hold" yaml:"on_hold"`
	PaidAt             *time.Time      `json:"paid_at,omitempty" yaml:"paid_at,omitempty"`
	ShippedAt          *time.Time      `json:"shipped_at,omitempty" yaml:"shipped_at,omitempty"`
	DeliveredAt        *time.Time      `json:"delivered_at,omitempty" yaml:"delivered_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty" yaml:"cancelled_at,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty" yaml:"cancellation_reason,omitempty"`
	RefundedAt         *time.Time      `json:"refunded_at,omitempty" yaml:"refunded_at,omitempty"`

	flow.Lifecycle[OrderStatus] `yaml:",inline"`
}

func (o *Order) EntityID() string { return o.ID }

// NewOrder creates a draft order.
func NewOrder(id string) *Order {
	if id == "" {
		id = NewID()
	}
	return &Order{ID: id, Lifecycle: flow.Lifecycle[OrderStatus]{Status: OrderDraft}}
}

// ItemsTotal sums quantity times unit price over all items.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

var orderTable = tableSpec[*Order, OrderStatus]{
	kind:    KindOrder,
	initial: OrderDraft,
	states: []OrderStatus{
		OrderDraft, OrderPendingPayment, OrderPaid, OrderProcessing,
		OrderShipped, OrderDelivered, OrderCancelled, OrderRefunded,
	},
	moves: []move[OrderStatus]{
		{OrderDraft, []OrderStatus{OrderPendingPayment, OrderCancelled}},
		{OrderPendingPayment, []OrderStatus{OrderPaid, OrderCancelled}},
		{OrderPaid, []OrderStatus{OrderProcessing, OrderCancelled, OrderRefunded}},
		{OrderProcessing, []OrderStatus{OrderShipped, OrderCancelled}},
		{OrderShipped, []OrderStatus{OrderDelivered}},
		{OrderDelivered, []OrderStatus{OrderRefunded}},
	},
	edges: map[[2]OrderStatus]rule[*Order]{
		{OrderDraft, OrderPendingPayment}: {guards: []flow.Guard[*Order]{
			func(o *Order, _ flow.Metadata, _ time.Time) error {
				return flow.Check(len(o.Items) > 0 && o.ShippingAddress != "",
					"Order requires at least one item and a shipping address")
			},
		}},
		{OrderPendingPayment, OrderPaid}: {
			guards: []flow.Guard[*Order]{
				func(o *Order, _ flow.Metadata, _ time.Time) error {
					return flow.Check(o.PaymentConfirmed, "Payment must be confirmed")
				},
				func(o *Order, meta flow.Metadata, _ time.Time) error {
					paid := o.PaymentAmount
					if amount, ok := metaAmount(meta); ok {
						paid = amount
					}
					return flow.Check(paid.GreaterThanOrEqual(o.Total),
						"Payment amount "+paid.StringFixed(2)+" must cover order total "+o.Total.StringFixed(2))
				},
			},
			effects: []flow.Effect[*Order]{func(o *Order, meta flow.Metadata, now time.Time) {
				if amount, ok := metaAmount(meta); ok {
					o.PaymentAmount = amount
				}
				o.PaidAt = stamp(now)
			}},
		},
		{OrderPaid, OrderProcessing}: {guards: []flow.Guard[*Order]{
			func(o *Order, _ flow.Metadata, _ time.Time) error {
				return flow.Check(o.InventoryReserved, "Inventory must be reserved before processing")
			},
			func(o *Order, _ flow.Metadata, _ time.Time) error {
				return flow.Check(!o.OnHold, "Order is on hold")
			},
		}},
		{OrderPaid, OrderCancelled}: {guards: []flow.Guard[*Order]{
			func(o *Order, _ flow.Metadata, _ time.Time) error {
				return flow.Check(!o.InventoryReserved, "Cannot cancel a paid order once inventory is reserved")
			},
		}},
	},
	enter: map[OrderStatus]rule[*Order]{
		OrderShipped: {effects: []flow.Effect[*Order]{func(o *Order, _ flow.Metadata, now time.Time) {
			o.ShippedAt = stamp(now)
		}}},
		OrderDelivered: {effects: []flow.Effect[*Order]{func(o *Order, _ flow.Metadata, now time.Time) {
			o.DeliveredAt = stamp(now)
		}}},
		OrderCancelled: {effects: []flow.Effect[*Order]{func(o *Order, meta flow.Metadata, now time.Time) {
			o.CancelledAt = stamp(now)
			o.CancellationReason = firstNonEmpty(meta.Reason, meta.Notes)
		}}},
		OrderRefunded: {effects: []flow.Effect[*Order]{func(o *Order, _ flow.Metadata, now time.Time) {
			o.RefundedAt = stamp(now)
		}}},
	},
}.compile()

// OrderTable is the compiled order lifecycle.
func OrderTable() *flow.CompiledTable[*Order, OrderStatus] { return orderTable }
