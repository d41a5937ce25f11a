package entity

import (
	"time"

	"github.com/goliatone/go-biocore/flow"
	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "draft"
	InvoiceSent          InvoiceStatus = "sent"
	InvoiceViewed        InvoiceStatus = "viewed"
	InvoicePaid          InvoiceStatus = "paid"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceOverdue       InvoiceStatus = "overdue"
	InvoiceCancelled     InvoiceStatus = "cancelled"
	InvoiceRefunded      InvoiceStatus = "refunded"
)

type Invoice struct {
	ID          string          `json:"id" yaml:"id"`
	OrderID     string          `json:"order_id,omitempty" yaml:"order_id,omitempty"`
	CustomerID  string          `json:"customer_id,omitempty" yaml:"customer_id,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount" yaml:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount" yaml:"paid_amount"`
	DueDate     *time.Time      `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	SentDate    *time.Time      `json:"sent_date,omitempty" yaml:"sent_date,omitempty"`
	ViewedAt    *time.Time      `json:"viewed_at,omitempty" yaml:"viewed_at,omitempty"`
	PaidDate    *time.Time      `json:"paid_date,omitempty" yaml:"paid_date,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty" yaml:"cancelled_at,omitempty"`
	RefundedAt  *time.Time      `json:"refunded_at,omitempty" yaml:"refunded_at,omitempty"`

	flow.Lifecycle[InvoiceStatus] `yaml:",inline"`
}

func (i *Invoice) EntityID() string { return i.ID }

func NewInvoice(id string, total decimal.Decimal) *Invoice {
	if id == "" {
		id = NewID()
	}
	return &Invoice{ID: id, TotalAmount: total, Lifecycle: flow.Lifecycle[InvoiceStatus]{Status: InvoiceDraft}}
}

// Remaining is the unpaid balance.
func (i *Invoice) Remaining() decimal.Decimal {
	return i.TotalAmount.Sub(i.PaidAmount)
}

// Overdue reports whether the invoice is payable and past its due date.
func (i *Invoice) Overdue(now time.Time) bool {
	if i.DueDate == nil || !i.DueDate.Before(now) {
		return false
	}
	return invoiceTable.Permits(i.Status, InvoiceOverdue)
}

var invoiceTable = tableSpec[*Invoice, InvoiceStatus]{
	kind:    KindInvoice,
	initial: InvoiceDraft,
	states: []InvoiceStatus{
		InvoiceDraft, InvoiceSent, InvoiceViewed, InvoicePaid,
		InvoicePartiallyPaid, InvoiceOverdue, InvoiceCancelled, InvoiceRefunded,
	},
	moves: []move[InvoiceStatus]{
		{InvoiceDraft, []InvoiceStatus{InvoiceSent, InvoiceCancelled}},
		{InvoiceSent, []InvoiceStatus{InvoiceViewed, InvoicePaid, InvoicePartiallyPaid, InvoiceOverdue, InvoiceCancelled}},
		{InvoiceViewed, []InvoiceStatus{InvoicePaid, InvoicePartiallyPaid, InvoiceOverdue, InvoiceCancelled}},
		{InvoicePartiallyPaid, []InvoiceStatus{InvoicePaid, InvoicePartiallyPaid, InvoiceOverdue}},
		{InvoiceOverdue, []InvoiceStatus{InvoicePaid, InvoicePartiallyPaid, InvoiceCancelled}},
		{InvoicePaid, []InvoiceStatus{InvoiceRefunded}},
	},
	enter: map[InvoiceStatus]rule[*Invoice]{
		InvoiceSent: {
			guards: []flow.Guard[*Invoice]{func(i *Invoice, _ flow.Metadata, _ time.Time) error {
				return flow.Require(i.DueDate != nil, "dueDate", "Due date required before sending")
			}},
			effects: []flow.Effect[*Invoice]{func(i *Invoice, _ flow.Metadata, now time.Time) {
				i.SentDate = stamp(now)
			}},
		},
		InvoiceViewed: {effects: []flow.Effect[*Invoice]{func(i *Invoice, _ flow.Metadata, now time.Time) {
			i.ViewedAt = stamp(now)
		}}},
		InvoicePartiallyPaid: {
			guards: []flow.Guard[*Invoice]{
				func(i *Invoice, meta flow.Metadata, _ time.Time) error {
					return flow.Require(meta.Amount != nil, "amount", "Payment amount required")
				},
				func(i *Invoice, meta flow.Metadata, _ time.Time) error {
					amount, _ := metaAmount(meta)
					return flow.Check(amount.IsPositive(), "Payment amount must be greater than zero")
				},
				func(i *Invoice, meta flow.Metadata, _ time.Time) error {
					amount, _ := metaAmount(meta)
					return flow.Check(amount.LessThan(i.Remaining()),
						"Partial payment "+amount.StringFixed(2)+" must be less than remaining balance "+i.Remaining().StringFixed(2))
				},
			},
			effects: []flow.Effect[*Invoice]{func(i *Invoice, meta flow.Metadata, _ time.Time) {
				amount, _ := metaAmount(meta)
				i.PaidAmount = i.PaidAmount.Add(amount)
			}},
		},
		InvoicePaid: {
			guards: []flow.Guard[*Invoice]{func(i *Invoice, meta flow.Metadata, _ time.Time) error {
				remaining := i.Remaining()
				if !remaining.IsPositive() {
					return nil
				}
				amount, ok := metaAmount(meta)
				return flow.Check(ok && amount.GreaterThanOrEqual(remaining),
					"Payment must cover remaining balance "+remaining.StringFixed(2))
			}},
			effects: []flow.Effect[*Invoice]{func(i *Invoice, _ flow.Metadata, now time.Time) {
				i.PaidAmount = i.TotalAmount
				i.PaidDate = stamp(now)
			}},
		},
		InvoiceOverdue: {guards: []flow.Guard[*Invoice]{
			func(i *Invoice, _ flow.Metadata, _ time.Time) error {
				return flow.Require(i.DueDate != nil, "dueDate", "Due date required to mark overdue")
			},
			func(i *Invoice, _ flow.Metadata, now time.Time) error {
				return flow.Check(i.DueDate.Before(now), "Due date must be in the past to mark overdue")
			},
		}},
		InvoiceCancelled: {effects: []flow.Effect[*Invoice]{func(i *Invoice, _ flow.Metadata, now time.Time) {
			i.CancelledAt = stamp(now)
		}}},
		InvoiceRefunded: {effects: []flow.Effect[*Invoice]{func(i *Invoice, _ flow.Metadata, now time.Time) {
			i.RefundedAt = stamp(now)
		}}},
	},
}.compile()

func InvoiceTable() *flow.CompiledTable[*Invoice, InvoiceStatus] { return invoiceTable }
