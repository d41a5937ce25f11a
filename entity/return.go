package entity

import (
	"time"

	"github.com/goliatone/go-biocore/flow"
	"github.com/shopspring/decimal"
)

type ReturnStatus string

const (
	ReturnRequested ReturnStatus = "requested"
	ReturnApproved  ReturnStatus = "approved"
	ReturnRejected  ReturnStatus = "rejected"
	ReturnShipped   ReturnStatus = "shipped"
	ReturnReceived  ReturnStatus = "received"
	ReturnInspected ReturnStatus = "inspected"
	ReturnRefunded  ReturnStatus = "refunded"
	ReturnCompleted ReturnStatus = "completed"
)

type Return struct {
	ID               string           `json:"id" yaml:"id"`
	OrderID          string           `json:"order_id,omitempty" yaml:"order_id,omitempty"`
	Reason           string           `json:"reason,omitempty" yaml:"reason,omitempty"`
	Notes            string           `json:"notes,omitempty" yaml:"notes,omitempty"`
	InspectionResult string           `json:"inspection_result,omitempty" yaml:"inspection_result,omitempty"`
	RefundAmount     *decimal.Decimal `json:"refund_amount,omitempty" yaml:"refund_amount,omitempty"`
	ApprovedAt       *time.Time       `json:"approved_at,omitempty" yaml:"approved_at,omitempty"`
	ReceivedAt       *time.Time       `json:"received_at,omitempty" yaml:"received_at,omitempty"`
	RefundedAt       *time.Time       `json:"refunded_at,omitempty" yaml:"refunded_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`

	flow.Lifecycle[ReturnStatus] `yaml:",inline"`
}

func (r *Return) EntityID() string { return r.ID }

func NewReturn(id, orderID string) *Return {
	if id == "" {
		id = NewID()
	}
	return &Return{ID: id, OrderID: orderID, Lifecycle: flow.Lifecycle[ReturnStatus]{Status: ReturnRequested}}
}

var returnTable = tableSpec[*Return, ReturnStatus]{
	kind:    KindReturn,
	initial: ReturnRequested,
	states: []ReturnStatus{
		ReturnRequested, ReturnApproved, ReturnRejected, ReturnShipped,
		ReturnReceived, ReturnInspected, ReturnRefunded, ReturnCompleted,
	},
	moves: []move[ReturnStatus]{
		{ReturnRequested, []ReturnStatus{ReturnApproved, ReturnRejected}},
		{ReturnApproved, []ReturnStatus{ReturnShipped, ReturnRejected}},
		{ReturnShipped, []ReturnStatus{ReturnReceived}},
		{ReturnReceived, []ReturnStatus{ReturnInspected}},
		{ReturnInspected, []ReturnStatus{ReturnRefunded, ReturnRejected}},
		{ReturnRefunded, []ReturnStatus{ReturnCompleted}},
	},
	enter: map[ReturnStatus]rule[*Return]{
		ReturnApproved: {effects: []flow.Effect[*Return]{func(r *Return, _ flow.Metadata, now time.Time) {
			r.ApprovedAt = stamp(now)
		}}},
		ReturnRejected: {
			guards: []flow.Guard[*Return]{func(r *Return, meta flow.Metadata, _ time.Time) error {
				return flow.Require(meta.Notes != "", "notes", "Rejection notes required")
			}},
			effects: []flow.Effect[*Return]{func(r *Return, meta flow.Metadata, _ time.Time) {
				r.Notes = meta.Notes
			}},
		},
		ReturnReceived: {effects: []flow.Effect[*Return]{func(r *Return, _ flow.Metadata, now time.Time) {
			r.ReceivedAt = stamp(now)
		}}},
		ReturnInspected: {effects: []flow.Effect[*Return]{func(r *Return, meta flow.Metadata, _ time.Time) {
			if meta.Notes != "" {
				r.InspectionResult = meta.Notes
			}
		}}},
		ReturnRefunded: {
			guards: []flow.Guard[*Return]{func(r *Return, meta flow.Metadata, _ time.Time) error {
				return flow.Require(r.RefundAmount != nil || meta.Amount != nil, "refundAmount", "Refund amount required")
			}},
			effects: []flow.Effect[*Return]{func(r *Return, meta flow.Metadata, now time.Time) {
				if amount, ok := metaAmount(meta); ok {
					r.RefundAmount = &amount
				}
				r.RefundedAt = stamp(now)
			}},
		},
		ReturnCompleted: {effects: []flow.Effect[*Return]{func(r *Return, _ flow.Metadata, now time.Time) {
			r.CompletedAt = stamp(now)
		}}},
	},
}.compile()

func ReturnTable() *flow.CompiledTable[*Return, ReturnStatus] { return returnTable }
