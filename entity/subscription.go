package entity

import (
	"time"

	"github.com/goliatone/go-biocore/flow"
	"github.com/shopspring/decimal"
)

type SubscriptionStatus string

const (
	SubscriptionTrial    SubscriptionStatus = "trial"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionPaused   SubscriptionStatus = "paused"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

type Subscription struct {
	ID           string          `json:"id" yaml:"id"`
	CustomerID   string          `json:"customer_id,omitempty" yaml:"customer_id,omitempty"`
	Plan         string          `json:"plan" yaml:"plan"`
	Price        decimal.Decimal `json:"price" yaml:"price"`
	TrialEndsAt  *time.Time      `json:"trial_ends_at,omitempty" yaml:"trial_ends_at,omitempty"`
	PausedAt     *time.Time      `json:"paused_at,omitempty" yaml:"paused_at,omitempty"`
	CanceledAt   *time.Time      `json:"canceled_at,omitempty" yaml:"canceled_at,omitempty"`
	CancelReason string          `json:"cancel_reason,omitempty" yaml:"cancel_reason,omitempty"`

	flow.Lifecycle[SubscriptionStatus] `yaml:",inline"`
}

func (s *Subscription) EntityID() string { return s.ID }

func NewSubscription(id, plan string) *Subscription {
	if id == "" {
		id = NewID()
	}
	return &Subscription{ID: id, Plan: plan, Lifecycle: flow.Lifecycle[SubscriptionStatus]{Status: SubscriptionTrial}}
}

var subscriptionTable = tableSpec[*Subscription, SubscriptionStatus]{
	kind:    KindSubscription,
	initial: SubscriptionTrial,
	states: []SubscriptionStatus{
		SubscriptionTrial, SubscriptionActive, SubscriptionPastDue,
		SubscriptionPaused, SubscriptionCanceled, SubscriptionExpired,
	},
	moves: []move[SubscriptionStatus]{
		{SubscriptionTrial, []SubscriptionStatus{SubscriptionActive, SubscriptionCanceled, SubscriptionExpired}},
		{SubscriptionActive, []SubscriptionStatus{SubscriptionPastDue, SubscriptionPaused, SubscriptionCanceled}},
		{SubscriptionPastDue, []SubscriptionStatus{SubscriptionActive, SubscriptionCanceled, SubscriptionExpired}},
		{SubscriptionPaused, []SubscriptionStatus{SubscriptionActive, SubscriptionCanceled}},
	},
	enter: map[SubscriptionStatus]rule[*Subscription]{
		SubscriptionActive: {effects: []flow.Effect[*Subscription]{func(s *Subscription, _ flow.Metadata, _ time.Time) {
			s.PausedAt = nil
		}}},
		SubscriptionPaused: {effects: []flow.Effect[*Subscription]{func(s *Subscription, _ flow.Metadata, now time.Time) {
			s.PausedAt = stamp(now)
		}}},
		SubscriptionCanceled: {effects: []flow.Effect[*Subscription]{func(s *Subscription, meta flow.Metadata, now time.Time) {
			s.CanceledAt = stamp(now)
			s.CancelReason = meta.Reason
		}}},
	},
}.compile()

func SubscriptionTable() *flow.CompiledTable[*Subscription, SubscriptionStatus] { return subscriptionTable }
