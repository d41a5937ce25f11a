package entity

import (
	"time"

	"github.com/goliatone/go-biocore/flow"
)

type ShipmentStatus string

const (
	ShipmentCreated        ShipmentStatus = "created"
	ShipmentPickedUp       ShipmentStatus = "picked_up"
	ShipmentInTransit      ShipmentStatus = "in_transit"
	ShipmentOutForDelivery ShipmentStatus = "out_for_delivery"
	ShipmentDelivered      ShipmentStatus = "delivered"
	ShipmentFailed         ShipmentStatus = "failed"
	ShipmentReturned       ShipmentStatus = "returned"
)

type Shipment struct {
	ID                string     `json:"id" yaml:"id"`
	OrderID           string     `json:"order_id,omitempty" yaml:"order_id,omitempty"`
	Carrier           string     `json:"carrier,omitempty" yaml:"carrier,omitempty"`
	TrackingNumber    string     `json:"tracking_number,omitempty" yaml:"tracking_number,omitempty"`
	CurrentLocation   string     `json:"current_location,omitempty" yaml:"current_location,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty" yaml:"estimated_delivery,omitempty"`
	ActualDelivery    *time.Time `json:"actual_delivery,omitempty" yaml:"actual_delivery,omitempty"`
	DeliveryProof     string     `json:"delivery_proof,omitempty" yaml:"delivery_proof,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
	Attempts          int        `json:"attempts" yaml:"attempts"`
	PickedUpAt        *time.Time `json:"picked_up_at,omitempty" yaml:"picked_up_at,omitempty"`

	flow.Lifecycle[ShipmentStatus] `yaml:",inline"`
}

func (s *Shipment) EntityID() string { return s.ID }

func NewShipment(id string) *Shipment {
	if id == "" {
		id = NewID()
	}
	return &Shipment{ID: id, Lifecycle: flow.Lifecycle[ShipmentStatus]{Status: ShipmentCreated}}
}

var shipmentTable = tableSpec[*Shipment, ShipmentStatus]{
	kind:    KindShipment,
	initial: ShipmentCreated,
	states: []ShipmentStatus{
		ShipmentCreated, ShipmentPickedUp, ShipmentInTransit, ShipmentOutForDelivery,
		ShipmentDelivered, ShipmentFailed, ShipmentReturned,
	},
	moves: []move[ShipmentStatus]{
		{ShipmentCreated, []ShipmentStatus{ShipmentPickedUp, ShipmentFailed}},
		{ShipmentPickedUp, []ShipmentStatus{ShipmentInTransit, ShipmentFailed}},
		{ShipmentInTransit, []ShipmentStatus{ShipmentOutForDelivery, ShipmentDelivered, ShipmentFailed, ShipmentReturned}},
		{ShipmentOutForDelivery, []ShipmentStatus{ShipmentDelivered, ShipmentFailed, ShipmentReturned}},
		{ShipmentFailed, []ShipmentStatus{ShipmentCreated, ShipmentReturned}},
	},
	edges: map[[2]ShipmentStatus]rule[*Shipment]{
		// retry after a failed attempt
		{ShipmentFailed, ShipmentCreated}: {effects: []flow.Effect[*Shipment]{func(s *Shipment, _ flow.Metadata, _ time.Time) {
			s.FailureReason = ""
		}}},
	},
	enter: map[ShipmentStatus]rule[*Shipment]{
		ShipmentPickedUp: {
			guards: []flow.Guard[*Shipment]{func(s *Shipment, _ flow.Metadata, _ time.Time) error {
				return flow.Require(s.TrackingNumber != "", "trackingNumber", "Tracking number required")
			}},
			effects: []flow.Effect[*Shipment]{func(s *Shipment, _ flow.Metadata, now time.Time) {
				s.PickedUpAt = stamp(now)
			}},
		},
		ShipmentDelivered: {
			guards: []flow.Guard[*Shipment]{func(s *Shipment, meta flow.Metadata, _ time.Time) error {
				return flow.Require(s.DeliveryProof != "" || s.ActualDelivery != nil || meta.Notes != "",
					"deliveryProof", "Delivery proof or actual delivery time required")
			}},
			effects: []flow.Effect[*Shipment]{func(s *Shipment, meta flow.Metadata, now time.Time) {
				if s.DeliveryProof == "" {
					s.DeliveryProof = meta.Notes
				}
				if s.ActualDelivery == nil {
					s.ActualDelivery = stamp(now)
				}
			}},
		},
		ShipmentFailed: {
			guards: []flow.Guard[*Shipment]{func(s *Shipment, meta flow.Metadata, _ time.Time) error {
				return flow.Require(meta.Reason != "" || s.FailureReason != "", "failureReason", "Failure reason required")
			}},
			effects: []flow.Effect[*Shipment]{func(s *Shipment, meta flow.Metadata, _ time.Time) {
				s.FailureReason = firstNonEmpty(meta.Reason, s.FailureReason)
				s.Attempts++
			}},
		},
	},
	always: []flow.Effect[*Shipment]{func(s *Shipment, meta flow.Metadata, _ time.Time) {
		if meta.Location != "" {
			s.CurrentLocation = meta.Location
		}
	}},
}.compile()

func ShipmentTable() *flow.CompiledTable[*Shipment, ShipmentStatus] { return shipmentTable }
