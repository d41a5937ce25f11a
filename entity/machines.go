package entity

import (
	"context"
	"fmt"
	"time"

	biocore "github.com/goliatone/go-biocore"
	"github.com/goliatone/go-biocore/flow"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Notice is the kind-agnostic view of a committed transition handed to
// publishers.
type Notice struct {
	Kind       Kind           `json:"kind"`
	EntityID   string         `json:"entity_id"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Version    int            `json:"version"`
	Reason     string         `json:"reason,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Entity     any            `json:"-"`
}

// Topic is "<kind>.<to>", e.g. "invoice.overdue".
func (n Notice) Topic() string {
	return string(n.Kind) + "." + n.To
}

// Publisher receives committed transitions.
type Publisher func(ctx context.Context, n Notice) error

type Options struct {
	Logger  biocore.Logger
	Locker  *flow.KeyedLocker
	Clock   func() time.Time
	Publish Publisher
}

// Machines holds one machine per entity kind. Construct once and share.
type Machines struct {
	Orders        *flow.Machine[*Order, OrderStatus]
	Shipments     *flow.Machine[*Shipment, ShipmentStatus]
	Invoices      *flow.Machine[*Invoice, InvoiceStatus]
	Returns       *flow.Machine[*Return, ReturnStatus]
	Products      *flow.Machine[*Product, ProductStatus]
	Users         *flow.Machine[*User, UserStatus]
	Subscriptions *flow.Machine[*Subscription, SubscriptionStatus]
}

func NewMachines(opts Options) (*Machines, error) {
	if opts.Locker == nil {
		opts.Locker = flow.NewKeyedLocker()
	}
	m := &Machines{}
	var err error
	if m.Orders, err = build(orderTable, opts); err != nil {
		return nil, err
	}
	if m.Shipments, err = build(shipmentTable, opts); err != nil {
		return nil, err
	}
	if m.Invoices, err = build(invoiceTable, opts); err != nil {
		return nil, err
	}
	if m.Returns, err = build(returnTable, opts); err != nil {
		return nil, err
	}
	if m.Products, err = build(productTable, opts); err != nil {
		return nil, err
	}
	if m.Users, err = build(userTable, opts); err != nil {
		return nil, err
	}
	if m.Subscriptions, err = build(subscriptionTable, opts); err != nil {
		return nil, err
	}
	return m, nil
}

func build[E flow.Entity[S], S flow.Status](table *flow.CompiledTable[E, S], opts Options) (*flow.Machine[E, S], error) {
	machineOpts := []flow.Option[E, S]{
		flow.WithLogger[E, S](opts.Logger),
		flow.WithLocker[E, S](opts.Locker),
		flow.WithClock[E, S](opts.Clock),
	}
	if opts.Publish != nil {
		machineOpts = append(machineOpts, flow.WithHooks[E](flow.Hook[S](publishHook[S](opts.Publish))))
	}
	return flow.NewMachine(table, machineOpts...)
}

func publishHook[S flow.Status](publish Publisher) flow.HookFunc[S] {
	return func(ctx context.Context, evt flow.TransitionEvent[S]) error {
		if evt.Phase != flow.TransitionPhaseCommitted {
			return nil
		}
		return publish(ctx, Notice{
			Kind:       Kind(evt.Kind),
			EntityID:   evt.EntityID,
			From:       string(evt.From),
			To:         string(evt.To),
			Version:    evt.Version,
			Reason:     evt.Record.Reason,
			Extra:      evt.Record.Extra,
			OccurredAt: evt.OccurredAt,
			Entity:     evt.Entity,
		})
	}
}

// TableInfo is a printable view of one transition table.
type TableInfo struct {
	Kind     Kind        `json:"kind" yaml:"kind"`
	Initial  string      `json:"initial" yaml:"initial"`
	States   []string    `json:"states" yaml:"states"`
	Terminal []string    `json:"terminal" yaml:"terminal"`
	Edges    [][2]string `json:"edges" yaml:"edges"`
}

// Describe lists every table in Kinds order.
func Describe() []TableInfo {
	return []TableInfo{
		describe(orderTable),
		describe(shipmentTable),
		describe(invoiceTable),
		describe(returnTable),
		describe(productTable),
		describe(userTable),
		describe(subscriptionTable),
	}
}

func describe[E any, S flow.Status](table *flow.CompiledTable[E, S]) TableInfo {
	info := TableInfo{
		Kind:    Kind(table.Kind()),
		Initial: string(table.Initial()),
		Edges:   table.Edges(),
	}
	for _, s := range table.States() {
		info.States = append(info.States, string(s))
		if table.Terminal(s) {
			info.Terminal = append(info.Terminal, string(s))
		}
	}
	return info
}

// TransitionDocument decodes a YAML or JSON entity of kind and transitions it
// to the target state. The mutated entity is returned on success.
func (m *Machines) TransitionDocument(ctx context.Context, kind Kind, doc []byte, to string, meta flow.Metadata) (any, error) {
	switch kind {
	case KindOrder:
		return transitionDocument(ctx, m.Orders, doc, to, meta, func() *Order { return &Order{} })
	case KindShipment:
		return transitionDocument(ctx, m.Shipments, doc, to, meta, func() *Shipment { return &Shipment{} })
	case KindInvoice:
		return transitionDocument(ctx, m.Invoices, doc, to, meta, func() *Invoice { return &Invoice{} })
	case KindReturn:
		return transitionDocument(ctx, m.Returns, doc, to, meta, func() *Return { return &Return{} })
	case KindProduct:
		return transitionDocument(ctx, m.Products, doc, to, meta, func() *Product { return &Product{} })
	case KindUser:
		return transitionDocument(ctx, m.Users, doc, to, meta, func() *User { return &User{} })
	case KindSubscription:
		return transitionDocument(ctx, m.Subscriptions, doc, to, meta, func() *Subscription { return &Subscription{} })
	}
	return nil, biocore.NewError(biocore.ErrInvalidMessage, fmt.Sprintf("unknown entity kind %q", kind), nil, nil)
}

func transitionDocument[E flow.Entity[S], S flow.Status](
	ctx context.Context,
	machine *flow.Machine[E, S],
	doc []byte,
	to string,
	meta flow.Metadata,
	newEntity func() E,
) (any, error) {
	entity := newEntity()
	if err := yaml.Unmarshal(doc, entity); err != nil {
		return nil, biocore.NewError(biocore.ErrInvalidMessage, "decode "+machine.Kind()+" document", err, nil)
	}
	l := entity.State()
	if l.Status == "" {
		l.Status = machine.Table().Initial()
	}
	if !machine.Table().Has(l.Status) {
		return nil, biocore.NewError(biocore.ErrInvalidTransition,
			fmt.Sprintf("unknown %s status %s", machine.Kind(), l.Status), nil, nil)
	}
	if _, err := machine.Transition(ctx, entity, S(to), meta); err != nil {
		return nil, err
	}
	return entity, nil
}

// Stores groups one store per kind.
type Stores struct {
	Orders        flow.Store[*Order]
	Shipments     flow.Store[*Shipment]
	Invoices      flow.Store[*Invoice]
	Returns       flow.Store[*Return]
	Products      flow.Store[*Product]
	Users         flow.Store[*User]
	Subscriptions flow.Store[*Subscription]
}

func MemoryStores() Stores {
	return Stores{
		Orders:        flow.NewInMemoryStore[*Order](),
		Shipments:     flow.NewInMemoryStore[*Shipment](),
		Invoices:      flow.NewInMemoryStore[*Invoice](),
		Returns:       flow.NewInMemoryStore[*Return](),
		Products:      flow.NewInMemoryStore[*Product](),
		Users:         flow.NewInMemoryStore[*User](),
		Subscriptions: flow.NewInMemoryStore[*Subscription](),
	}
}

// RedisStores keys every kind under "<prefix><kind>:".
func RedisStores(client redis.UniversalClient, prefix string, ttl time.Duration) Stores {
	key := func(k Kind) string { return prefix + string(k) + ":" }
	return Stores{
		Orders:        flow.NewRedisStore[*Order](client, key(KindOrder), ttl),
		Shipments:     flow.NewRedisStore[*Shipment](client, key(KindShipment), ttl),
		Invoices:      flow.NewRedisStore[*Invoice](client, key(KindInvoice), ttl),
		Returns:       flow.NewRedisStore[*Return](client, key(KindReturn), ttl),
		Products:      flow.NewRedisStore[*Product](client, key(KindProduct), ttl),
		Users:         flow.NewRedisStore[*User](client, key(KindUser), ttl),
		Subscriptions: flow.NewRedisStore[*Subscription](client, key(KindSubscription), ttl),
	}
}

// Executors pairs each machine with its store.
type Executors struct {
	Orders        *flow.Executor[*Order, OrderStatus]
	Shipments     *flow.Executor[*Shipment, ShipmentStatus]
	Invoices      *flow.Executor[*Invoice, InvoiceStatus]
	Returns       *flow.Executor[*Return, ReturnStatus]
	Products      *flow.Executor[*Product, ProductStatus]
	Users         *flow.Executor[*User, UserStatus]
	Subscriptions *flow.Executor[*Subscription, SubscriptionStatus]
}

func NewExecutors(m *Machines, stores Stores) (*Executors, error) {
	x := &Executors{}
	var err error
	if x.Orders, err = flow.NewExecutor(m.Orders, stores.Orders); err != nil {
		return nil, err
	}
	if x.Shipments, err = flow.NewExecutor(m.Shipments, stores.Shipments); err != nil {
		return nil, err
	}
	if x.Invoices, err = flow.NewExecutor(m.Invoices, stores.Invoices); err != nil {
		return nil, err
	}
	if x.Returns, err = flow.NewExecutor(m.Returns, stores.Returns); err != nil {
		return nil, err
	}
	if x.Products, err = flow.NewExecutor(m.Products, stores.Products); err != nil {
		return nil, err
	}
	if x.Users, err = flow.NewExecutor(m.Users, stores.Users); err != nil {
		return nil, err
	}
	if x.Subscriptions, err = flow.NewExecutor(m.Subscriptions, stores.Subscriptions); err != nil {
		return nil, err
	}
	return x, nil
}
