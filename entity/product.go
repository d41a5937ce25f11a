package entity

import (
	"time"

	"github.com/goliatone/go-biocore/flow"
	"github.com/shopspring/decimal"
)

type ProductStatus string

const (
	ProductDraft        ProductStatus = "draft"
	ProductActive       ProductStatus = "active"
	ProductOutOfStock   ProductStatus = "out_of_stock"
	ProductDiscontinued ProductStatus = "discontinued"
	ProductArchived     ProductStatus = "archived"
)

type Product struct {
	ID         string          `json:"id" yaml:"id"`
	SKU        string          `json:"sku" yaml:"sku"`
	Name       string          `json:"name" yaml:"name"`
	Price      decimal.Decimal `json:"price" yaml:"price"`
	Stock      int             `json:"stock" yaml:"stock"`
	ArchivedAt *time.Time      `json:"archived_at,omitempty" yaml:"archived_at,omitempty"`

	flow.Lifecycle[ProductStatus] `yaml:",inline"`
}

func (p *Product) EntityID() string { return p.ID }

func NewProduct(id, sku string) *Product {
	if id == "" {
		id = NewID()
	}
	return &Product{ID: id, SKU: sku, Lifecycle: flow.Lifecycle[ProductStatus]{Status: ProductDraft}}
}

var productTable = tableSpec[*Product, ProductStatus]{
	kind:    KindProduct,
	initial: ProductDraft,
	states:  []ProductStatus{ProductDraft, ProductActive, ProductOutOfStock, ProductDiscontinued, ProductArchived},
	moves: []move[ProductStatus]{
		{ProductDraft, []ProductStatus{ProductActive, ProductArchived}},
		{ProductActive, []ProductStatus{ProductOutOfStock, ProductDiscontinued, ProductArchived}},
		{ProductOutOfStock, []ProductStatus{ProductActive, ProductDiscontinued, ProductArchived}},
		{ProductDiscontinued, []ProductStatus{ProductArchived, ProductActive}},
	},
	enter: map[ProductStatus]rule[*Product]{
		ProductActive: {guards: []flow.Guard[*Product]{func(p *Product, _ flow.Metadata, _ time.Time) error {
			return flow.Check(p.Stock > 0, "Cannot activate product with zero stock")
		}}},
		ProductArchived: {effects: []flow.Effect[*Product]{func(p *Product, _ flow.Metadata, now time.Time) {
			p.ArchivedAt = stamp(now)
		}}},
	},
}.compile()

func ProductTable() *flow.CompiledTable[*Product, ProductStatus] { return productTable }
