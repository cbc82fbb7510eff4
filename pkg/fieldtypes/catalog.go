package fieldtypes

import (
	"fmt"
	"slices"

	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
)

// Table identifies a typed value table.
type Table string

const (
	TableText     Table = "text"
	TableFulltext Table = "fulltext"
	TableInteger  Table = "integer"
	TableDecimal  Table = "decimal"
	TableDatetime Table = "datetime"
	TableDate     Table = "date"
)

// Tables lists every typed value table.
var Tables = []Table{TableText, TableFulltext, TableInteger, TableDecimal, TableDatetime, TableDate}

// Name returns the physical table name.
func (t Table) Name() string {
	return "attribute_values_" + string(t)
}

const (
	Text     = "text"
	Textarea = "textarea"
	Integer  = "integer"
	Decimal  = "decimal"
	Boolean  = "boolean"
	Datetime = "datetime"
	Date     = "date"
	Select   = "select"
	Relation = "relation"
	Asset    = "asset"
	Node     = "node"
	Compound = "compound"
)

const (
	OpEqual        = "e"
	OpNotEqual     = "ne"
	OpIn           = "in"
	OpNotIn        = "nin"
	OpGreater      = "gt"
	OpGreaterEqual = "gte"
	OpLess         = "lt"
	OpLessEqual    = "lte"
	OpMatch        = "m"
)

// Capabilities describes how attributes of one field type behave.
type Capabilities struct {
	Key               string
	Table             Table
	HasMultipleValues bool
	CanBeUnique       bool
	CanBeRequired     bool
	CanBeLocalized    bool
	CanBeFilterable   bool
	HasOptions        bool
	// Derived values are computed by the engine and never accepted from callers.
	Derived bool
	// References marks types whose values point at other entities or files.
	References      bool
	FilterOperators []string
}

func (c Capabilities) SupportsOperator(op string) bool {
	return slices.Contains(c.FilterOperators, op)
}

// Catalog maps field type keys to capabilities. It is immutable after construction.
type Catalog struct {
	types map[string]Capabilities
	keys  []string
}

func NewCatalog(capabilities ...Capabilities) (*Catalog, error) {
	c := &Catalog{types: make(map[string]Capabilities, len(capabilities))}
	for _, capability := range capabilities {
		if capability.Key == "" {
			return nil, fmt.Errorf("field type without key")
		}
		if _, exists := c.types[capability.Key]; exists {
			return nil, fmt.Errorf("field type '%s' registered twice", capability.Key)
		}
		if !slices.Contains(Tables, capability.Table) {
			return nil, fmt.Errorf("field type '%s' uses unknown table '%s'", capability.Key, capability.Table)
		}
		capability.FilterOperators = slices.Clone(capability.FilterOperators)
		c.types[capability.Key] = capability
		c.keys = append(c.keys, capability.Key)
	}
	return c, nil
}

// Get returns the capabilities of key or ErrUnknownFieldType.
func (c *Catalog) Get(key string) (Capabilities, error) {
	capability, ok := c.types[key]
	if !ok {
		return Capabilities{}, fmt.Errorf("%w: '%s'", eaverrors.ErrUnknownFieldType, key)
	}
	capability.FilterOperators = slices.Clone(capability.FilterOperators)
	return capability, nil
}

func (c *Catalog) Has(key string) bool {
	_, ok := c.types[key]
	return ok
}

// Keys returns field type keys in registration order.
func (c *Catalog) Keys() []string {
	return slices.Clone(c.keys)
}

var (
	equality   = []string{OpEqual, OpNotEqual}
	membership = []string{OpEqual, OpNotEqual, OpIn, OpNotIn}
	ordered    = []string{OpEqual, OpNotEqual, OpIn, OpNotIn, OpGreater, OpGreaterEqual, OpLess, OpLessEqual}
	ranged     = []string{OpEqual, OpNotEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual}
)

// DefaultCapabilities returns the built-in field types.
func DefaultCapabilities() []Capabilities {
	return []Capabilities{
		{Key: Text, Table: TableText, CanBeUnique: true, CanBeRequired: true, CanBeLocalized: true, CanBeFilterable: true, FilterOperators: append(slices.Clone(membership), OpMatch)},
		{Key: Textarea, Table: TableFulltext, CanBeRequired: true, CanBeLocalized: true, CanBeFilterable: true, FilterOperators: append(slices.Clone(equality), OpMatch)},
		{Key: Integer, Table: TableInteger, CanBeUnique: true, CanBeRequired: true, CanBeLocalized: true, CanBeFilterable: true, FilterOperators: ordered},
		{Key: Decimal, Table: TableDecimal, CanBeUnique: true, CanBeRequired: true, CanBeLocalized: true, CanBeFilterable: true, FilterOperators: ordered},
		{Key: Boolean, Table: TableInteger, CanBeRequired: true, CanBeLocalized: true, CanBeFilterable: true, FilterOperators: equality},
		{Key: Datetime, Table: TableDatetime, CanBeRequired: true, CanBeLocalized: true, CanBeFilterable: true, FilterOperators: ranged},
		{Key: Date, Table: TableDate, CanBeRequired: true, CanBeLocalized: true, CanBeFilterable: true, FilterOperators: ranged},
		{Key: Select, Table: TableText, CanBeRequired: true, CanBeLocalized: true, CanBeFilterable: true, HasOptions: true, FilterOperators: membership},
		{Key: Relation, Table: TableInteger, HasMultipleValues: true, CanBeRequired: true, CanBeLocalized: true, CanBeFilterable: true, References: true, FilterOperators: membership},
		{Key: Asset, Table: TableInteger, HasMultipleValues: true, CanBeRequired: true, CanBeLocalized: true, CanBeFilterable: true, References: true, FilterOperators: membership},
		{Key: Node, Table: TableInteger, CanBeRequired: true, CanBeFilterable: true, References: true, FilterOperators: membership},
		{Key: Compound, Table: TableText, CanBeLocalized: true, CanBeFilterable: true, Derived: true, FilterOperators: append(slices.Clone(membership), OpMatch)},
	}
}

// Default builds the catalog of built-in field types.
func Default() *Catalog {
	catalog, err := NewCatalog(DefaultCapabilities()...)
	if err != nil {
		panic(err)
	}
	return catalog
}
