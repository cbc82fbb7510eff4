package models

import "time"

const (
	StatusPublished = "published"
	StatusDraft     = "draft"
	StatusArchived  = "archived"
)

// Statuses lists the workflow states an entity may take.
var Statuses = []string{StatusPublished, StatusDraft, StatusArchived}

type Entity struct {
	ID             int64     `db:"id" json:"id"`
	EntityTypeID   int64     `db:"entity_type_id" json:"entity_type_id"`
	AttributeSetID int64     `db:"attribute_set_id" json:"attribute_set_id"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`

	// Type is the entity type code.
	Type string `db:"-" json:"type"`
	// Locale is set when fields were materialized for a single locale.
	Locale string `db:"-" json:"locale,omitempty"`
	// Fields maps attribute code to formatted value. Localized attributes
	// hold a locale code keyed map unless Locale is set.
	Fields   map[string]any `db:"-" json:"fields"`
	Included []any          `db:"-" json:"included,omitempty"`
}

// Reference is the formatted value of relation and node fields.
type Reference struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type CreateEntityRequest struct {
	EntityTypeID int64 `json:"entity_type_id" validate:"required"`
	// AttributeSetID defaults to the entity type's default set.
	AttributeSetID int64          `json:"attribute_set_id"`
	Status         string         `json:"status,omitempty" validate:"omitempty,oneof=published draft archived"`
	Locale         string         `json:"locale,omitempty"`
	Fields         map[string]any `json:"fields"`
}

type UpdateEntityRequest struct {
	Status *string        `json:"status,omitempty" validate:"omitempty,oneof=published draft archived"`
	Locale string         `json:"locale,omitempty"`
	Fields map[string]any `json:"fields"`
}

type FetchParams struct {
	Include []string `json:"include,omitempty"`
	Locale  string   `json:"locale,omitempty"`
	Status  []string `json:"status,omitempty"`
}

// GetParams describes a collection query. Filter keys are "fields.<code>" or
// one of the entity columns, values are either a scalar (equality) or an
// operator keyed map, e.g. {"m": "strana"}.
type GetParams struct {
	Filter  map[string]any `json:"filter,omitempty"`
	Offset  int            `json:"offset"`
	Limit   int            `json:"limit"`
	Sort    []string       `json:"sort,omitempty"`
	Include []string       `json:"include,omitempty"`
	Locale  string         `json:"locale,omitempty"`
	Status  []string       `json:"status,omitempty"`
}

type CollectionMeta struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Count  int `json:"count"`
	Total  int `json:"total"`
}

type Collection struct {
	Data     []*Entity      `json:"data"`
	Included []any          `json:"included,omitempty"`
	Meta     CollectionMeta `json:"meta"`
}
