package models

import "time"

type EntityType struct {
	ID           int64     `db:"id" json:"id"`
	Code         string    `db:"code" json:"code"`
	Endpoint     string    `db:"endpoint" json:"endpoint"`
	Name         string    `db:"name" json:"name"`
	PluralName   string    `db:"plural_name" json:"plural_name"`
	Localized    bool      `db:"localized" json:"localized"`
	HasWorkflow  bool      `db:"has_workflow" json:"has_workflow"`
	DefaultSetID *int64    `db:"default_set_id" json:"default_set_id"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type CreateEntityTypeRequest struct {
	Code        string `json:"code" validate:"required,max=100"`
	Endpoint    string `json:"endpoint" validate:"max=100"`
	Name        string `json:"name" validate:"required,max=255"`
	PluralName  string `json:"plural_name" validate:"max=255"`
	Localized   bool   `json:"localized"`
	HasWorkflow bool   `json:"has_workflow"`
}

type UpdateEntityTypeRequest struct {
	Endpoint     *string `json:"endpoint,omitempty" validate:"omitempty,max=100"`
	Name         *string `json:"name,omitempty" validate:"omitempty,max=255"`
	PluralName   *string `json:"plural_name,omitempty" validate:"omitempty,max=255"`
	Localized    *bool   `json:"localized,omitempty"`
	HasWorkflow  *bool   `json:"has_workflow,omitempty"`
	DefaultSetID *int64  `json:"default_set_id,omitempty"`
}
