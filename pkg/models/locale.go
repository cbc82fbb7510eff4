package models

import "time"

// Locale is a language/region context. Values of localized attributes are
// stored once per locale; locale id 0 marks a non-localized value.
type Locale struct {
	ID        int64     `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type CreateLocaleRequest struct {
	Code string `json:"code" validate:"required,max=32"`
	Name string `json:"name" validate:"max=255"`
}
