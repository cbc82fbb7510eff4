package models

import (
	"time"

	"github.com/congraphcms/eav-sub001/pkg/database"
)

const (
	TokenLiteral  = "literal"
	TokenField    = "field"
	TokenOperator = "operator"
)

// InputToken is one element of a compound expression. Field tokens carry the
// referenced attribute id, operator tokens an operator name.
type InputToken struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// AttributeData holds the field-type specific configuration of an attribute.
type AttributeData struct {
	Inputs        []InputToken `json:"inputs,omitempty"`
	ExpectedValue string       `json:"expected_value,omitempty"`
	// FileTypes lists allowed asset extensions without the dot.
	FileTypes []string `json:"filetypes,omitempty"`
	// AllowedTypes restricts relation targets to these entity type codes.
	AllowedTypes []string `json:"allowed_types,omitempty"`
}

type Attribute struct {
	ID           int64                         `db:"id" json:"id"`
	Code         string                        `db:"code" json:"code"`
	FieldType    string                        `db:"field_type" json:"field_type"`
	Localized    bool                          `db:"localized" json:"localized"`
	Unique       bool                          `db:"is_unique" json:"unique"`
	Required     bool                          `db:"required" json:"required"`
	Filterable   bool                          `db:"filterable" json:"filterable"`
	Searchable   bool                          `db:"searchable" json:"searchable"`
	DefaultValue *string                       `db:"default_value" json:"default_value"`
	Data         database.JSONB[AttributeData] `db:"data" json:"data"`
	CreatedAt    time.Time                     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time                     `db:"updated_at" json:"updated_at"`

	Options []AttributeOption `db:"-" json:"options,omitempty"`
}

// FieldInputs returns the attribute ids referenced by field tokens, in order.
func (a *Attribute) FieldInputs() []int64 {
	var ids []int64
	for _, token := range a.Data.Data.Inputs {
		if token.Type != TokenField {
			continue
		}
		if id, ok := TokenAttributeID(token.Value); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// References reports whether a compound expression reads attributeID.
func (a *Attribute) References(attributeID int64) bool {
	for _, id := range a.FieldInputs() {
		if id == attributeID {
			return true
		}
	}
	return false
}

// TokenAttributeID reads the attribute id of a field token decoded from JSON.
func TokenAttributeID(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

type AttributeOption struct {
	ID          int64  `db:"id" json:"id"`
	AttributeID int64  `db:"attribute_id" json:"attribute_id"`
	Label       string `db:"label" json:"label"`
	Value       string `db:"value" json:"value"`
	LocaleID    int64  `db:"locale_id" json:"locale_id"`
	IsDefault   bool   `db:"is_default" json:"is_default"`
	SortOrder   int    `db:"sort_order" json:"sort_order"`
}

type OptionInput struct {
	Label     string `json:"label" validate:"required"`
	Value     string `json:"value" validate:"required"`
	Locale    string `json:"locale,omitempty"`
	IsDefault bool   `json:"is_default"`
}

type CreateAttributeRequest struct {
	Code         string        `json:"code" validate:"required,max=100"`
	FieldType    string        `json:"field_type" validate:"required"`
	Localized    bool          `json:"localized"`
	Unique       bool          `json:"unique"`
	Required     bool          `json:"required"`
	Filterable   bool          `json:"filterable"`
	Searchable   bool          `json:"searchable"`
	DefaultValue *string       `json:"default_value,omitempty"`
	Data         AttributeData `json:"data"`
	Options      []OptionInput `json:"options,omitempty" validate:"dive"`
}

// UpdateAttributeRequest changes an attribute definition. Code and field type
// are immutable once values exist for them.
type UpdateAttributeRequest struct {
	Localized    *bool          `json:"localized,omitempty"`
	Unique       *bool          `json:"unique,omitempty"`
	Required     *bool          `json:"required,omitempty"`
	Filterable   *bool          `json:"filterable,omitempty"`
	Searchable   *bool          `json:"searchable,omitempty"`
	DefaultValue *string        `json:"default_value,omitempty"`
	Data         *AttributeData `json:"data,omitempty"`
	Options      *[]OptionInput `json:"options,omitempty"`
}
