package models

import "time"

type AttributeSetMember struct {
	AttributeSetID int64 `db:"attribute_set_id" json:"attribute_set_id"`
	AttributeID    int64 `db:"attribute_id" json:"attribute_id"`
	SortOrder      int   `db:"sort_order" json:"sort_order"`
}

type AttributeSet struct {
	ID           int64     `db:"id" json:"id"`
	Code         string    `db:"code" json:"code"`
	EntityTypeID int64     `db:"entity_type_id" json:"entity_type_id"`
	Name         string    `db:"name" json:"name"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`

	Members []AttributeSetMember `db:"-" json:"attributes"`
}

// AttributeIDs returns member ids in sort order.
func (s *AttributeSet) AttributeIDs() []int64 {
	ids := make([]int64, len(s.Members))
	for i, m := range s.Members {
		ids[i] = m.AttributeID
	}
	return ids
}

func (s *AttributeSet) HasAttribute(attributeID int64) bool {
	for _, m := range s.Members {
		if m.AttributeID == attributeID {
			return true
		}
	}
	return false
}

type CreateAttributeSetRequest struct {
	Code         string  `json:"code" validate:"required,max=100"`
	EntityTypeID int64   `json:"entity_type_id" validate:"required"`
	Name         string  `json:"name" validate:"max=255"`
	AttributeIDs []int64 `json:"attributes"`
}

type UpdateAttributeSetRequest struct {
	Name         *string  `json:"name,omitempty" validate:"omitempty,max=255"`
	AttributeIDs *[]int64 `json:"attributes,omitempty"`
}
