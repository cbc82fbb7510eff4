package models

// FieldValues holds parsed values of one entity: attribute id, then locale id
// (0 for non-localized), then the ordered values. Single-valued attributes hold
// at most one element.
type FieldValues map[int64]map[int64][]any

func (fv FieldValues) Set(attributeID, localeID int64, values []any) {
	if fv[attributeID] == nil {
		fv[attributeID] = make(map[int64][]any)
	}
	fv[attributeID][localeID] = values
}

func (fv FieldValues) Get(attributeID, localeID int64) ([]any, bool) {
	locales, ok := fv[attributeID]
	if !ok {
		return nil, false
	}
	values, ok := locales[localeID]
	return values, ok
}

// First returns the first value for the pair, or nil.
func (fv FieldValues) First(attributeID, localeID int64) any {
	values, ok := fv.Get(attributeID, localeID)
	if !ok || len(values) == 0 {
		return nil
	}
	return values[0]
}

func (fv FieldValues) Has(attributeID int64) bool {
	_, ok := fv[attributeID]
	return ok
}

// AttributeValue is one physical row of a typed value table.
type AttributeValue struct {
	ID             int64 `db:"id" json:"id"`
	AttributeID    int64 `db:"attribute_id" json:"attribute_id"`
	EntityID       int64 `db:"entity_id" json:"entity_id"`
	EntityTypeID   int64 `db:"entity_type_id" json:"entity_type_id"`
	AttributeSetID int64 `db:"attribute_set_id" json:"attribute_set_id"`
	LocaleID       int64 `db:"locale_id" json:"locale_id"`
	SortOrder      int   `db:"sort_order" json:"sort_order"`
	Value          any   `db:"value" json:"value"`
}
