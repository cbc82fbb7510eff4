package metadata

import (
	"strconv"

	"github.com/congraphcms/eav-sub001/pkg/fieldtypes"
	"github.com/congraphcms/eav-sub001/pkg/models"
)

// Snapshot is an immutable view of all metadata at one point in time.
// Returned pointers are shared and must be treated as read-only.
type Snapshot struct {
	locales      []*models.Locale
	localeByID   map[int64]*models.Locale
	localeByCode map[string]*models.Locale

	entityTypes      []*models.EntityType
	entityTypeByID   map[int64]*models.EntityType
	entityTypeByCode map[string]*models.EntityType

	attributes      []*models.Attribute
	attributeByID   map[int64]*models.Attribute
	attributeByCode map[string]*models.Attribute

	sets      []*models.AttributeSet
	setByID   map[int64]*models.AttributeSet
	setByCode map[string]*models.AttributeSet
}

// NewSnapshot indexes the given definitions. Slices are copied.
func NewSnapshot(locales []models.Locale, entityTypes []models.EntityType, attributes []models.Attribute, sets []models.AttributeSet) *Snapshot {
	s := &Snapshot{
		localeByID:       make(map[int64]*models.Locale, len(locales)),
		localeByCode:     make(map[string]*models.Locale, len(locales)),
		entityTypeByID:   make(map[int64]*models.EntityType, len(entityTypes)),
		entityTypeByCode: make(map[string]*models.EntityType, len(entityTypes)),
		attributeByID:    make(map[int64]*models.Attribute, len(attributes)),
		attributeByCode:  make(map[string]*models.Attribute, len(attributes)),
		setByID:          make(map[int64]*models.AttributeSet, len(sets)),
		setByCode:        make(map[string]*models.AttributeSet, len(sets)),
	}
	for i := range locales {
		l := locales[i]
		s.locales = append(s.locales, &l)
		s.localeByID[l.ID] = &l
		s.localeByCode[l.Code] = &l
	}
	for i := range entityTypes {
		et := entityTypes[i]
		s.entityTypes = append(s.entityTypes, &et)
		s.entityTypeByID[et.ID] = &et
		s.entityTypeByCode[et.Code] = &et
	}
	for i := range attributes {
		a := attributes[i]
		s.attributes = append(s.attributes, &a)
		s.attributeByID[a.ID] = &a
		s.attributeByCode[a.Code] = &a
	}
	for i := range sets {
		set := sets[i]
		s.sets = append(s.sets, &set)
		s.setByID[set.ID] = &set
		s.setByCode[set.Code] = &set
	}
	return s
}

// parseID reports whether key is a numeric id.
func parseID(key string) (int64, bool) {
	id, err := strconv.ParseInt(key, 10, 64)
	return id, err == nil
}

func (s *Snapshot) Locales() []*models.Locale {
	return append([]*models.Locale(nil), s.locales...)
}

// Locale looks key up as a numeric id first, then as a code.
func (s *Snapshot) Locale(key string) (*models.Locale, bool) {
	if id, ok := parseID(key); ok {
		if l, found := s.localeByID[id]; found {
			return l, true
		}
	}
	l, ok := s.localeByCode[key]
	return l, ok
}

func (s *Snapshot) LocaleByID(id int64) (*models.Locale, bool) {
	l, ok := s.localeByID[id]
	return l, ok
}

func (s *Snapshot) EntityTypes() []*models.EntityType {
	return append([]*models.EntityType(nil), s.entityTypes...)
}

func (s *Snapshot) EntityType(key string) (*models.EntityType, bool) {
	if id, ok := parseID(key); ok {
		if et, found := s.entityTypeByID[id]; found {
			return et, true
		}
	}
	et, ok := s.entityTypeByCode[key]
	return et, ok
}

func (s *Snapshot) EntityTypeByID(id int64) (*models.EntityType, bool) {
	et, ok := s.entityTypeByID[id]
	return et, ok
}

func (s *Snapshot) Attributes() []*models.Attribute {
	return append([]*models.Attribute(nil), s.attributes...)
}

func (s *Snapshot) Attribute(key string) (*models.Attribute, bool) {
	if id, ok := parseID(key); ok {
		if a, found := s.attributeByID[id]; found {
			return a, true
		}
	}
	a, ok := s.attributeByCode[key]
	return a, ok
}

func (s *Snapshot) AttributeByID(id int64) (*models.Attribute, bool) {
	a, ok := s.attributeByID[id]
	return a, ok
}

func (s *Snapshot) AttributeByCode(code string) (*models.Attribute, bool) {
	a, ok := s.attributeByCode[code]
	return a, ok
}

func (s *Snapshot) AttributeSets() []*models.AttributeSet {
	return append([]*models.AttributeSet(nil), s.sets...)
}

func (s *Snapshot) AttributeSet(key string) (*models.AttributeSet, bool) {
	if id, ok := parseID(key); ok {
		if set, found := s.setByID[id]; found {
			return set, true
		}
	}
	set, ok := s.setByCode[key]
	return set, ok
}

func (s *Snapshot) AttributeSetByID(id int64) (*models.AttributeSet, bool) {
	set, ok := s.setByID[id]
	return set, ok
}

// SetAttributes returns the member attributes of a set in member order.
// Members missing from the snapshot are skipped.
func (s *Snapshot) SetAttributes(setID int64) []*models.Attribute {
	set, ok := s.setByID[setID]
	if !ok {
		return nil
	}
	attrs := make([]*models.Attribute, 0, len(set.Members))
	for _, member := range set.Members {
		if a, found := s.attributeByID[member.AttributeID]; found {
			attrs = append(attrs, a)
		}
	}
	return attrs
}

// SetsOfEntityType returns the attribute sets belonging to an entity type.
func (s *Snapshot) SetsOfEntityType(entityTypeID int64) []*models.AttributeSet {
	var sets []*models.AttributeSet
	for _, set := range s.sets {
		if set.EntityTypeID == entityTypeID {
			sets = append(sets, set)
		}
	}
	return sets
}

// SetsContaining returns the attribute sets that include attributeID.
func (s *Snapshot) SetsContaining(attributeID int64) []*models.AttributeSet {
	var sets []*models.AttributeSet
	for _, set := range s.sets {
		if set.HasAttribute(attributeID) {
			sets = append(sets, set)
		}
	}
	return sets
}

// CompoundsReferencing returns compound attributes whose inputs read attributeID.
func (s *Snapshot) CompoundsReferencing(attributeID int64) []*models.Attribute {
	var compounds []*models.Attribute
	for _, a := range s.attributes {
		if a.FieldType == fieldtypes.Compound && a.References(attributeID) {
			compounds = append(compounds, a)
		}
	}
	return compounds
}

// AttributesOfType returns attributes of the given field types.
func (s *Snapshot) AttributesOfType(fieldTypes ...string) []*models.Attribute {
	var attrs []*models.Attribute
	for _, a := range s.attributes {
		for _, ft := range fieldTypes {
			if a.FieldType == ft {
				attrs = append(attrs, a)
				break
			}
		}
	}
	return attrs
}

// WithAttribute returns a copy of the snapshot where attribute replaces the
// definition with the same id, or is appended when new.
func (s *Snapshot) WithAttribute(attribute models.Attribute) *Snapshot {
	attributes := make([]models.Attribute, 0, len(s.attributes)+1)
	replaced := false
	for _, a := range s.attributes {
		if a.ID == attribute.ID {
			attributes = append(attributes, attribute)
			replaced = true
			continue
		}
		attributes = append(attributes, *a)
	}
	if !replaced {
		attributes = append(attributes, attribute)
	}
	return NewSnapshot(deref(s.locales), deref(s.entityTypes), attributes, deref(s.sets))
}

// WithAttributeSet returns a copy of the snapshot where set replaces the set
// with the same id, or is appended when new.
func (s *Snapshot) WithAttributeSet(set models.AttributeSet) *Snapshot {
	sets := make([]models.AttributeSet, 0, len(s.sets)+1)
	replaced := false
	for _, existing := range s.sets {
		if existing.ID == set.ID {
			sets = append(sets, set)
			replaced = true
			continue
		}
		sets = append(sets, *existing)
	}
	if !replaced {
		sets = append(sets, set)
	}
	return NewSnapshot(deref(s.locales), deref(s.entityTypes), deref(s.attributes), sets)
}

func deref[T any](items []*T) []T {
	out := make([]T, len(items))
	for i, item := range items {
		out[i] = *item
	}
	return out
}
