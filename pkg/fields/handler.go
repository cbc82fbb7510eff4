// Package fields implements one handler per field type. Handlers parse and
// format values, validate them and keep their rows in the typed tables.
package fields

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/congraphcms/eav-sub001/pkg/assets"
	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/fieldtypes"
	"github.com/congraphcms/eav-sub001/pkg/metadata"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/utils"
	"github.com/congraphcms/eav-sub001/pkg/values"
)

// Env is the state of the operation a handler runs in.
type Env struct {
	Snapshot *metadata.Snapshot
	// Entity is the persisted entity. Its ID is 0 while a create is validated.
	Entity *models.Entity
	// Locale is nil for flat updates that address every locale at once.
	Locale *models.Locale
}

func (e *Env) Scope() values.Scope {
	return values.Scope{
		EntityID:       e.Entity.ID,
		EntityTypeID:   e.Entity.EntityTypeID,
		AttributeSetID: e.Entity.AttributeSetID,
	}
}

// LocaleID returns the id values of attribute are stored under.
func (e *Env) LocaleID(attribute *models.Attribute) int64 {
	if !attribute.Localized || e.Locale == nil {
		return 0
	}
	return e.Locale.ID
}

// Handler is implemented once per field type.
type Handler interface {
	FieldType() string
	Capabilities() fieldtypes.Capabilities
	// ParseValue normalizes one submitted element for storage. nil stays nil.
	ParseValue(ctx context.Context, attribute *models.Attribute, raw any) (any, error)
	// FormatValue converts one stored element for output.
	FormatValue(ctx context.Context, attribute *models.Attribute, stored any) (any, error)
	// Validate runs field type checks on one parsed element.
	Validate(ctx context.Context, env *Env, attribute *models.Attribute, value any) error
	// ValidateDefinition checks an attribute definition of this type.
	ValidateDefinition(ctx context.Context, snapshot *metadata.Snapshot, attribute *models.Attribute, verr *eaverrors.ValidationError)

	Insert(ctx context.Context, env *Env, attribute *models.Attribute, localeID int64, parsed []any) error
	Update(ctx context.Context, env *Env, attribute *models.Attribute, localeID int64, parsed []any) error
	DeleteByEntity(ctx context.Context, env *Env, attribute *models.Attribute) error
	DeleteByAttributeSet(ctx context.Context, attribute *models.Attribute, attributeSetID int64) error
	DeleteByEntityType(ctx context.Context, attribute *models.Attribute, entityTypeID int64) error
	DeleteByAttribute(ctx context.Context, attribute *models.Attribute) error
}

// BeforeUpdateHook runs before submitted values are written. Its result is
// handed to the AfterUpdateHook of the same field type.
type BeforeUpdateHook interface {
	BeforeEntityUpdate(ctx context.Context, env *Env, changed models.FieldValues) (any, error)
}

// AfterUpdateHook runs after submitted values are written, inside the same
// transaction.
type AfterUpdateHook interface {
	AfterEntityUpdate(ctx context.Context, env *Env, state any) error
}

// BeforeGetHook rewrites filter operands of an attribute before a query runs.
type BeforeGetHook interface {
	BeforeEntityGet(ctx context.Context, attribute *models.Attribute, operator string, operands []any) ([]any, error)
}

// EntitiesDeletedHook removes references to deleted entities and returns the
// owners of the removed rows.
type EntitiesDeletedHook interface {
	EntitiesDeleted(ctx context.Context, snapshot *metadata.Snapshot, entityIDs []int64) ([]values.Owner, error)
}

// FileDeletedHook removes references to a deleted file and returns the owners
// of the removed rows.
type FileDeletedHook interface {
	FileDeleted(ctx context.Context, snapshot *metadata.Snapshot, fileID int64) ([]values.Owner, error)
}

// DefinitionPreparer adjusts an attribute definition before it is stored.
type DefinitionPreparer interface {
	PrepareDefinition(snapshot *metadata.Snapshot, attribute *models.Attribute)
}

// Registry resolves handlers by field type key.
type Registry struct {
	catalog  *fieldtypes.Catalog
	handlers map[string]Handler
	order    []string
}

// NewRegistry checks that every catalog entry has exactly one handler.
func NewRegistry(catalog *fieldtypes.Catalog, handlers ...Handler) (*Registry, error) {
	r := &Registry{
		catalog:  catalog,
		handlers: make(map[string]Handler, len(handlers)),
	}
	for _, h := range handlers {
		if !catalog.Has(h.FieldType()) {
			return nil, fmt.Errorf("%w: handler for %q", eaverrors.ErrUnknownFieldType, h.FieldType())
		}
		if _, exists := r.handlers[h.FieldType()]; exists {
			return nil, fmt.Errorf("duplicate handler for field type %q", h.FieldType())
		}
		r.handlers[h.FieldType()] = h
		r.order = append(r.order, h.FieldType())
	}
	for _, key := range catalog.Keys() {
		if _, ok := r.handlers[key]; !ok {
			return nil, fmt.Errorf("no handler registered for field type %q", key)
		}
	}
	return r, nil
}

func (r *Registry) Get(fieldType string) (Handler, error) {
	h, ok := r.handlers[fieldType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", eaverrors.ErrUnknownFieldType, fieldType)
	}
	return h, nil
}

// All returns handlers in registration order.
func (r *Registry) All() []Handler {
	all := make([]Handler, 0, len(r.order))
	for _, key := range r.order {
		all = append(all, r.handlers[key])
	}
	return all
}

func (r *Registry) Catalog() *fieldtypes.Catalog {
	return r.catalog
}

// base stores values in the capability table and mirrors searchable values
// into the fulltext table.
type base struct {
	capabilities fieldtypes.Capabilities
	store        *values.Store
	logger       ectologger.Logger
}

func newBase(catalog *fieldtypes.Catalog, key string, store *values.Store, logger ectologger.Logger) base {
	capabilities, err := catalog.Get(key)
	if err != nil {
		panic(err)
	}
	return base{
		capabilities: capabilities,
		store:        store,
		logger:       logger,
	}
}

func (b *base) FieldType() string {
	return b.capabilities.Key
}

func (b *base) Capabilities() fieldtypes.Capabilities {
	return b.capabilities
}

func (b *base) table() fieldtypes.Table {
	return b.capabilities.Table
}

func (b *base) mirrored(attribute *models.Attribute) bool {
	return attribute.Searchable && b.table() != fieldtypes.TableFulltext
}

func (b *base) Validate(context.Context, *Env, *models.Attribute, any) error {
	return nil
}

// ValidateDefinition enforces the capability flags of the field type.
func (b *base) ValidateDefinition(_ context.Context, _ *metadata.Snapshot, attribute *models.Attribute, verr *eaverrors.ValidationError) {
	c := b.capabilities
	if attribute.Unique && !c.CanBeUnique {
		verr.Addf("unique", "field type %s cannot be unique", c.Key)
	}
	if attribute.Required && !c.CanBeRequired {
		verr.Addf("required", "field type %s cannot be required", c.Key)
	}
	if attribute.Localized && !c.CanBeLocalized {
		verr.Addf("localized", "field type %s cannot be localized", c.Key)
	}
	if attribute.Filterable && !c.CanBeFilterable {
		verr.Addf("filterable", "field type %s cannot be filterable", c.Key)
	}
	if len(attribute.Options) > 0 && !c.HasOptions {
		verr.Addf("options", "field type %s does not have options", c.Key)
	}
}

func (b *base) Insert(ctx context.Context, env *Env, attribute *models.Attribute, localeID int64, parsed []any) error {
	parsed = compact(parsed)
	if err := b.store.Insert(ctx, b.table(), attribute.ID, env.Scope(), localeID, parsed); err != nil {
		return err
	}
	if b.mirrored(attribute) {
		return b.store.Insert(ctx, fieldtypes.TableFulltext, attribute.ID, env.Scope(), localeID, searchText(parsed))
	}
	return nil
}

func (b *base) Update(ctx context.Context, env *Env, attribute *models.Attribute, localeID int64, parsed []any) error {
	parsed = compact(parsed)
	if err := b.store.Replace(ctx, b.table(), attribute.ID, env.Scope(), localeID, parsed); err != nil {
		return err
	}
	if b.mirrored(attribute) {
		return b.store.Replace(ctx, fieldtypes.TableFulltext, attribute.ID, env.Scope(), localeID, searchText(parsed))
	}
	return nil
}

func (b *base) DeleteByEntity(ctx context.Context, env *Env, attribute *models.Attribute) error {
	return b.delete(ctx, values.Criteria{
		AttributeIDs: []int64{attribute.ID},
		EntityIDs:    []int64{env.Entity.ID},
	})
}

func (b *base) DeleteByAttributeSet(ctx context.Context, attribute *models.Attribute, attributeSetID int64) error {
	return b.delete(ctx, values.Criteria{
		AttributeIDs:   []int64{attribute.ID},
		AttributeSetID: &attributeSetID,
	})
}

func (b *base) DeleteByEntityType(ctx context.Context, attribute *models.Attribute, entityTypeID int64) error {
	return b.delete(ctx, values.Criteria{
		AttributeIDs: []int64{attribute.ID},
		EntityTypeID: &entityTypeID,
	})
}

func (b *base) DeleteByAttribute(ctx context.Context, attribute *models.Attribute) error {
	return b.delete(ctx, values.Criteria{AttributeIDs: []int64{attribute.ID}})
}

// delete also clears the fulltext mirror, which may exist from a time the
// attribute was searchable.
func (b *base) delete(ctx context.Context, criteria values.Criteria) error {
	if _, err := b.store.Delete(ctx, b.table(), criteria); err != nil {
		return err
	}
	if b.table() != fieldtypes.TableFulltext {
		if _, err := b.store.Delete(ctx, fieldtypes.TableFulltext, criteria); err != nil {
			return err
		}
	}
	return nil
}

func compact(parsed []any) []any {
	out := make([]any, 0, len(parsed))
	for _, v := range parsed {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

func searchText(parsed []any) []any {
	out := make([]any, len(parsed))
	for i, v := range parsed {
		out[i] = utils.Stringify(v)
	}
	return out
}

// EntityLookup loads entities referenced by relation and node fields.
type EntityLookup interface {
	GetByIDs(ctx context.Context, ids []int64) ([]models.Entity, error)
}

// Dependencies are the collaborators of the built-in handlers.
type Dependencies struct {
	Store    *values.Store
	Entities EntityLookup
	Files    assets.Repository
	// DatetimeFormat is the layout datetime values are submitted and returned in.
	DatetimeFormat string
	Logger         ectologger.Logger
}

// NewDefaultRegistry registers the handlers of every built-in field type.
func NewDefaultRegistry(catalog *fieldtypes.Catalog, deps Dependencies) (*Registry, error) {
	handlers := Handlers(catalog, deps)
	registry, err := NewRegistry(catalog, handlers...)
	if err != nil {
		return nil, err
	}
	for _, h := range handlers {
		if b, ok := h.(interface{ bind(*Registry) }); ok {
			b.bind(registry)
		}
	}
	return registry, nil
}

// Handlers builds the handler of every built-in field type.
func Handlers(catalog *fieldtypes.Catalog, deps Dependencies) []Handler {
	return []Handler{
		NewTextHandler(catalog, fieldtypes.Text, deps.Store, deps.Logger),
		NewTextHandler(catalog, fieldtypes.Textarea, deps.Store, deps.Logger),
		NewIntegerHandler(catalog, deps.Store, deps.Logger),
		NewDecimalHandler(catalog, deps.Store, deps.Logger),
		NewBooleanHandler(catalog, deps.Store, deps.Logger),
		NewDatetimeHandler(catalog, fieldtypes.Datetime, deps.DatetimeFormat, deps.Store, deps.Logger),
		NewDatetimeHandler(catalog, fieldtypes.Date, dateFormat, deps.Store, deps.Logger),
		NewSelectHandler(catalog, deps.Store, deps.Logger),
		NewRelationHandler(catalog, deps.Entities, deps.Store, deps.Logger),
		NewAssetHandler(catalog, deps.Files, deps.Store, deps.Logger),
		NewNodeHandler(catalog, deps.Entities, deps.Store, deps.Logger),
		NewCompoundHandler(catalog, deps.Store, deps.Logger),
	}
}
