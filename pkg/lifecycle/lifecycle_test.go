package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congraphcms/eav-sub001/internal/repositories/attribute"
	"github.com/congraphcms/eav-sub001/internal/repositories/attributeset"
	"github.com/congraphcms/eav-sub001/internal/repositories/entity"
	"github.com/congraphcms/eav-sub001/internal/repositories/entitytype"
	"github.com/congraphcms/eav-sub001/internal/repositories/file"
	"github.com/congraphcms/eav-sub001/internal/repositories/locale"
	"github.com/congraphcms/eav-sub001/internal/testutil"
	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/fields"
	"github.com/congraphcms/eav-sub001/pkg/fieldtypes"
	"github.com/congraphcms/eav-sub001/pkg/lifecycle"
	"github.com/congraphcms/eav-sub001/pkg/metadata"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/validation"
	"github.com/congraphcms/eav-sub001/pkg/values"
)

type harness struct {
	ctx         context.Context
	coordinator *lifecycle.Coordinator
	store       *values.Store
	entities    *entity.Repository
	files       *file.Repository
	sets        *attributeset.Repository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	logger := testutil.Logger()

	repos := lifecycle.Repositories{
		Entities:      entity.NewRepository(db, logger),
		EntityTypes:   entitytype.NewRepository(db, logger),
		Attributes:    attribute.NewRepository(db, logger),
		AttributeSets: attributeset.NewRepository(db, logger),
		Locales:       locale.NewRepository(db, logger),
	}
	registry := metadata.NewRegistry(metadata.NewRepositorySource(repos.Locales, repos.EntityTypes, repos.Attributes, repos.AttributeSets), logger)
	store := values.NewStore(db, logger)
	files := file.NewRepository(db, logger)

	handlers, err := fields.NewDefaultRegistry(fieldtypes.Default(), fields.Dependencies{
		Store:    store,
		Entities: repos.Entities,
		Files:    files,
		Logger:   logger,
	})
	require.NoError(t, err)

	pipeline := validation.NewPipeline(handlers, store, logger)
	coordinator := lifecycle.NewCoordinator(db, registry, handlers, pipeline, store, repos, logger)
	coordinator.RegisterHandlerHooks(handlers)

	return &harness{
		ctx:         context.Background(),
		coordinator: coordinator,
		store:       store,
		entities:    repos.Entities.(*entity.Repository),
		files:       files,
		sets:        repos.AttributeSets.(*attributeset.Repository),
	}
}

func (h *harness) entityType(t *testing.T, code string) *models.EntityType {
	t.Helper()
	et, err := h.coordinator.CreateEntityType(h.ctx, models.CreateEntityTypeRequest{Code: code, Name: code})
	require.NoError(t, err)
	return et
}

func (h *harness) attribute(t *testing.T, req models.CreateAttributeRequest) *models.Attribute {
	t.Helper()
	a, err := h.coordinator.CreateAttribute(h.ctx, req)
	require.NoError(t, err)
	return a
}

func (h *harness) set(t *testing.T, code string, entityTypeID int64, attributes ...*models.Attribute) *models.AttributeSet {
	t.Helper()
	ids := make([]int64, len(attributes))
	for i, a := range attributes {
		ids[i] = a.ID
	}
	set, err := h.coordinator.CreateAttributeSet(h.ctx, models.CreateAttributeSetRequest{Code: code, EntityTypeID: entityTypeID, AttributeIDs: ids})
	require.NoError(t, err)
	return set
}

func (h *harness) create(t *testing.T, entityTypeID int64, fieldValues map[string]any) *models.Entity {
	t.Helper()
	e, err := h.coordinator.CreateEntity(h.ctx, models.CreateEntityRequest{EntityTypeID: entityTypeID, Fields: fieldValues})
	require.NoError(t, err)
	return e
}

func (h *harness) stored(t *testing.T, table fieldtypes.Table, attributeID, entityID int64) []any {
	t.Helper()
	rows, err := h.store.Select(h.ctx, table, values.Criteria{AttributeIDs: []int64{attributeID}, EntityIDs: []int64{entityID}})
	require.NoError(t, err)
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row.Value
	}
	return out
}

func fullName(first, last *models.Attribute) models.CreateAttributeRequest {
	return models.CreateAttributeRequest{
		Code:      "full_name",
		FieldType: fieldtypes.Compound,
		Data: models.AttributeData{
			ExpectedValue: "string",
			Inputs: []models.InputToken{
				{Type: models.TokenField, Value: first.ID},
				{Type: models.TokenOperator, Value: "CONCAT"},
				{Type: models.TokenLiteral, Value: " "},
				{Type: models.TokenOperator, Value: "CONCAT"},
				{Type: models.TokenField, Value: last.ID},
			},
		},
	}
}

func validationError(t *testing.T, err error) *eaverrors.ValidationError {
	t.Helper()
	var verr *eaverrors.ValidationError
	require.True(t, errors.As(err, &verr), "expected a validation error, got %v", err)
	return verr
}

func TestCompoundIsComputedOnCreateAndUpdate(t *testing.T) {
	h := newHarness(t)
	person := h.entityType(t, "person")
	first := h.attribute(t, models.CreateAttributeRequest{Code: "first_name", FieldType: fieldtypes.Text})
	last := h.attribute(t, models.CreateAttributeRequest{Code: "last_name", FieldType: fieldtypes.Text})
	full := h.attribute(t, fullName(first, last))
	h.set(t, "person_default", person.ID, first, last, full)

	e := h.create(t, person.ID, map[string]any{"first_name": "Ann", "last_name": "Lee"})
	assert.Equal(t, []any{"Ann Lee"}, h.stored(t, fieldtypes.TableText, full.ID, e.ID))

	_, err := h.coordinator.UpdateEntity(h.ctx, e.ID, models.UpdateEntityRequest{Fields: map[string]any{"last_name": "Smith"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"Ann Smith"}, h.stored(t, fieldtypes.TableText, full.ID, e.ID))
}

func TestCompoundDefinitionChangeRecomputes(t *testing.T) {
	h := newHarness(t)
	person := h.entityType(t, "person")
	first := h.attribute(t, models.CreateAttributeRequest{Code: "first_name", FieldType: fieldtypes.Text})
	last := h.attribute(t, models.CreateAttributeRequest{Code: "last_name", FieldType: fieldtypes.Text})
	full := h.attribute(t, fullName(first, last))
	h.set(t, "person_default", person.ID, first, last, full)
	e := h.create(t, person.ID, map[string]any{"first_name": "Ann", "last_name": "Lee"})

	data := models.AttributeData{
		ExpectedValue: "string",
		Inputs: []models.InputToken{
			{Type: models.TokenField, Value: last.ID},
			{Type: models.TokenOperator, Value: "CONCAT"},
			{Type: models.TokenLiteral, Value: ", "},
			{Type: models.TokenOperator, Value: "CONCAT"},
			{Type: models.TokenField, Value: first.ID},
		},
	}
	_, err := h.coordinator.UpdateAttribute(h.ctx, full.ID, models.UpdateAttributeRequest{Data: &data})
	require.NoError(t, err)
	assert.Equal(t, []any{"Lee, Ann"}, h.stored(t, fieldtypes.TableText, full.ID, e.ID))
}

func TestUniqueValuesAcrossEntities(t *testing.T) {
	h := newHarness(t)
	product := h.entityType(t, "product")
	sku := h.attribute(t, models.CreateAttributeRequest{Code: "sku", FieldType: fieldtypes.Text, Unique: true})
	h.set(t, "product_default", product.ID, sku)

	first := h.create(t, product.ID, map[string]any{"sku": "A-1"})

	_, err := h.coordinator.CreateEntity(h.ctx, models.CreateEntityRequest{EntityTypeID: product.ID, Fields: map[string]any{"sku": "A-1"}})
	verr := validationError(t, err)
	assert.True(t, verr.Has("fields.sku", "not unique"))

	// an entity may keep its own value
	_, err = h.coordinator.UpdateEntity(h.ctx, first.ID, models.UpdateEntityRequest{Fields: map[string]any{"sku": "A-1"}})
	assert.NoError(t, err)
}

func TestFailedHookRollsBackCommand(t *testing.T) {
	h := newHarness(t)
	page := h.entityType(t, "page")
	title := h.attribute(t, models.CreateAttributeRequest{Code: "title", FieldType: fieldtypes.Text})
	h.set(t, "page_default", page.ID, title)

	var calls []string
	h.coordinator.OnBeforeUpdate(fieldtypes.Text, func(_ context.Context, _ *fields.Env, _ models.FieldValues) (any, error) {
		calls = append(calls, "before")
		return "state", nil
	})
	h.coordinator.OnAfterUpdate(fieldtypes.Text, func(_ context.Context, _ *fields.Env, state any) error {
		calls = append(calls, "after:"+state.(string))
		return errors.New("boom")
	})

	_, err := h.coordinator.CreateEntity(h.ctx, models.CreateEntityRequest{EntityTypeID: page.ID, Fields: map[string]any{"title": "Home"}})
	require.EqualError(t, err, "boom")
	assert.Equal(t, []string{"before", "after:state"}, calls)

	ids, err := h.entities.ListIDs(h.ctx, "entity_type_id", page.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
	rows, err := h.store.Select(h.ctx, fieldtypes.TableText, values.Criteria{AttributeIDs: []int64{title.ID}})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestWorkflowStatus(t *testing.T) {
	h := newHarness(t)
	page := h.entityType(t, "page")
	h.set(t, "page_default", page.ID)

	e := h.create(t, page.ID, nil)
	assert.Equal(t, models.StatusPublished, e.Status)

	_, err := h.coordinator.CreateEntity(h.ctx, models.CreateEntityRequest{EntityTypeID: page.ID, Status: models.StatusDraft})
	verr := validationError(t, err)
	assert.Equal(t, []string{"status"}, verr.Keys())
}

func TestDeleteEntityTypeCascades(t *testing.T) {
	h := newHarness(t)
	page := h.entityType(t, "page")
	title := h.attribute(t, models.CreateAttributeRequest{Code: "title", FieldType: fieldtypes.Text, Searchable: true})
	views := h.attribute(t, models.CreateAttributeRequest{Code: "views", FieldType: fieldtypes.Integer})
	h.set(t, "page_default", page.ID, title, views)
	h.set(t, "page_short", page.ID, title)

	var created []int64
	for _, name := range []string{"Pocetna strana", "Kontakt strana"} {
		created = append(created, h.create(t, page.ID, map[string]any{"title": name, "views": 3}).ID)
	}

	deleted, err := h.coordinator.DeleteEntityType(h.ctx, page.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, created, deleted)

	ids, err := h.entities.ListIDs(h.ctx, "entity_type_id", page.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	typeID := page.ID
	for _, table := range fieldtypes.Tables {
		rows, err := h.store.Select(h.ctx, table, values.Criteria{EntityTypeID: &typeID})
		require.NoError(t, err)
		assert.Empty(t, rows, table)
	}

	sets, err := h.sets.List(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestDeletedEntitiesAreUnlinked(t *testing.T) {
	h := newHarness(t)
	page := h.entityType(t, "page")
	related := h.attribute(t, models.CreateAttributeRequest{Code: "related", FieldType: fieldtypes.Relation})
	h.set(t, "page_default", page.ID, related)

	a := h.create(t, page.ID, nil)
	b := h.create(t, page.ID, nil)
	c := h.create(t, page.ID, map[string]any{"related": []any{a.ID, b.ID}})

	_, err := h.coordinator.DeleteEntity(h.ctx, a.ID)
	require.NoError(t, err)

	rows, err := h.store.Select(h.ctx, fieldtypes.TableInteger, values.Criteria{AttributeIDs: []int64{related.ID}, EntityIDs: []int64{c.ID}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, b.ID, rows[0].Value)
	assert.Equal(t, 0, rows[0].SortOrder)

	_, err = h.coordinator.DeleteEntity(h.ctx, a.ID)
	assert.True(t, eaverrors.IsNotFoundError(err))
}

func TestDeletedFilesAreUnlinked(t *testing.T) {
	h := newHarness(t)
	page := h.entityType(t, "page")
	image := h.attribute(t, models.CreateAttributeRequest{
		Code:      "image",
		FieldType: fieldtypes.Asset,
		Data:      models.AttributeData{FileTypes: []string{"png"}},
	})
	h.set(t, "page_default", page.ID, image)

	logo, err := h.files.Create(h.ctx, models.CreateFileRequest{Name: "logo.png"})
	require.NoError(t, err)
	doc, err := h.files.Create(h.ctx, models.CreateFileRequest{Name: "terms.pdf"})
	require.NoError(t, err)

	_, err = h.coordinator.CreateEntity(h.ctx, models.CreateEntityRequest{EntityTypeID: page.ID, Fields: map[string]any{"image": []any{doc.ID}}})
	validationError(t, err)

	e := h.create(t, page.ID, map[string]any{"image": []any{logo.ID}})
	require.NoError(t, h.coordinator.FileDeleted(h.ctx, logo.ID))
	assert.Empty(t, h.stored(t, fieldtypes.TableInteger, image.ID, e.ID))
}

func TestAttributeReadByCompoundCannotBeDeleted(t *testing.T) {
	h := newHarness(t)
	first := h.attribute(t, models.CreateAttributeRequest{Code: "first_name", FieldType: fieldtypes.Text})
	last := h.attribute(t, models.CreateAttributeRequest{Code: "last_name", FieldType: fieldtypes.Text})
	full := h.attribute(t, fullName(first, last))

	err := h.coordinator.DeleteAttribute(h.ctx, first.ID)
	verr := validationError(t, err)
	assert.True(t, verr.Has("attribute", "attribute is an input of compound full_name"))

	require.NoError(t, h.coordinator.DeleteAttribute(h.ctx, full.ID))
	require.NoError(t, h.coordinator.DeleteAttribute(h.ctx, first.ID))
}

func TestAttributeDefinitionErrors(t *testing.T) {
	h := newHarness(t)
	h.attribute(t, models.CreateAttributeRequest{Code: "title", FieldType: fieldtypes.Text})

	_, err := h.coordinator.CreateAttribute(h.ctx, models.CreateAttributeRequest{Code: "title", FieldType: fieldtypes.Boolean, Unique: true})
	verr := validationError(t, err)
	assert.True(t, verr.Has("code", "already exists"))
	assert.True(t, verr.Has("unique", "field type boolean cannot be unique"))

	_, err = h.coordinator.CreateAttribute(h.ctx, models.CreateAttributeRequest{Code: "blob", FieldType: "blob"})
	verr = validationError(t, err)
	assert.Equal(t, []string{"field_type"}, verr.Keys())
}

func TestSearchableToggleMaintainsMirror(t *testing.T) {
	h := newHarness(t)
	page := h.entityType(t, "page")
	title := h.attribute(t, models.CreateAttributeRequest{Code: "title", FieldType: fieldtypes.Text})
	h.set(t, "page_default", page.ID, title)
	e := h.create(t, page.ID, map[string]any{"title": "Pocetna strana"})
	assert.Empty(t, h.stored(t, fieldtypes.TableFulltext, title.ID, e.ID))

	on, off := true, false
	_, err := h.coordinator.UpdateAttribute(h.ctx, title.ID, models.UpdateAttributeRequest{Searchable: &on})
	require.NoError(t, err)
	assert.Equal(t, []any{"Pocetna strana"}, h.stored(t, fieldtypes.TableFulltext, title.ID, e.ID))

	_, err = h.coordinator.UpdateAttribute(h.ctx, title.ID, models.UpdateAttributeRequest{Searchable: &off})
	require.NoError(t, err)
	assert.Empty(t, h.stored(t, fieldtypes.TableFulltext, title.ID, e.ID))
}

func TestSetMembershipChanges(t *testing.T) {
	h := newHarness(t)
	person := h.entityType(t, "person")
	first := h.attribute(t, models.CreateAttributeRequest{Code: "first_name", FieldType: fieldtypes.Text})
	last := h.attribute(t, models.CreateAttributeRequest{Code: "last_name", FieldType: fieldtypes.Text})
	nickname := h.attribute(t, models.CreateAttributeRequest{Code: "nickname", FieldType: fieldtypes.Text})
	full := h.attribute(t, fullName(first, last))
	set := h.set(t, "person_default", person.ID, first, last, nickname)
	e := h.create(t, person.ID, map[string]any{"first_name": "Ann", "last_name": "Lee", "nickname": "Annie"})

	members := []int64{first.ID, last.ID, full.ID}
	_, err := h.coordinator.UpdateAttributeSet(h.ctx, set.ID, models.UpdateAttributeSetRequest{AttributeIDs: &members})
	require.NoError(t, err)

	assert.Empty(t, h.stored(t, fieldtypes.TableText, nickname.ID, e.ID))
	assert.Equal(t, []any{"Ann Lee"}, h.stored(t, fieldtypes.TableText, full.ID, e.ID))

	unknown := []int64{first.ID, 999, 998}
	_, err = h.coordinator.UpdateAttributeSet(h.ctx, set.ID, models.UpdateAttributeSetRequest{AttributeIDs: &unknown})
	verr := validationError(t, err)
	assert.Len(t, verr.Messages("attributes"), 2)
}

func TestDeleteLocalePurgesValues(t *testing.T) {
	h := newHarness(t)
	en, err := h.coordinator.CreateLocale(h.ctx, models.CreateLocaleRequest{Code: "en"})
	require.NoError(t, err)
	sr, err := h.coordinator.CreateLocale(h.ctx, models.CreateLocaleRequest{Code: "sr"})
	require.NoError(t, err)

	page := h.entityType(t, "page")
	title := h.attribute(t, models.CreateAttributeRequest{Code: "title", FieldType: fieldtypes.Text, Localized: true})
	h.set(t, "page_default", page.ID, title)
	e := h.create(t, page.ID, map[string]any{"title": map[string]any{"en": "Home", "sr": "Pocetna"}})

	require.NoError(t, h.coordinator.DeleteLocale(h.ctx, sr.ID))

	rows, err := h.store.Select(h.ctx, fieldtypes.TableText, values.Criteria{AttributeIDs: []int64{title.ID}, EntityIDs: []int64{e.ID}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, en.ID, rows[0].LocaleID)
	assert.Equal(t, "Home", rows[0].Value)
}

func TestCleanupRecomputesCompounds(t *testing.T) {
	h := newHarness(t)
	page := h.entityType(t, "page")
	parent := h.attribute(t, models.CreateAttributeRequest{Code: "parent", FieldType: fieldtypes.Node})
	ref := h.attribute(t, models.CreateAttributeRequest{
		Code:      "ref",
		FieldType: fieldtypes.Compound,
		Data: models.AttributeData{
			ExpectedValue: "string",
			Inputs: []models.InputToken{
				{Type: models.TokenLiteral, Value: "p"},
				{Type: models.TokenOperator, Value: "CONCAT"},
				{Type: models.TokenField, Value: parent.ID},
			},
		},
	})
	h.set(t, "page_default", page.ID, parent, ref)

	a := h.create(t, page.ID, nil)
	b := h.create(t, page.ID, map[string]any{"parent": a.ID})
	assert.Equal(t, []any{fmt.Sprintf("p%d", a.ID)}, h.stored(t, fieldtypes.TableText, ref.ID, b.ID))

	_, err := h.coordinator.DeleteEntity(h.ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, h.stored(t, fieldtypes.TableInteger, parent.ID, b.ID))
	assert.Equal(t, []any{"p"}, h.stored(t, fieldtypes.TableText, ref.ID, b.ID))
}

func TestRemovedMemberRecomputesCompounds(t *testing.T) {
	h := newHarness(t)
	person := h.entityType(t, "person")
	first := h.attribute(t, models.CreateAttributeRequest{Code: "first_name", FieldType: fieldtypes.Text})
	last := h.attribute(t, models.CreateAttributeRequest{Code: "last_name", FieldType: fieldtypes.Text})
	full := h.attribute(t, fullName(first, last))
	set := h.set(t, "person_default", person.ID, first, last, full)
	e := h.create(t, person.ID, map[string]any{"first_name": "Ann", "last_name": "Lee"})

	members := []int64{first.ID, full.ID}
	_, err := h.coordinator.UpdateAttributeSet(h.ctx, set.ID, models.UpdateAttributeSetRequest{AttributeIDs: &members})
	require.NoError(t, err)

	assert.Empty(t, h.stored(t, fieldtypes.TableText, last.ID, e.ID))
	assert.Equal(t, []any{"Ann "}, h.stored(t, fieldtypes.TableText, full.ID, e.ID))
}

func TestUpdateEntityOfUnknownType(t *testing.T) {
	h := newHarness(t)
	orphan, err := h.entities.Create(h.ctx, 404, 1, models.StatusPublished)
	require.NoError(t, err)

	status := models.StatusDraft
	_, err = h.coordinator.UpdateEntity(h.ctx, orphan.ID, models.UpdateEntityRequest{Status: &status})
	assert.True(t, eaverrors.IsNotFoundError(err))
}
