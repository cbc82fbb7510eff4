package seed_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congraphcms/eav-sub001/internal/testutil"
	"github.com/congraphcms/eav-sub001/pkg/engine"
	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/seed"
)

const people = `
locales:
  - code: en
    name: English
  - code: fr
    name: French
entity_types:
  - code: person
    name: Person
    plural_name: People
    default_set: person_default
attributes:
  - code: first_name
    field_type: text
    required: true
  - code: last_name
    field_type: text
  - code: full_name
    field_type: compound
    searchable: true
    expected_value: string
    inputs:
      - type: field
        value: first_name
      - type: operator
        value: CONCAT
      - type: literal
        value: " "
      - type: operator
        value: CONCAT
      - type: field
        value: last_name
attribute_sets:
  - code: person_default
    entity_type: person
    name: Default
    attributes: [first_name, last_name, full_name]
`

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.New(engine.Options{DB: testutil.NewDB(t), Logger: testutil.Logger()})
	require.NoError(t, err)
	return eng
}

func TestSeeder_Apply(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	seeder := seed.NewSeeder(eng, testutil.Logger())

	doc, err := seed.Parse([]byte(people))
	require.NoError(t, err)

	result, err := seeder.Apply(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, seed.Result{Created: 7}, result)

	person, err := eng.FetchEntityType(ctx, "person")
	require.NoError(t, err)
	set, err := eng.FetchAttributeSet(ctx, "person_default")
	require.NoError(t, err)
	require.NotNil(t, person.DefaultSetID)
	assert.Equal(t, set.ID, *person.DefaultSetID)
	assert.Len(t, set.Members, 3)

	first, err := eng.FetchAttribute(ctx, "first_name")
	require.NoError(t, err)
	full, err := eng.FetchAttribute(ctx, "full_name")
	require.NoError(t, err)
	assert.True(t, full.References(first.ID))

	created, err := eng.CreateEntity(ctx, models.CreateEntityRequest{
		EntityTypeID: person.ID,
		Fields:       map[string]any{"first_name": "Ann", "last_name": "Lee"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", created.Fields["full_name"])

	t.Run("applying again skips existing codes", func(t *testing.T) {
		result, err := seeder.Apply(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, seed.Result{Skipped: 7}, result)

		locales, err := eng.GetLocales(ctx)
		require.NoError(t, err)
		assert.Len(t, locales, 2)
	})
}

func TestSeeder_UnknownReference(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)

	doc, err := seed.Parse([]byte(`
entity_types:
  - code: page
    name: Page
attribute_sets:
  - code: page_default
    entity_type: page
    attributes: [title]
`))
	require.NoError(t, err)

	result, err := seed.NewSeeder(eng, testutil.Logger()).Apply(ctx, doc)
	require.Error(t, err)
	assert.True(t, eaverrors.IsNotFoundError(err))
	assert.Equal(t, 1, result.Created)
}

func TestDocument_Validate(t *testing.T) {
	tests := []struct {
		name  string
		doc   seed.Document
		paths []string
	}{
		{
			name: "valid",
			doc: seed.Document{
				Locales:    []seed.Locale{{Code: "en"}},
				Attributes: []seed.Attribute{{Code: "title", FieldType: "text"}},
			},
		},
		{
			name: "duplicate attribute",
			doc: seed.Document{
				Attributes: []seed.Attribute{{Code: "title"}, {Code: "title"}},
			},
			paths: []string{"attributes[1].code"},
		},
		{
			name: "set without entity type or code",
			doc: seed.Document{
				AttributeSets: []seed.AttributeSet{{Attributes: []string{""}}},
			},
			paths: []string{"attribute_sets[0].code", "attribute_sets[0].entity_type", "attribute_sets[0].attributes"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate()
			if len(tt.paths) == 0 {
				assert.NoError(t, err)
				return
			}
			var verr *eaverrors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.ElementsMatch(t, tt.paths, verr.Keys())
		})
	}
}

func TestSeeder_BundledPages(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)

	doc, err := seed.Load(filepath.Join("..", "..", "db", "seed", "pages.yaml"))
	require.NoError(t, err)

	result, err := seed.NewSeeder(eng, testutil.Logger()).Apply(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 8, result.Created)

	visibility, err := eng.FetchAttribute(ctx, "visibility")
	require.NoError(t, err)
	assert.Len(t, visibility.Options, 2)
}

func TestParse_Malformed(t *testing.T) {
	_, err := seed.Parse([]byte("locales: [code: en"))
	assert.Error(t, err)
}
