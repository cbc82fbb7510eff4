package metadata

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congraphcms/eav-sub001/internal/repositories/attribute"
	"github.com/congraphcms/eav-sub001/internal/repositories/attributeset"
	"github.com/congraphcms/eav-sub001/internal/repositories/entitytype"
	"github.com/congraphcms/eav-sub001/internal/repositories/locale"
	"github.com/congraphcms/eav-sub001/internal/testutil"
	"github.com/congraphcms/eav-sub001/pkg/database"
	"github.com/congraphcms/eav-sub001/pkg/models"
)

type fakeSource struct {
	loads      int
	attributes []models.Attribute
	err        error
}

func (s *fakeSource) Locales(context.Context) ([]models.Locale, error) {
	s.loads++
	return []models.Locale{{ID: 1, Code: "en_US"}, {ID: 2, Code: "fr_FR"}}, s.err
}

func (s *fakeSource) EntityTypes(context.Context) ([]models.EntityType, error) {
	return []models.EntityType{{ID: 1, Code: "page"}}, nil
}

func (s *fakeSource) Attributes(context.Context) ([]models.Attribute, error) {
	return s.attributes, nil
}

func (s *fakeSource) AttributeSets(context.Context) ([]models.AttributeSet, error) {
	return []models.AttributeSet{{ID: 1, Code: "page_set", EntityTypeID: 1, Members: []models.AttributeSetMember{
		{AttributeSetID: 1, AttributeID: 2, SortOrder: 0},
		{AttributeSetID: 1, AttributeID: 1, SortOrder: 1},
	}}}, nil
}

// pausingSource holds the first Attributes call until release is closed.
type pausingSource struct {
	*fakeSource

	mu      sync.Mutex
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *pausingSource) Attributes(context.Context) ([]models.Attribute, error) {
	s.mu.Lock()
	attributes := slices.Clone(s.attributes)
	s.mu.Unlock()

	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return attributes, nil
}

func (s *pausingSource) add(attribute models.Attribute) {
	s.mu.Lock()
	s.attributes = append(s.attributes, attribute)
	s.mu.Unlock()
}

func newFakeSource() *fakeSource {
	full := models.Attribute{ID: 3, Code: "full_name", FieldType: "compound"}
	full.Data.Data.Inputs = []models.InputToken{{Type: models.TokenField, Value: float64(1)}}
	return &fakeSource{attributes: []models.Attribute{
		{ID: 1, Code: "title", FieldType: "text"},
		{ID: 2, Code: "12", FieldType: "integer"},
		full,
	}}
}

func TestRegistryCaching(t *testing.T) {
	ctx := context.Background()

	t.Run("loads once and reloads after invalidate", func(t *testing.T) {
		source := newFakeSource()
		registry := NewRegistry(source, testutil.Logger())

		first, err := registry.Snapshot(ctx)
		require.NoError(t, err)
		second, err := registry.Snapshot(ctx)
		require.NoError(t, err)
		assert.Same(t, first, second)
		assert.Equal(t, 1, source.loads)

		registry.Invalidate(ctx)
		third, err := registry.Snapshot(ctx)
		require.NoError(t, err)
		assert.NotSame(t, first, third)
		assert.Equal(t, 2, source.loads)
	})

	t.Run("invalidate during a running load is not overwritten", func(t *testing.T) {
		source := &pausingSource{
			fakeSource: newFakeSource(),
			entered:    make(chan struct{}),
			release:    make(chan struct{}),
		}
		registry := NewRegistry(source, testutil.Logger())

		done := make(chan error, 1)
		go func() {
			_, err := registry.Snapshot(ctx)
			done <- err
		}()

		<-source.entered
		source.add(models.Attribute{ID: 9, Code: "new_attr", FieldType: "text"})
		registry.Invalidate(ctx)
		close(source.release)
		require.NoError(t, <-done)

		snapshot, err := registry.Snapshot(ctx)
		require.NoError(t, err)
		_, ok := snapshot.Attribute("new_attr")
		assert.True(t, ok, "attribute written before the read must be visible")
	})

	t.Run("load errors are returned and not cached", func(t *testing.T) {
		source := newFakeSource()
		source.err = errors.New("db down")
		registry := NewRegistry(source, testutil.Logger())

		_, err := registry.Snapshot(ctx)
		assert.Error(t, err)

		source.err = nil
		_, err = registry.Snapshot(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 2, source.loads)
	})

	t.Run("remote version bump forces reload", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		sourceA, sourceB := newFakeSource(), newFakeSource()
		registryA := NewRegistry(sourceA, testutil.Logger(), WithVersionStamp(NewRedisVersionStamp(client, "test:version")))
		registryB := NewRegistry(sourceB, testutil.Logger(), WithVersionStamp(NewRedisVersionStamp(client, "test:version")))

		_, err := registryA.Snapshot(ctx)
		require.NoError(t, err)
		_, err = registryB.Snapshot(ctx)
		require.NoError(t, err)

		registryA.Invalidate(ctx)
		stamp, err := mr.Get("test:version")
		require.NoError(t, err)
		assert.Equal(t, "1", stamp)

		_, err = registryB.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, sourceB.loads)

		_, err = registryB.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, sourceB.loads)
	})
}

func TestSnapshotLookups(t *testing.T) {
	registry := NewRegistry(newFakeSource(), testutil.Logger())
	snapshot, err := registry.Snapshot(context.Background())
	require.NoError(t, err)

	t.Run("id first then code", func(t *testing.T) {
		attr, ok := snapshot.Attribute("1")
		require.True(t, ok)
		assert.Equal(t, "title", attr.Code)

		attr, ok = snapshot.Attribute("title")
		require.True(t, ok)
		assert.Equal(t, int64(1), attr.ID)

		attr, ok = snapshot.Attribute("12")
		require.True(t, ok, "numeric code falls back to code lookup")
		assert.Equal(t, int64(2), attr.ID)

		_, ok = snapshot.Attribute("missing")
		assert.False(t, ok)
	})

	t.Run("set attributes keep member order", func(t *testing.T) {
		attrs := snapshot.SetAttributes(1)
		require.Len(t, attrs, 2)
		assert.Equal(t, "12", attrs[0].Code)
		assert.Equal(t, "title", attrs[1].Code)
		assert.Len(t, snapshot.SetsContaining(1), 1)
		assert.Len(t, snapshot.SetsOfEntityType(1), 1)
	})

	t.Run("compounds referencing", func(t *testing.T) {
		compounds := snapshot.CompoundsReferencing(1)
		require.Len(t, compounds, 1)
		assert.Equal(t, "full_name", compounds[0].Code)
		assert.Empty(t, snapshot.CompoundsReferencing(2))
	})

	t.Run("locales", func(t *testing.T) {
		l, ok := snapshot.Locale("fr_FR")
		require.True(t, ok)
		assert.Equal(t, int64(2), l.ID)
		_, ok = snapshot.LocaleByID(9)
		assert.False(t, ok)
	})
}

func TestRegistryWithRepositories(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	logger := testutil.Logger()

	locales := locale.NewRepository(db, logger)
	types := entitytype.NewRepository(db, logger)
	attrs := attribute.NewRepository(db, logger)
	sets := attributeset.NewRepository(db, logger)
	registry := NewRegistry(NewRepositorySource(locales, types, attrs, sets), logger)

	_, err := locales.Create(ctx, models.CreateLocaleRequest{Code: "en_US"})
	require.NoError(t, err)
	pageType, err := types.Create(ctx, models.CreateEntityTypeRequest{Code: "page", Name: "Page"})
	require.NoError(t, err)
	title, err := attrs.Create(ctx, &models.Attribute{Code: "title", FieldType: "select", Options: []models.AttributeOption{
		{Label: "A", Value: "a"}, {Label: "B", Value: "b", IsDefault: true},
	}})
	require.NoError(t, err)
	_, err = sets.Create(ctx, models.CreateAttributeSetRequest{Code: "page_set", EntityTypeID: pageType.ID, AttributeIDs: []int64{title.ID}})
	require.NoError(t, err)

	snapshot, err := registry.Snapshot(ctx)
	require.NoError(t, err)

	attr, ok := snapshot.Attribute("title")
	require.True(t, ok)
	require.Len(t, attr.Options, 2)
	assert.Equal(t, "b", attr.Options[1].Value)
	assert.True(t, attr.Options[1].IsDefault)

	set, ok := snapshot.AttributeSet("page_set")
	require.True(t, ok)
	assert.Equal(t, []int64{title.ID}, set.AttributeIDs())

	t.Run("snapshot loaded in a transaction is not cached", func(t *testing.T) {
		registry.Invalidate(ctx)
		txCtx, tx, err := db.GetTx(ctx, nil)
		require.NoError(t, err)

		_, err = attrs.Create(txCtx, &models.Attribute{Code: "uncommitted", FieldType: "text"})
		require.NoError(t, err)

		inTx, err := registry.Snapshot(txCtx)
		require.NoError(t, err)
		_, ok := inTx.Attribute("uncommitted")
		assert.True(t, ok)

		require.NoError(t, tx.Rollback(txCtx))
		assert.False(t, database.InTx(txCtx))

		after, err := registry.Snapshot(ctx)
		require.NoError(t, err)
		_, ok = after.Attribute("uncommitted")
		assert.False(t, ok)
	})
}

func TestSnapshotCopies(t *testing.T) {
	snapshot := NewSnapshot(nil, nil,
		[]models.Attribute{{ID: 1, Code: "title"}},
		[]models.AttributeSet{{ID: 1, Code: "default", Members: []models.AttributeSetMember{{AttributeID: 1}}}},
	)

	changed := snapshot.WithAttribute(models.Attribute{ID: 1, Code: "heading"})
	_, ok := changed.AttributeByCode("heading")
	assert.True(t, ok)
	_, ok = snapshot.AttributeByCode("heading")
	assert.False(t, ok, "the original snapshot is untouched")

	added := changed.WithAttribute(models.Attribute{ID: 2, Code: "body"})
	assert.Len(t, added.Attributes(), 2)

	regrouped := added.WithAttributeSet(models.AttributeSet{ID: 1, Code: "default", Members: []models.AttributeSetMember{{AttributeID: 2}, {AttributeID: 1}}})
	codes := []string{}
	for _, a := range regrouped.SetAttributes(1) {
		codes = append(codes, a.Code)
	}
	assert.Equal(t, []string{"body", "heading"}, codes)
}
