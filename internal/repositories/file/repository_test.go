package file_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congraphcms/eav-sub001/internal/repositories/file"
	"github.com/congraphcms/eav-sub001/internal/testutil"
	"github.com/congraphcms/eav-sub001/pkg/models"
)

func TestRepository(t *testing.T) {
	ctx := context.Background()
	repo := file.NewRepository(testutil.NewDB(t), testutil.Logger())

	photo, err := repo.Create(ctx, models.CreateFileRequest{Name: "Photo.JPG", MimeType: "image/jpeg", URL: "/files/photo.jpg", Size: 2048})
	require.NoError(t, err)
	assert.Equal(t, "jpg", photo.Extension)

	manual, err := repo.Create(ctx, models.CreateFileRequest{Name: "manual.pdf"})
	require.NoError(t, err)

	t.Run("get by id", func(t *testing.T) {
		got, err := repo.GetByID(ctx, photo.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Photo.JPG", got.Name)
		assert.Equal(t, "image/jpeg", got.MimeType)
		assert.Equal(t, int64(2048), got.Size)
	})

	t.Run("get by ids skips missing", func(t *testing.T) {
		files, err := repo.GetByIDs(ctx, []int64{manual.ID, 999, photo.ID})
		require.NoError(t, err)
		require.Len(t, files, 2)
		assert.Equal(t, photo.ID, files[0].ID)
		assert.Equal(t, manual.ID, files[1].ID)

		files, err = repo.GetByIDs(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, files)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, manual.ID))
		got, err := repo.GetByID(ctx, manual.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}
