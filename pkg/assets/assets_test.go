package assets_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/congraphcms/eav-sub001/pkg/assets"
	"github.com/congraphcms/eav-sub001/pkg/models"
)

func TestExtension(t *testing.T) {
	assert.Equal(t, "jpg", assets.Extension("Photo.JPG"))
	assert.Equal(t, "gz", assets.Extension("archive.tar.gz"))
	assert.Equal(t, "", assets.Extension("README"))
}

func TestAllowed(t *testing.T) {
	file := models.File{Name: "cover.png"}

	assert.True(t, assets.Allowed(file, nil))
	assert.True(t, assets.Allowed(file, []string{"jpg", ".PNG"}))
	assert.False(t, assets.Allowed(file, []string{"pdf"}))
	assert.True(t, assets.Allowed(models.File{Name: "x", Extension: "PDF"}, []string{"pdf"}))
}
