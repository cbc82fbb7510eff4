// Package assets describes the file repository asset fields depend on.
package assets

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/congraphcms/eav-sub001/pkg/models"
)

// Repository looks up stored files.
type Repository interface {
	// GetByIDs returns the files that exist among ids, in no particular order.
	GetByIDs(ctx context.Context, ids []int64) ([]models.File, error)
}

// Extension returns the lower-case extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Allowed reports whether file matches one of the allowed extensions. An empty
// list allows every file.
func Allowed(file models.File, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	ext := strings.ToLower(file.Extension)
	if ext == "" {
		ext = Extension(file.Name)
	}
	return slices.ContainsFunc(allowed, func(a string) bool {
		return strings.ToLower(strings.TrimPrefix(a, ".")) == ext
	})
}
