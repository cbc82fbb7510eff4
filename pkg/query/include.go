package query

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jmespath/go-jmespath"

	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/fields"
	"github.com/congraphcms/eav-sub001/pkg/metadata"
	"github.com/congraphcms/eav-sub001/pkg/models"
)

// Include is a validated include path.
type Include struct {
	Path      string
	Attribute *models.Attribute
	expr      string
}

// Includes checks that every path names a reference attribute.
func Includes(snapshot *metadata.Snapshot, handlers *fields.Registry, paths []string) ([]Include, error) {
	includes := make([]Include, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		code, ok := strings.CutPrefix(path, fieldPrefix)
		if !ok {
			return nil, eaverrors.NewBadRequestError("include", "cannot include '%s'", path)
		}
		attribute, found := snapshot.AttributeByCode(code)
		if !found {
			return nil, eaverrors.NewBadRequestError("include", "unknown attribute '%s'", code)
		}
		handler, err := handlers.Get(attribute.FieldType)
		if err != nil {
			return nil, err
		}
		if !handler.Capabilities().References {
			return nil, eaverrors.NewBadRequestError("include", "attribute '%s' does not reference other objects", code)
		}
		includes = append(includes, Include{
			Path:      path,
			Attribute: attribute,
			expr:      fmt.Sprintf("fields.%q", code),
		})
	}
	return includes, nil
}

// Resolver reads references out of formatted entities. Compiled include
// expressions are cached.
type Resolver struct {
	cache map[string]*jmespath.JMESPath
	mu    sync.RWMutex
}

func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]*jmespath.JMESPath)}
}

// References returns the references the include points at in e. Localized
// values contribute the references of every locale.
func (r *Resolver) References(include Include, e *models.Entity) ([]models.Reference, error) {
	compiled, err := r.getOrCompile(include.expr)
	if err != nil {
		return nil, fmt.Errorf("invalid include %q: %w", include.Path, err)
	}
	result, err := compiled.Search(map[string]any{"fields": e.Fields})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve include %q: %w", include.Path, err)
	}

	var refs []models.Reference
	collect(result, &refs)
	return refs, nil
}

func (r *Resolver) getOrCompile(expression string) (*jmespath.JMESPath, error) {
	r.mu.RLock()
	if compiled, ok := r.cache[expression]; ok {
		r.mu.RUnlock()
		return compiled, nil
	}
	r.mu.RUnlock()

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[expression] = compiled
	r.mu.Unlock()
	return compiled, nil
}

func collect(value any, refs *[]models.Reference) {
	switch v := value.(type) {
	case models.Reference:
		*refs = append(*refs, v)
	case *models.Reference:
		if v != nil {
			*refs = append(*refs, *v)
		}
	case []models.Reference:
		*refs = append(*refs, v...)
	case []any:
		for _, item := range v {
			collect(item, refs)
		}
	case map[string]any:
		for _, item := range v {
			collect(item, refs)
		}
	}
}
