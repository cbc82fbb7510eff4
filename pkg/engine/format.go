package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/Gobusters/ectolinq"

	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/fields"
	"github.com/congraphcms/eav-sub001/pkg/metadata"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/query"
)

// formatter materializes entity fields for one locale, or for every locale
// when locale is nil.
type formatter struct {
	engine   *Engine
	snapshot *metadata.Snapshot
	locale   *models.Locale
}

func (e *Engine) formatter(snapshot *metadata.Snapshot, locale *models.Locale) *formatter {
	return &formatter{engine: e, snapshot: snapshot, locale: locale}
}

func (f *formatter) format(ctx context.Context, entities []*models.Entity) error {
	ids := ectolinq.Map(entities, func(e *models.Entity) int64 { return e.ID })
	loaded, err := f.engine.store.Load(ctx, ids, fields.HomeTable(f.engine.handlers, f.snapshot))
	if err != nil {
		return err
	}

	for _, e := range entities {
		if entityType, ok := f.snapshot.EntityTypeByID(e.EntityTypeID); ok {
			e.Type = entityType.Code
		}
		if f.locale != nil {
			e.Locale = f.locale.Code
		}
		e.Fields = make(map[string]any)

		fv := loaded[e.ID]
		for _, attribute := range f.snapshot.SetAttributes(e.AttributeSetID) {
			value, err := f.field(ctx, attribute, fv)
			if err != nil {
				return err
			}
			e.Fields[attribute.Code] = value
		}
	}
	return nil
}

func (f *formatter) field(ctx context.Context, attribute *models.Attribute, fv models.FieldValues) (any, error) {
	if !attribute.Localized {
		return f.value(ctx, attribute, fv, 0)
	}
	if f.locale != nil {
		return f.value(ctx, attribute, fv, f.locale.ID)
	}

	byLocale := make(map[string]any)
	for _, l := range f.snapshot.Locales() {
		value, err := f.value(ctx, attribute, fv, l.ID)
		if err != nil {
			return nil, err
		}
		byLocale[l.Code] = value
	}
	return byLocale, nil
}

func (f *formatter) value(ctx context.Context, attribute *models.Attribute, fv models.FieldValues, localeID int64) (any, error) {
	handler, err := f.engine.handlers.Get(attribute.FieldType)
	if err != nil {
		return nil, err
	}

	stored, _ := fv.Get(attribute.ID, localeID)
	formatted := make([]any, 0, len(stored))
	for _, v := range stored {
		out, err := handler.FormatValue(ctx, attribute, v)
		if err != nil {
			return nil, fmt.Errorf("failed to format %s: %w", attribute.Code, err)
		}
		formatted = append(formatted, out)
	}

	if handler.Capabilities().HasMultipleValues {
		return formatted, nil
	}
	if len(formatted) == 0 {
		return nil, nil
	}
	return formatted[0], nil
}

// searchable returns the formatted values of searchable attributes.
func (f *formatter) searchable(e *models.Entity) map[string]any {
	out := make(map[string]any)
	for _, attribute := range f.snapshot.SetAttributes(e.AttributeSetID) {
		if !attribute.Searchable {
			continue
		}
		out[attribute.Code] = e.Fields[attribute.Code]
	}
	return out
}

// included resolves the references the includes point at. Every object is
// returned once, entities first.
func (f *formatter) included(ctx context.Context, includes []query.Include, entities []*models.Entity) ([]any, error) {
	if len(includes) == 0 {
		return nil, nil
	}

	var entityIDs, fileIDs []int64
	for _, include := range includes {
		for _, e := range entities {
			refs, err := f.engine.resolver.References(include, e)
			if err != nil {
				return nil, err
			}
			for _, ref := range refs {
				switch ref.Type {
				case fields.ReferenceFile:
					if !ectolinq.Contains(fileIDs, ref.ID) {
						fileIDs = append(fileIDs, ref.ID)
					}
				default:
					if !ectolinq.Contains(entityIDs, ref.ID) {
						entityIDs = append(entityIDs, ref.ID)
					}
				}
			}
		}
	}

	var out []any
	if len(entityIDs) > 0 {
		found, err := f.engine.entities.GetByIDs(ctx, entityIDs)
		if err != nil {
			return nil, err
		}
		related := make([]*models.Entity, len(found))
		for i := range found {
			related[i] = &found[i]
		}
		if err := f.format(ctx, related); err != nil {
			return nil, err
		}
		for _, id := range entityIDs {
			if i := slices.IndexFunc(related, func(e *models.Entity) bool { return e.ID == id }); i >= 0 {
				out = append(out, related[i])
			}
		}
	}

	if len(fileIDs) > 0 {
		files, err := f.engine.files.GetByIDs(ctx, fileIDs)
		if err != nil {
			return nil, err
		}
		for _, id := range fileIDs {
			for _, file := range files {
				if file.ID == id {
					out = append(out, file)
				}
			}
		}
	}
	return out, nil
}

// resolveLocale returns nil for an empty code.
func resolveLocale(snapshot *metadata.Snapshot, code string) (*models.Locale, error) {
	if code == "" {
		return nil, nil
	}
	l, ok := snapshot.Locale(code)
	if !ok {
		return nil, eaverrors.NewBadRequestError("locale", "unknown locale '%s'", code)
	}
	return l, nil
}
