// Package validation checks submitted entity fields against their attribute
// definitions and returns the parsed values ready for storage.
package validation

import (
	"context"
	"fmt"
	"sort"

	"github.com/Gobusters/ectologger"

	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/fields"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/tracing"
	"github.com/congraphcms/eav-sub001/pkg/utils"
	"github.com/congraphcms/eav-sub001/pkg/values"
)

const (
	MessageRequired       = "required"
	MessageLocaleRequired = "locale required"
	MessageNotUnique      = "not unique"
	MessageUnknownField   = "unknown field"
	MessageUnknownLocale  = "unknown locale"
	MessageSingleValue    = "must be a single value"
)

// Input is one entity mutation to validate.
type Input struct {
	Env    *fields.Env
	Fields map[string]any
	// Create applies default values and requires every required attribute.
	Create bool
}

type Result struct {
	// Values holds the parsed values to write, keyed by attribute and locale.
	// An empty slice clears the stored value.
	Values models.FieldValues
}

type Pipeline struct {
	handlers *fields.Registry
	store    *values.Store
	logger   ectologger.Logger
}

func NewPipeline(handlers *fields.Registry, store *values.Store, logger ectologger.Logger) *Pipeline {
	return &Pipeline{
		handlers: handlers,
		store:    store,
		logger:   logger,
	}
}

type entry struct {
	localeID int64
	path     string
	raw      any
}

// Validate runs, per attribute: required, locale required, unique and then
// the field type checks. Every failure is collected into one ValidationError.
// Storage and configuration errors are returned as they are.
func (p *Pipeline) Validate(ctx context.Context, in Input) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Pipeline.Validate")
	defer span.End()

	env := in.Env
	members := env.Snapshot.SetAttributes(env.Entity.AttributeSetID)
	verr := eaverrors.NewValidationError()
	result := &Result{Values: models.FieldValues{}}

	known := make(map[string]bool, len(members))
	for _, attribute := range members {
		known[attribute.Code] = true
	}
	for _, code := range sortedKeys(in.Fields) {
		if !known[code] {
			verr.Add(fieldPath(code), MessageUnknownField)
		}
	}

	for _, attribute := range members {
		handler, err := p.handlers.Get(attribute.FieldType)
		if err != nil {
			return nil, err
		}
		if handler.Capabilities().Derived {
			continue
		}

		raw, submitted := in.Fields[attribute.Code]
		defaulted := false
		if !submitted && in.Create && attribute.DefaultValue != nil {
			raw, submitted, defaulted = *attribute.DefaultValue, true, true
		}
		if !submitted {
			if in.Create && attribute.Required {
				verr.Add(fieldPath(attribute.Code), MessageRequired)
			}
			continue
		}

		for _, e := range p.entries(env, attribute, raw, defaulted, verr) {
			parsed, err := p.validateEntry(ctx, env, handler, attribute, e, verr)
			if err != nil {
				return nil, err
			}
			if parsed != nil {
				result.Values.Set(attribute.ID, e.localeID, parsed)
			}
		}
	}

	if err := verr.ErrOrNil(); err != nil {
		p.logger.WithContext(ctx).WithField("errors", verr.Keys()).Debug("entity fields failed validation")
		return nil, err
	}
	return result, nil
}

// entries splits a submitted value by locale. A localized attribute without a
// locale context takes a locale code keyed map; defaults apply to every locale.
func (p *Pipeline) entries(env *fields.Env, attribute *models.Attribute, raw any, defaulted bool, verr *eaverrors.ValidationError) []entry {
	path := fieldPath(attribute.Code)
	if !attribute.Localized || env.Locale != nil {
		return []entry{{localeID: env.LocaleID(attribute), path: path, raw: raw}}
	}

	locales := env.Snapshot.Locales()
	if defaulted {
		entries := make([]entry, 0, len(locales))
		for _, l := range locales {
			entries = append(entries, entry{localeID: l.ID, path: path + "." + l.Code, raw: raw})
		}
		return entries
	}

	byLocale, isMap := raw.(map[string]any)
	if !isMap {
		if attribute.Required && utils.IsEmpty(raw) {
			verr.Add(path, MessageRequired)
		}
		verr.Add(path, MessageLocaleRequired)
		return nil
	}
	if attribute.Required && len(byLocale) == 0 {
		verr.Add(path, MessageRequired)
		return nil
	}

	for _, code := range sortedKeys(byLocale) {
		if _, ok := env.Snapshot.Locale(code); !ok {
			verr.Add(path+"."+code, MessageUnknownLocale)
		}
	}
	entries := make([]entry, 0, len(byLocale))
	for _, l := range locales {
		if v, ok := byLocale[l.Code]; ok {
			entries = append(entries, entry{localeID: l.ID, path: path + "." + l.Code, raw: v})
		}
	}
	return entries
}

func (p *Pipeline) validateEntry(ctx context.Context, env *fields.Env, handler fields.Handler, attribute *models.Attribute, e entry, verr *eaverrors.ValidationError) ([]any, error) {
	elements, ok := split(e.raw, handler.Capabilities().HasMultipleValues)
	if !ok {
		verr.Add(e.path, MessageSingleValue)
		return nil, nil
	}

	var typeErrors []string
	parsed := make([]any, 0, len(elements))
	for _, element := range elements {
		v, err := handler.ParseValue(ctx, attribute, element)
		if err != nil {
			typeErrors = append(typeErrors, err.Error())
			continue
		}
		if !utils.IsEmpty(v) {
			parsed = append(parsed, v)
		}
	}

	failed := false
	if attribute.Required && len(parsed) == 0 && len(typeErrors) == 0 {
		verr.Add(e.path, MessageRequired)
		failed = true
	}

	if attribute.Unique {
		for _, v := range parsed {
			taken, err := p.store.Exists(ctx, handler.Capabilities().Table, attribute.ID, e.localeID, v, env.Entity.ID)
			if err != nil {
				return nil, err
			}
			if taken {
				verr.Add(e.path, MessageNotUnique)
				failed = true
				break
			}
		}
	}

	for _, msg := range typeErrors {
		verr.Add(e.path, msg)
		failed = true
	}
	for _, v := range parsed {
		if err := handler.Validate(ctx, env, attribute, v); err != nil {
			if eaverrors.IsStorageError(err) {
				return nil, err
			}
			verr.Add(e.path, err.Error())
			failed = true
		}
	}

	if failed {
		return nil, nil
	}
	return parsed, nil
}

// split turns a submitted value into elements. Single valued attributes
// reject lists.
func split(raw any, multiple bool) ([]any, bool) {
	list, isList := raw.([]any)
	if !multiple {
		if isList {
			return nil, false
		}
		return []any{raw}, true
	}
	if isList {
		return list, true
	}
	if raw == nil {
		return nil, true
	}
	return []any{raw}, true
}

func fieldPath(code string) string {
	return fmt.Sprintf("fields.%s", code)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
