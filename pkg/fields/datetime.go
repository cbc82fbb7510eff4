package fields

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/congraphcms/eav-sub001/pkg/fieldtypes"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/values"
)

const dateFormat = "2006-01-02"

// DatetimeHandler serves datetime and date fields. Values are stored in UTC;
// date values are truncated to midnight.
type DatetimeHandler struct {
	base
	layout string
}

func NewDatetimeHandler(catalog *fieldtypes.Catalog, key, layout string, store *values.Store, logger ectologger.Logger) *DatetimeHandler {
	if layout == "" {
		layout = time.RFC3339
	}
	return &DatetimeHandler{
		base:   newBase(catalog, key, store, logger),
		layout: layout,
	}
}

func (h *DatetimeHandler) dateOnly() bool {
	return h.FieldType() == fieldtypes.Date
}

func (h *DatetimeHandler) ParseValue(_ context.Context, _ *models.Attribute, raw any) (any, error) {
	var t time.Time
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case time.Time:
		t = v
	case string:
		if v == "" {
			return nil, nil
		}
		parsed, err := time.Parse(h.layout, v)
		if err != nil {
			return nil, fmt.Errorf("must match the format %s", h.layout)
		}
		t = parsed
	default:
		return nil, fmt.Errorf("must match the format %s", h.layout)
	}

	t = t.UTC()
	if h.dateOnly() {
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t, nil
}

func (h *DatetimeHandler) FormatValue(_ context.Context, _ *models.Attribute, stored any) (any, error) {
	switch v := stored.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return v.UTC().Format(h.layout), nil
	}
	return nil, fmt.Errorf("cannot format %T as %s", stored, h.FieldType())
}

func (h *DatetimeHandler) BeforeEntityGet(ctx context.Context, attribute *models.Attribute, _ string, operands []any) ([]any, error) {
	return parseOperands(ctx, h, attribute, operands)
}
