package fields

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/congraphcms/eav-sub001/pkg/fieldtypes"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/utils"
	"github.com/congraphcms/eav-sub001/pkg/values"
)

// TextHandler serves text and textarea fields.
type TextHandler struct {
	base
}

func NewTextHandler(catalog *fieldtypes.Catalog, key string, store *values.Store, logger ectologger.Logger) *TextHandler {
	return &TextHandler{base: newBase(catalog, key, store, logger)}
}

func (h *TextHandler) ParseValue(_ context.Context, _ *models.Attribute, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch raw.(type) {
	case map[string]any, []any:
		return nil, fmt.Errorf("must be a string")
	}
	return utils.Stringify(raw), nil
}

func (h *TextHandler) FormatValue(_ context.Context, _ *models.Attribute, stored any) (any, error) {
	if stored == nil {
		return nil, nil
	}
	return utils.Stringify(stored), nil
}

type IntegerHandler struct {
	base
}

func NewIntegerHandler(catalog *fieldtypes.Catalog, store *values.Store, logger ectologger.Logger) *IntegerHandler {
	return &IntegerHandler{base: newBase(catalog, fieldtypes.Integer, store, logger)}
}

func (h *IntegerHandler) ParseValue(_ context.Context, _ *models.Attribute, raw any) (any, error) {
	if raw == nil || raw == "" {
		return nil, nil
	}
	v, err := utils.ToInt64(raw)
	if err != nil {
		return nil, fmt.Errorf("must be an integer")
	}
	return v, nil
}

func (h *IntegerHandler) FormatValue(_ context.Context, _ *models.Attribute, stored any) (any, error) {
	if stored == nil {
		return nil, nil
	}
	return utils.ToInt64(stored)
}

func (h *IntegerHandler) BeforeEntityGet(ctx context.Context, attribute *models.Attribute, _ string, operands []any) ([]any, error) {
	return parseOperands(ctx, h, attribute, operands)
}

type DecimalHandler struct {
	base
}

func NewDecimalHandler(catalog *fieldtypes.Catalog, store *values.Store, logger ectologger.Logger) *DecimalHandler {
	return &DecimalHandler{base: newBase(catalog, fieldtypes.Decimal, store, logger)}
}

func (h *DecimalHandler) ParseValue(_ context.Context, _ *models.Attribute, raw any) (any, error) {
	if raw == nil || raw == "" {
		return nil, nil
	}
	v, err := utils.ToFloat64(raw)
	if err != nil {
		return nil, fmt.Errorf("must be a number")
	}
	return v, nil
}

func (h *DecimalHandler) FormatValue(_ context.Context, _ *models.Attribute, stored any) (any, error) {
	if stored == nil {
		return nil, nil
	}
	return utils.ToFloat64(stored)
}

func (h *DecimalHandler) BeforeEntityGet(ctx context.Context, attribute *models.Attribute, _ string, operands []any) ([]any, error) {
	return parseOperands(ctx, h, attribute, operands)
}

// BooleanHandler stores booleans as 1 and 0 in the integer table.
type BooleanHandler struct {
	base
}

func NewBooleanHandler(catalog *fieldtypes.Catalog, store *values.Store, logger ectologger.Logger) *BooleanHandler {
	return &BooleanHandler{base: newBase(catalog, fieldtypes.Boolean, store, logger)}
}

func (h *BooleanHandler) ParseValue(_ context.Context, _ *models.Attribute, raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		switch v {
		case "true", "1":
			return int64(1), nil
		case "false", "0":
			return int64(0), nil
		case "":
			return nil, nil
		}
	default:
		if n, err := utils.ToInt64(v); err == nil && (n == 0 || n == 1) {
			return n, nil
		}
	}
	return nil, fmt.Errorf("must be a boolean")
}

func (h *BooleanHandler) FormatValue(_ context.Context, _ *models.Attribute, stored any) (any, error) {
	if stored == nil {
		return nil, nil
	}
	n, err := utils.ToInt64(stored)
	if err != nil {
		return nil, err
	}
	return n != 0, nil
}

func (h *BooleanHandler) BeforeEntityGet(ctx context.Context, attribute *models.Attribute, _ string, operands []any) ([]any, error) {
	return parseOperands(ctx, h, attribute, operands)
}

type valueParser interface {
	ParseValue(ctx context.Context, attribute *models.Attribute, raw any) (any, error)
}

func parseOperands(ctx context.Context, parser valueParser, attribute *models.Attribute, operands []any) ([]any, error) {
	parsed := make([]any, 0, len(operands))
	for _, operand := range operands {
		v, err := parser.ParseValue(ctx, attribute, operand)
		if err != nil {
			return nil, fmt.Errorf("filter value %v %s", operand, err)
		}
		if v != nil {
			parsed = append(parsed, v)
		}
	}
	return parsed, nil
}
