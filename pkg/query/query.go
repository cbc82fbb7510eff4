// Package query turns collection parameters into repository lookups. Filter
// operators are checked against the field type whitelist.
package query

import (
	"context"
	"sort"
	"strings"

	"github.com/Gobusters/ectolinq"

	"github.com/congraphcms/eav-sub001/internal/repositories/entity"
	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/fields"
	"github.com/congraphcms/eav-sub001/pkg/fieldtypes"
	"github.com/congraphcms/eav-sub001/pkg/metadata"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/utils"
)

const fieldPrefix = "fields."

// OperandRewriter adapts filter operands to the stored representation of an
// attribute, e.g. booleans to 0/1.
type OperandRewriter interface {
	RewriteOperands(ctx context.Context, attribute *models.Attribute, operator string, operands []any) ([]any, error)
}

type Parser struct {
	handlers     *fields.Registry
	rewriter     OperandRewriter
	defaultLimit int
	maxLimit     int
}

func NewParser(handlers *fields.Registry, rewriter OperandRewriter, defaultLimit, maxLimit int) *Parser {
	return &Parser{
		handlers:     handlers,
		rewriter:     rewriter,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// Parse builds the repository lookup for params. locale is nil when the
// request is not locale scoped.
func (p *Parser) Parse(ctx context.Context, snapshot *metadata.Snapshot, params models.GetParams, locale *models.Locale) (entity.FindParams, error) {
	find := entity.FindParams{
		Statuses: params.Status,
		Offset:   max(params.Offset, 0),
		Limit:    p.limit(params.Limit),
	}
	for _, status := range params.Status {
		if !ectolinq.Contains(models.Statuses, status) {
			return find, eaverrors.NewBadRequestError("status", "unknown status '%s'", status)
		}
	}

	keys := make([]string, 0, len(params.Filter))
	for key := range params.Filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := params.Filter[key]
		if code, ok := strings.CutPrefix(key, fieldPrefix); ok {
			conditions, err := p.fieldConditions(ctx, snapshot, code, raw, locale)
			if err != nil {
				return find, err
			}
			find.Conditions = append(find.Conditions, conditions...)
			continue
		}
		if err := p.columnFilter(snapshot, &find, key, raw); err != nil {
			return find, err
		}
	}

	for _, s := range params.Sort {
		field, err := p.sortField(snapshot, s, locale)
		if err != nil {
			return find, err
		}
		find.Sorts = append(find.Sorts, field)
	}
	return find, nil
}

func (p *Parser) limit(requested int) int {
	switch {
	case requested <= 0:
		return p.defaultLimit
	case p.maxLimit > 0 && requested > p.maxLimit:
		return p.maxLimit
	default:
		return requested
	}
}

func (p *Parser) fieldConditions(ctx context.Context, snapshot *metadata.Snapshot, code string, raw any, locale *models.Locale) ([]entity.FieldCondition, error) {
	path := fieldPrefix + code
	attribute, ok := snapshot.AttributeByCode(code)
	if !ok {
		return nil, eaverrors.NewBadRequestError(path, "unknown attribute '%s'", code)
	}
	if !attribute.Filterable {
		return nil, eaverrors.NewBadRequestError(path, "attribute '%s' is not filterable", code)
	}
	handler, err := p.handlers.Get(attribute.FieldType)
	if err != nil {
		return nil, err
	}
	capabilities := handler.Capabilities()

	var localeIDs []int64
	if attribute.Localized && locale != nil {
		localeIDs = []int64{locale.ID}
	}

	var conditions []entity.FieldCondition
	for _, op := range operations(raw) {
		if !capabilities.SupportsOperator(op.operator) {
			return nil, eaverrors.NewBadRequestError(path, "operator '%s' is not allowed for field type %s", op.operator, capabilities.Key)
		}

		table := capabilities.Table
		if op.operator == fieldtypes.OpMatch && table != fieldtypes.TableFulltext {
			if !attribute.Searchable {
				return nil, eaverrors.NewBadRequestError(path, "attribute '%s' is not searchable", code)
			}
			table = fieldtypes.TableFulltext
		}

		operands := op.operands
		if op.operator != fieldtypes.OpMatch && p.rewriter != nil {
			if operands, err = p.rewriter.RewriteOperands(ctx, attribute, op.operator, operands); err != nil {
				return nil, eaverrors.NewBadRequestError(path, "%s", err.Error())
			}
		}

		conditions = append(conditions, entity.FieldCondition{
			Table:       table.Name(),
			AttributeID: attribute.ID,
			LocaleIDs:   localeIDs,
			Operator:    op.operator,
			Values:      operands,
		})
	}
	return conditions, nil
}

func (p *Parser) columnFilter(snapshot *metadata.Snapshot, find *entity.FindParams, key string, raw any) error {
	for _, op := range operations(raw) {
		if op.operator != fieldtypes.OpEqual && op.operator != fieldtypes.OpIn {
			return eaverrors.NewBadRequestError(key, "operator '%s' is not allowed", op.operator)
		}
		switch key {
		case "id":
			ids, err := int64s(key, op.operands)
			if err != nil {
				return err
			}
			find.IDs = append(find.IDs, ids...)
		case "entity_type_id":
			ids, err := int64s(key, op.operands)
			if err != nil {
				return err
			}
			find.EntityTypeIDs = append(find.EntityTypeIDs, ids...)
		case "type":
			for _, operand := range op.operands {
				entityType, ok := snapshot.EntityType(utils.Stringify(operand))
				if !ok {
					return eaverrors.NewBadRequestError(key, "unknown entity type '%v'", operand)
				}
				find.EntityTypeIDs = append(find.EntityTypeIDs, entityType.ID)
			}
		default:
			return eaverrors.NewBadRequestError(key, "cannot filter by '%s'", key)
		}
	}
	return nil
}

func (p *Parser) sortField(snapshot *metadata.Snapshot, raw string, locale *models.Locale) (entity.SortField, error) {
	name, desc := strings.CutPrefix(strings.TrimSpace(raw), "-")
	field := entity.SortField{Desc: desc}

	code, ok := strings.CutPrefix(name, fieldPrefix)
	if !ok {
		if _, known := entity.SortableColumns[name]; !known {
			return field, eaverrors.NewBadRequestError("sort", "cannot sort by '%s'", name)
		}
		field.Column = name
		return field, nil
	}

	attribute, found := snapshot.AttributeByCode(code)
	if !found {
		return field, eaverrors.NewBadRequestError("sort", "unknown attribute '%s'", code)
	}
	handler, err := p.handlers.Get(attribute.FieldType)
	if err != nil {
		return field, err
	}
	if handler.Capabilities().HasMultipleValues {
		return field, eaverrors.NewBadRequestError("sort", "cannot sort by multi-valued attribute '%s'", code)
	}
	field.Table = handler.Capabilities().Table.Name()
	field.AttributeID = attribute.ID
	if attribute.Localized && locale != nil {
		field.LocaleID = locale.ID
	}
	return field, nil
}

type operation struct {
	operator string
	operands []any
}

// operations reads a filter value. A scalar means equality, a map holds
// operator keyed operands. List operators accept a slice or a comma separated
// string.
func operations(raw any) []operation {
	m, ok := raw.(map[string]any)
	if !ok {
		return []operation{{operator: fieldtypes.OpEqual, operands: operandList(fieldtypes.OpEqual, raw)}}
	}

	ops := make([]string, 0, len(m))
	for op := range m {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	out := make([]operation, 0, len(ops))
	for _, op := range ops {
		operator := strings.ToLower(strings.TrimSpace(op))
		out = append(out, operation{operator: operator, operands: operandList(operator, m[op])})
	}
	return out
}

func operandList(operator string, raw any) []any {
	list := operator == fieldtypes.OpIn || operator == fieldtypes.OpNotIn
	switch v := raw.(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case string:
		if list {
			parts := strings.Split(v, ",")
			out := make([]any, len(parts))
			for i, part := range parts {
				out[i] = strings.TrimSpace(part)
			}
			return out
		}
	}
	return []any{raw}
}

func int64s(key string, operands []any) ([]int64, error) {
	ids := make([]int64, 0, len(operands))
	for _, operand := range operands {
		id, err := utils.ToInt64(operand)
		if err != nil {
			return nil, eaverrors.NewBadRequestError(key, "'%v' is not an id", operand)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
