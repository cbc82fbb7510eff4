package fields

import (
	"context"
	"fmt"
	"slices"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/congraphcms/eav-sub001/pkg/compound"
	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/fieldtypes"
	"github.com/congraphcms/eav-sub001/pkg/metadata"
	"github.com/congraphcms/eav-sub001/pkg/metrics"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/utils"
	"github.com/congraphcms/eav-sub001/pkg/values"
)

// RecomputePlan lists the compounds an update affects, dependencies first,
// with the locales each must be recomputed in.
type RecomputePlan struct {
	Compounds []int64
	Locales   map[int64][]int64
}

func (p *RecomputePlan) Empty() bool {
	return p == nil || len(p.Compounds) == 0
}

// CompoundHandler derives values from other fields of the same entity.
// Submitted values are never stored.
type CompoundHandler struct {
	base
	handlers *Registry
}

func NewCompoundHandler(catalog *fieldtypes.Catalog, store *values.Store, logger ectologger.Logger) *CompoundHandler {
	return &CompoundHandler{base: newBase(catalog, fieldtypes.Compound, store, logger)}
}

func (h *CompoundHandler) bind(registry *Registry) {
	h.handlers = registry
}

func (h *CompoundHandler) ParseValue(_ context.Context, _ *models.Attribute, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	return utils.Stringify(raw), nil
}

func (h *CompoundHandler) FormatValue(_ context.Context, _ *models.Attribute, stored any) (any, error) {
	if stored == nil {
		return nil, nil
	}
	return utils.Stringify(stored), nil
}

// PrepareDefinition marks the compound localized when any input is.
func (h *CompoundHandler) PrepareDefinition(snapshot *metadata.Snapshot, attribute *models.Attribute) {
	if attribute.Data.Data.ExpectedValue == "" {
		attribute.Data.Data.ExpectedValue = compound.ExpectedString
	}
	attribute.Localized = compound.IsLocalized(snapshot, attribute.Data.Data.Inputs)
}

func (h *CompoundHandler) ValidateDefinition(ctx context.Context, snapshot *metadata.Snapshot, attribute *models.Attribute, verr *eaverrors.ValidationError) {
	h.base.ValidateDefinition(ctx, snapshot, attribute, verr)
	verr.Merge(compound.ValidateStructure(snapshot, attribute.Data.Data, attribute.ID))

	if attribute.ID != 0 && dependsOn(snapshot, attribute.FieldInputs(), attribute.ID, map[int64]bool{}) {
		verr.Add("data.inputs", "inputs must not form a cycle")
	}
}

func dependsOn(snapshot *metadata.Snapshot, inputs []int64, target int64, visited map[int64]bool) bool {
	for _, id := range inputs {
		if id == target {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		input, ok := snapshot.AttributeByID(id)
		if ok && input.FieldType == fieldtypes.Compound && dependsOn(snapshot, input.FieldInputs(), target, visited) {
			return true
		}
	}
	return false
}

// BeforeEntityUpdate plans the recomputation of every compound of the
// entity's attribute set that reads a changed attribute, directly or through
// another compound.
func (h *CompoundHandler) BeforeEntityUpdate(_ context.Context, env *Env, changed models.FieldValues) (any, error) {
	members := env.Snapshot.SetAttributes(env.Entity.AttributeSetID)
	compounds := slices.DeleteFunc(slices.Clone(members), func(a *models.Attribute) bool {
		return a.FieldType != fieldtypes.Compound
	})
	if len(compounds) == 0 || len(changed) == 0 {
		return nil, nil
	}

	affected := make(map[int64]bool, len(changed))
	for id := range changed {
		affected[id] = true
	}

	var planned []*models.Attribute
	for grew := true; grew; {
		grew = false
		for _, c := range compounds {
			if affected[c.ID] {
				continue
			}
			if slices.ContainsFunc(c.FieldInputs(), func(id int64) bool { return affected[id] }) {
				affected[c.ID] = true
				planned = append(planned, c)
				grew = true
			}
		}
	}
	if len(planned) == 0 {
		return nil, nil
	}

	plan := &RecomputePlan{Locales: make(map[int64][]int64, len(planned))}
	for _, c := range order(planned) {
		plan.Compounds = append(plan.Compounds, c.ID)
		plan.Locales[c.ID] = h.targetLocales(env, c, affected)
	}
	return plan, nil
}

// targetLocales is locale 0 for plain compounds. A localized compound is
// recomputed in the update's locale unless the update is flat or a changed
// input is not localized, in which case every locale is recomputed.
func (h *CompoundHandler) targetLocales(env *Env, attribute *models.Attribute, affected map[int64]bool) []int64 {
	if !attribute.Localized {
		return []int64{0}
	}
	if env.Locale != nil {
		single := true
		for _, id := range attribute.FieldInputs() {
			input, ok := env.Snapshot.AttributeByID(id)
			if affected[id] && ok && !input.Localized {
				single = false
			}
		}
		if single {
			return []int64{env.Locale.ID}
		}
	}
	return ectolinq.Map(env.Snapshot.Locales(), func(l *models.Locale) int64 { return l.ID })
}

// order puts compounds after the compounds they read. Cycles keep their
// original order.
func order(planned []*models.Attribute) []*models.Attribute {
	pending := make(map[int64]bool, len(planned))
	for _, c := range planned {
		pending[c.ID] = true
	}

	ordered := make([]*models.Attribute, 0, len(planned))
	for len(ordered) < len(planned) {
		progressed := false
		for _, c := range planned {
			if !pending[c.ID] {
				continue
			}
			waiting := slices.ContainsFunc(c.FieldInputs(), func(id int64) bool { return id != c.ID && pending[id] })
			if waiting {
				continue
			}
			pending[c.ID] = false
			ordered = append(ordered, c)
			progressed = true
		}
		if !progressed {
			for _, c := range planned {
				if pending[c.ID] {
					pending[c.ID] = false
					ordered = append(ordered, c)
				}
			}
		}
	}
	return ordered
}

// PlanFor recomputes the given compounds in every locale they are stored in.
func (h *CompoundHandler) PlanFor(snapshot *metadata.Snapshot, compounds []*models.Attribute) *RecomputePlan {
	plan := &RecomputePlan{Locales: make(map[int64][]int64, len(compounds))}
	allLocales := ectolinq.Map(snapshot.Locales(), func(l *models.Locale) int64 { return l.ID })
	for _, c := range order(compounds) {
		plan.Compounds = append(plan.Compounds, c.ID)
		if c.Localized {
			plan.Locales[c.ID] = allLocales
		} else {
			plan.Locales[c.ID] = []int64{0}
		}
	}
	return plan
}

// AfterEntityUpdate evaluates the planned compounds against the values stored
// for the entity, which already include the values of this update. A locale
// scoped input falls back to its non-localized value.
func (h *CompoundHandler) AfterEntityUpdate(ctx context.Context, env *Env, state any) error {
	plan, _ := state.(*RecomputePlan)
	if plan.Empty() {
		return nil
	}
	if h.handlers == nil {
		return fmt.Errorf("compound handler is not bound to a registry")
	}

	loaded, err := h.store.Load(ctx, []int64{env.Entity.ID}, h.homeTable(env.Snapshot))
	if err != nil {
		return err
	}
	current := loaded[env.Entity.ID]

	for _, id := range plan.Compounds {
		attribute, ok := env.Snapshot.AttributeByID(id)
		if !ok {
			continue
		}
		for _, localeID := range plan.Locales[id] {
			resolve := func(inputID int64) any {
				return h.resolve(ctx, env.Snapshot, current, inputID, localeID)
			}
			result, err := compound.Evaluate(attribute.Data.Data.Inputs, attribute.Data.Data.ExpectedValue, resolve)
			if err != nil {
				h.logger.WithContext(ctx).WithError(err).WithField("attribute", attribute.Code).Error("failed to evaluate compound")
				return fmt.Errorf("compound %s: %w", attribute.Code, err)
			}

			var parsed []any
			if result != "" {
				parsed = []any{result}
			}
			if err := h.Update(ctx, env, attribute, localeID, parsed); err != nil {
				return err
			}
			current.Set(id, localeID, parsed)
			metrics.CompoundRecomputesTotal.Inc()
		}
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id": env.Entity.ID,
		"compounds": plan.Compounds,
	}).Debug("recomputed compound fields")
	return nil
}

func (h *CompoundHandler) resolve(ctx context.Context, snapshot *metadata.Snapshot, current models.FieldValues, attributeID, localeID int64) any {
	input, ok := snapshot.AttributeByID(attributeID)
	if !ok {
		return nil
	}
	stored := current.First(attributeID, localeID)
	if stored == nil && localeID != 0 {
		stored = current.First(attributeID, 0)
	}
	if stored == nil {
		return nil
	}

	handler, err := h.handlers.Get(input.FieldType)
	if err != nil {
		return stored
	}
	formatted, err := handler.FormatValue(ctx, input, stored)
	if err != nil {
		return stored
	}
	if ref, ok := formatted.(models.Reference); ok {
		return ref.ID
	}
	return formatted
}

func (h *CompoundHandler) homeTable(snapshot *metadata.Snapshot) func(int64) (fieldtypes.Table, bool) {
	return HomeTable(h.handlers, snapshot)
}

// HomeTable maps attribute ids to the table their values are stored in.
func HomeTable(registry *Registry, snapshot *metadata.Snapshot) func(int64) (fieldtypes.Table, bool) {
	return func(attributeID int64) (fieldtypes.Table, bool) {
		attribute, ok := snapshot.AttributeByID(attributeID)
		if !ok {
			return "", false
		}
		handler, err := registry.Get(attribute.FieldType)
		if err != nil {
			return "", false
		}
		return handler.Capabilities().Table, true
	}
}
