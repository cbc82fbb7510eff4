package fields

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/fieldtypes"
	"github.com/congraphcms/eav-sub001/pkg/metadata"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/values"
)

// SelectHandler stores the value of one of the attribute's options.
type SelectHandler struct {
	TextHandler
}

func NewSelectHandler(catalog *fieldtypes.Catalog, store *values.Store, logger ectologger.Logger) *SelectHandler {
	return &SelectHandler{TextHandler: TextHandler{base: newBase(catalog, fieldtypes.Select, store, logger)}}
}

// Validate accepts option values of the current locale or of no locale.
func (h *SelectHandler) Validate(_ context.Context, env *Env, attribute *models.Attribute, value any) error {
	if value == nil {
		return nil
	}
	localeID := env.LocaleID(attribute)
	matched := slices.ContainsFunc(attribute.Options, func(o models.AttributeOption) bool {
		return o.Value == value && (o.LocaleID == 0 || localeID == 0 || o.LocaleID == localeID)
	})
	if !matched {
		allowed := ectolinq.Map(attribute.Options, func(o models.AttributeOption) string { return o.Value })
		return fmt.Errorf("must be one of [%s]", strings.Join(allowed, ", "))
	}
	return nil
}

func (h *SelectHandler) ValidateDefinition(ctx context.Context, snapshot *metadata.Snapshot, attribute *models.Attribute, verr *eaverrors.ValidationError) {
	h.base.ValidateDefinition(ctx, snapshot, attribute, verr)
	if len(attribute.Options) == 0 {
		verr.Add("options", "select fields need at least one option")
	}
	seen := make(map[string]bool, len(attribute.Options))
	for _, o := range attribute.Options {
		key := fmt.Sprintf("%d:%s", o.LocaleID, o.Value)
		if seen[key] {
			verr.Addf("options", "duplicate option value %q", o.Value)
		}
		seen[key] = true
	}
}
