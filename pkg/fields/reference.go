package fields

import (
	"context"
	"fmt"
	"slices"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/congraphcms/eav-sub001/pkg/assets"
	"github.com/congraphcms/eav-sub001/pkg/fieldtypes"
	"github.com/congraphcms/eav-sub001/pkg/metadata"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/utils"
	"github.com/congraphcms/eav-sub001/pkg/values"
)

const (
	ReferenceEntity = "entity"
	ReferenceFile   = "file"
)

// reference parses {id, type} objects and bare ids into the target id.
type reference struct {
	base
	kind string
}

func (r *reference) ParseValue(_ context.Context, _ *models.Attribute, raw any) (any, error) {
	var id any
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case models.Reference:
		if v.Type != "" && v.Type != r.kind {
			return nil, fmt.Errorf("must reference a %s", r.kind)
		}
		return v.ID, nil
	case *models.Reference:
		if v == nil {
			return nil, nil
		}
		return r.ParseValue(context.Background(), nil, *v)
	case map[string]any:
		if kind, ok := v["type"]; ok && kind != r.kind {
			return nil, fmt.Errorf("must reference a %s", r.kind)
		}
		id = v["id"]
	default:
		id = v
	}
	if utils.IsEmpty(id) {
		return nil, nil
	}

	parsed, err := utils.ToInt64(id)
	if err != nil || parsed <= 0 {
		return nil, fmt.Errorf("must reference a %s id", r.kind)
	}
	return parsed, nil
}

func (r *reference) FormatValue(_ context.Context, _ *models.Attribute, stored any) (any, error) {
	if stored == nil {
		return nil, nil
	}
	id, err := utils.ToInt64(stored)
	if err != nil {
		return nil, err
	}
	return models.Reference{ID: id, Type: r.kind}, nil
}

func (r *reference) BeforeEntityGet(ctx context.Context, attribute *models.Attribute, _ string, operands []any) ([]any, error) {
	return parseOperands(ctx, r, attribute, operands)
}

// removeTargets deletes rows of every attribute of this type pointing at ids.
func (r *reference) removeTargets(ctx context.Context, snapshot *metadata.Snapshot, ids []int64) ([]values.Owner, error) {
	attributes := snapshot.AttributesOfType(r.FieldType())
	if len(attributes) == 0 || len(ids) == 0 {
		return nil, nil
	}
	attributeIDs := ectolinq.Map(attributes, func(a *models.Attribute) int64 { return a.ID })
	return r.store.DeleteReferences(ctx, r.table(), attributeIDs, ids)
}

type RelationHandler struct {
	reference
	entities EntityLookup
}

func NewRelationHandler(catalog *fieldtypes.Catalog, entities EntityLookup, store *values.Store, logger ectologger.Logger) *RelationHandler {
	return &RelationHandler{
		reference: reference{base: newBase(catalog, fieldtypes.Relation, store, logger), kind: ReferenceEntity},
		entities:  entities,
	}
}

// Validate requires the target to exist and, when the attribute restricts
// them, to be of an allowed entity type.
func (h *RelationHandler) Validate(ctx context.Context, env *Env, attribute *models.Attribute, value any) error {
	target, err := lookupEntity(ctx, h.entities, value)
	if err != nil || target == nil {
		return err
	}

	allowed := attribute.Data.Data.AllowedTypes
	if len(allowed) == 0 {
		return nil
	}
	entityType, ok := env.Snapshot.EntityTypeByID(target.EntityTypeID)
	if !ok || !slices.Contains(allowed, entityType.Code) {
		return fmt.Errorf("entity %d is not of type %v", target.ID, allowed)
	}
	return nil
}

func (h *RelationHandler) EntitiesDeleted(ctx context.Context, snapshot *metadata.Snapshot, entityIDs []int64) ([]values.Owner, error) {
	return h.removeTargets(ctx, snapshot, entityIDs)
}

// NodeHandler links an entity to a parent entity of the same type.
type NodeHandler struct {
	reference
	entities EntityLookup
}

func NewNodeHandler(catalog *fieldtypes.Catalog, entities EntityLookup, store *values.Store, logger ectologger.Logger) *NodeHandler {
	return &NodeHandler{
		reference: reference{base: newBase(catalog, fieldtypes.Node, store, logger), kind: ReferenceEntity},
		entities:  entities,
	}
}

func (h *NodeHandler) Validate(ctx context.Context, env *Env, _ *models.Attribute, value any) error {
	if value == nil {
		return nil
	}
	if env.Entity != nil && env.Entity.ID != 0 && value == env.Entity.ID {
		return fmt.Errorf("cannot reference the entity itself")
	}

	target, err := lookupEntity(ctx, h.entities, value)
	if err != nil || target == nil {
		return err
	}
	if env.Entity != nil && target.EntityTypeID != env.Entity.EntityTypeID {
		return fmt.Errorf("entity %d is not of the same type", target.ID)
	}
	return nil
}

func (h *NodeHandler) EntitiesDeleted(ctx context.Context, snapshot *metadata.Snapshot, entityIDs []int64) ([]values.Owner, error) {
	return h.removeTargets(ctx, snapshot, entityIDs)
}

// AssetHandler references files of the asset repository.
type AssetHandler struct {
	reference
	files assets.Repository
}

func NewAssetHandler(catalog *fieldtypes.Catalog, files assets.Repository, store *values.Store, logger ectologger.Logger) *AssetHandler {
	return &AssetHandler{
		reference: reference{base: newBase(catalog, fieldtypes.Asset, store, logger), kind: ReferenceFile},
		files:     files,
	}
}

// Validate requires the file to exist with one of the allowed extensions.
func (h *AssetHandler) Validate(ctx context.Context, _ *Env, attribute *models.Attribute, value any) error {
	id, ok := value.(int64)
	if !ok {
		return nil
	}
	if h.files == nil {
		return fmt.Errorf("file %d does not exist", id)
	}

	files, err := h.files.GetByIDs(ctx, []int64{id})
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("file %d does not exist", id)
	}
	if allowed := attribute.Data.Data.FileTypes; !assets.Allowed(files[0], allowed) {
		return fmt.Errorf("file %d must be one of the types %v", id, allowed)
	}
	return nil
}

func (h *AssetHandler) FileDeleted(ctx context.Context, snapshot *metadata.Snapshot, fileID int64) ([]values.Owner, error) {
	return h.removeTargets(ctx, snapshot, []int64{fileID})
}

func lookupEntity(ctx context.Context, entities EntityLookup, value any) (*models.Entity, error) {
	id, ok := value.(int64)
	if !ok {
		return nil, nil
	}
	found, err := entities.GetByIDs(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("entity %d does not exist", id)
	}
	return &found[0], nil
}
