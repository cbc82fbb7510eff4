package metadata

import (
	"context"

	"github.com/congraphcms/eav-sub001/internal/repositories/attribute"
	"github.com/congraphcms/eav-sub001/internal/repositories/attributeset"
	"github.com/congraphcms/eav-sub001/internal/repositories/entitytype"
	"github.com/congraphcms/eav-sub001/internal/repositories/locale"
	"github.com/congraphcms/eav-sub001/pkg/models"
)

// Source loads the full metadata definitions.
type Source interface {
	Locales(ctx context.Context) ([]models.Locale, error)
	EntityTypes(ctx context.Context) ([]models.EntityType, error)
	Attributes(ctx context.Context) ([]models.Attribute, error)
	AttributeSets(ctx context.Context) ([]models.AttributeSet, error)
}

// RepositorySource reads metadata through the repositories.
type RepositorySource struct {
	locales       locale.LocaleRepository
	entityTypes   entitytype.EntityTypeRepository
	attributes    attribute.AttributeRepository
	attributeSets attributeset.AttributeSetRepository
}

func NewRepositorySource(
	locales locale.LocaleRepository,
	entityTypes entitytype.EntityTypeRepository,
	attributes attribute.AttributeRepository,
	attributeSets attributeset.AttributeSetRepository,
) *RepositorySource {
	return &RepositorySource{
		locales:       locales,
		entityTypes:   entityTypes,
		attributes:    attributes,
		attributeSets: attributeSets,
	}
}

func (s *RepositorySource) Locales(ctx context.Context) ([]models.Locale, error) {
	return s.locales.List(ctx)
}

func (s *RepositorySource) EntityTypes(ctx context.Context) ([]models.EntityType, error) {
	return s.entityTypes.List(ctx)
}

func (s *RepositorySource) Attributes(ctx context.Context) ([]models.Attribute, error) {
	return s.attributes.List(ctx)
}

func (s *RepositorySource) AttributeSets(ctx context.Context) ([]models.AttributeSet, error) {
	return s.attributeSets.List(ctx)
}
