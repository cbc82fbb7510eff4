// Package seed applies metadata definitions from a YAML document: locales,
// entity types, attributes and attribute sets, referenced by code.
package seed

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"gopkg.in/yaml.v3"

	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/tracing"
)

type Document struct {
	Locales       []Locale       `yaml:"locales"`
	EntityTypes   []EntityType   `yaml:"entity_types"`
	Attributes    []Attribute    `yaml:"attributes"`
	AttributeSets []AttributeSet `yaml:"attribute_sets"`
}

type Locale struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type EntityType struct {
	Code        string `yaml:"code"`
	Endpoint    string `yaml:"endpoint"`
	Name        string `yaml:"name"`
	PluralName  string `yaml:"plural_name"`
	Localized   bool   `yaml:"localized"`
	HasWorkflow bool   `yaml:"has_workflow"`
	// DefaultSet is the code of one of the type's attribute sets.
	DefaultSet string `yaml:"default_set"`
}

// Token is a compound input. Field tokens name the referenced attribute by code.
type Token struct {
	Type  string `yaml:"type"`
	Value any    `yaml:"value"`
}

type Option struct {
	Label     string `yaml:"label"`
	Value     string `yaml:"value"`
	Locale    string `yaml:"locale"`
	IsDefault bool   `yaml:"is_default"`
}

type Attribute struct {
	Code          string   `yaml:"code"`
	FieldType     string   `yaml:"field_type"`
	Localized     bool     `yaml:"localized"`
	Unique        bool     `yaml:"unique"`
	Required      bool     `yaml:"required"`
	Filterable    bool     `yaml:"filterable"`
	Searchable    bool     `yaml:"searchable"`
	DefaultValue  *string  `yaml:"default_value"`
	Inputs        []Token  `yaml:"inputs"`
	ExpectedValue string   `yaml:"expected_value"`
	FileTypes     []string `yaml:"filetypes"`
	AllowedTypes  []string `yaml:"allowed_types"`
	Options       []Option `yaml:"options"`
}

type AttributeSet struct {
	Code       string   `yaml:"code"`
	EntityType string   `yaml:"entity_type"`
	Name       string   `yaml:"name"`
	Attributes []string `yaml:"attributes"`
}

// Target is the metadata surface a seed is applied to.
type Target interface {
	GetLocales(ctx context.Context) ([]*models.Locale, error)
	CreateLocale(ctx context.Context, req models.CreateLocaleRequest) (*models.Locale, error)
	FetchEntityType(ctx context.Context, key string) (*models.EntityType, error)
	CreateEntityType(ctx context.Context, req models.CreateEntityTypeRequest) (*models.EntityType, error)
	UpdateEntityType(ctx context.Context, id int64, req models.UpdateEntityTypeRequest) (*models.EntityType, error)
	FetchAttribute(ctx context.Context, key string) (*models.Attribute, error)
	CreateAttribute(ctx context.Context, req models.CreateAttributeRequest) (*models.Attribute, error)
	FetchAttributeSet(ctx context.Context, key string) (*models.AttributeSet, error)
	CreateAttributeSet(ctx context.Context, req models.CreateAttributeSetRequest) (*models.AttributeSet, error)
}

// Result counts definitions by outcome. Existing codes are skipped, never
// updated.
type Result struct {
	Created int
	Skipped int
}

func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	return &doc, nil
}

type Seeder struct {
	target Target
	logger ectologger.Logger
}

func NewSeeder(target Target, logger ectologger.Logger) *Seeder {
	return &Seeder{
		target: target,
		logger: logger,
	}
}

// Apply creates the document's definitions in dependency order. It stops at
// the first failing definition; definitions created before it stay.
func (s *Seeder) Apply(ctx context.Context, doc *Document) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Seeder.Apply")
	defer span.End()

	var result Result
	if err := doc.Validate(); err != nil {
		return result, err
	}
	steps := []func(context.Context, *Document, *Result) error{
		s.locales,
		s.entityTypes,
		s.attributes,
		s.attributeSets,
		s.defaultSets,
	}
	for _, step := range steps {
		if err := step(ctx, doc, &result); err != nil {
			tracing.RecordError(span, err)
			return result, err
		}
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"created": result.Created,
		"skipped": result.Skipped,
	}).Info("seed applied")
	return result, nil
}

func (s *Seeder) locales(ctx context.Context, doc *Document, result *Result) error {
	existing, err := s.target.GetLocales(ctx)
	if err != nil {
		return err
	}
	codes := ectolinq.Map(existing, func(l *models.Locale) string { return l.Code })

	for _, locale := range doc.Locales {
		if ectolinq.Contains(codes, locale.Code) {
			result.Skipped++
			continue
		}
		if _, err := s.target.CreateLocale(ctx, models.CreateLocaleRequest{Code: locale.Code, Name: locale.Name}); err != nil {
			return fmt.Errorf("locale %s: %w", locale.Code, err)
		}
		codes = append(codes, locale.Code)
		result.Created++
	}
	return nil
}

func (s *Seeder) entityTypes(ctx context.Context, doc *Document, result *Result) error {
	for _, entityType := range doc.EntityTypes {
		exists, err := found(s.target.FetchEntityType(ctx, entityType.Code))
		if err != nil {
			return err
		}
		if exists {
			result.Skipped++
			continue
		}
		_, err = s.target.CreateEntityType(ctx, models.CreateEntityTypeRequest{
			Code:        entityType.Code,
			Endpoint:    entityType.Endpoint,
			Name:        entityType.Name,
			PluralName:  entityType.PluralName,
			Localized:   entityType.Localized,
			HasWorkflow: entityType.HasWorkflow,
		})
		if err != nil {
			return fmt.Errorf("entity type %s: %w", entityType.Code, err)
		}
		result.Created++
	}
	return nil
}

func (s *Seeder) attributes(ctx context.Context, doc *Document, result *Result) error {
	for _, attribute := range doc.Attributes {
		exists, err := found(s.target.FetchAttribute(ctx, attribute.Code))
		if err != nil {
			return err
		}
		if exists {
			result.Skipped++
			continue
		}

		inputs, err := s.inputs(ctx, attribute.Inputs)
		if err != nil {
			return fmt.Errorf("attribute %s: %w", attribute.Code, err)
		}
		req := models.CreateAttributeRequest{
			Code:         attribute.Code,
			FieldType:    attribute.FieldType,
			Localized:    attribute.Localized,
			Unique:       attribute.Unique,
			Required:     attribute.Required,
			Filterable:   attribute.Filterable,
			Searchable:   attribute.Searchable,
			DefaultValue: attribute.DefaultValue,
			Data: models.AttributeData{
				Inputs:        inputs,
				ExpectedValue: attribute.ExpectedValue,
				FileTypes:     attribute.FileTypes,
				AllowedTypes:  attribute.AllowedTypes,
			},
			Options: ectolinq.Map(attribute.Options, func(o Option) models.OptionInput {
				return models.OptionInput{Label: o.Label, Value: o.Value, Locale: o.Locale, IsDefault: o.IsDefault}
			}),
		}
		if _, err := s.target.CreateAttribute(ctx, req); err != nil {
			return fmt.Errorf("attribute %s: %w", attribute.Code, err)
		}
		result.Created++
	}
	return nil
}

// inputs swaps field token codes for attribute ids. Referenced attributes must
// come earlier in the document or already exist.
func (s *Seeder) inputs(ctx context.Context, tokens []Token) ([]models.InputToken, error) {
	inputs := make([]models.InputToken, 0, len(tokens))
	for _, token := range tokens {
		value := token.Value
		if token.Type == models.TokenField {
			code, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("field input %v is not an attribute code", value)
			}
			referenced, err := s.target.FetchAttribute(ctx, code)
			if err != nil {
				return nil, fmt.Errorf("field input %s: %w", code, err)
			}
			value = referenced.ID
		}
		inputs = append(inputs, models.InputToken{Type: token.Type, Value: value})
	}
	return inputs, nil
}

func (s *Seeder) attributeSets(ctx context.Context, doc *Document, result *Result) error {
	for _, set := range doc.AttributeSets {
		exists, err := found(s.target.FetchAttributeSet(ctx, set.Code))
		if err != nil {
			return err
		}
		if exists {
			result.Skipped++
			continue
		}

		entityType, err := s.target.FetchEntityType(ctx, set.EntityType)
		if err != nil {
			return fmt.Errorf("attribute set %s: %w", set.Code, err)
		}
		ids := make([]int64, 0, len(set.Attributes))
		for _, code := range set.Attributes {
			attribute, err := s.target.FetchAttribute(ctx, code)
			if err != nil {
				return fmt.Errorf("attribute set %s: %w", set.Code, err)
			}
			ids = append(ids, attribute.ID)
		}

		_, err = s.target.CreateAttributeSet(ctx, models.CreateAttributeSetRequest{
			Code:         set.Code,
			EntityTypeID: entityType.ID,
			Name:         set.Name,
			AttributeIDs: ids,
		})
		if err != nil {
			return fmt.Errorf("attribute set %s: %w", set.Code, err)
		}
		result.Created++
	}
	return nil
}

func (s *Seeder) defaultSets(ctx context.Context, doc *Document, _ *Result) error {
	for _, entityType := range doc.EntityTypes {
		if entityType.DefaultSet == "" {
			continue
		}
		current, err := s.target.FetchEntityType(ctx, entityType.Code)
		if err != nil {
			return err
		}
		set, err := s.target.FetchAttributeSet(ctx, entityType.DefaultSet)
		if err != nil {
			return fmt.Errorf("entity type %s default set: %w", entityType.Code, err)
		}
		if current.DefaultSetID != nil && *current.DefaultSetID == set.ID {
			continue
		}
		if _, err := s.target.UpdateEntityType(ctx, current.ID, models.UpdateEntityTypeRequest{DefaultSetID: &set.ID}); err != nil {
			return fmt.Errorf("entity type %s default set: %w", entityType.Code, err)
		}
	}
	return nil
}

// Codes returns every code the document defines, grouped by kind. Duplicate
// codes within a kind are reported by Validate.
func (d *Document) Codes() map[string][]string {
	return map[string][]string{
		"locales":        ectolinq.Map(d.Locales, func(l Locale) string { return l.Code }),
		"entity_types":   ectolinq.Map(d.EntityTypes, func(t EntityType) string { return t.Code }),
		"attributes":     ectolinq.Map(d.Attributes, func(a Attribute) string { return a.Code }),
		"attribute_sets": ectolinq.Map(d.AttributeSets, func(s AttributeSet) string { return s.Code }),
	}
}

// Validate reports missing and duplicate codes before anything is written.
func (d *Document) Validate() error {
	verr := eaverrors.NewValidationError()
	for kind, codes := range d.Codes() {
		seen := make(map[string]bool, len(codes))
		for i, code := range codes {
			path := fmt.Sprintf("%s[%d].code", kind, i)
			if code == "" {
				verr.Add(path, "required")
				continue
			}
			if seen[code] {
				verr.Add(path, "duplicate code")
			}
			seen[code] = true
		}
	}
	for i, set := range d.AttributeSets {
		if set.EntityType == "" {
			verr.Add(fmt.Sprintf("attribute_sets[%d].entity_type", i), "required")
		}
		if slices.Contains(set.Attributes, "") {
			verr.Add(fmt.Sprintf("attribute_sets[%d].attributes", i), "empty attribute code")
		}
	}
	return verr.ErrOrNil()
}

// found turns a fetch result into an existence flag, passing through errors
// other than not found.
func found[T any](value *T, err error) (bool, error) {
	if err == nil {
		return value != nil, nil
	}
	if eaverrors.IsNotFoundError(err) {
		return false, nil
	}
	return false, err
}
