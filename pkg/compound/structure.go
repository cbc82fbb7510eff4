package compound

import (
	"fmt"
	"slices"

	"github.com/Gobusters/ectolinq"

	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/models"
)

const (
	inputsPath   = "data.inputs"
	expectedPath = "data.expected_value"
)

// AttributeLookup resolves attribute definitions by id.
type AttributeLookup interface {
	AttributeByID(id int64) (*models.Attribute, bool)
}

// ValidateStructure checks a compound definition and reports every problem
// found. selfID is the id of the attribute being updated, 0 on create.
func ValidateStructure(lookup AttributeLookup, data models.AttributeData, selfID int64) *eaverrors.ValidationError {
	verr := eaverrors.NewValidationError()

	if !ectolinq.Contains(ExpectedValues, data.ExpectedValue) {
		verr.Addf(expectedPath, "expected value %q is not supported", data.ExpectedValue)
	}

	inputs := data.Inputs
	if len(inputs) == 0 {
		return verr.Add(inputsPath, "inputs must not be empty")
	}
	if inputs[0].Type == models.TokenOperator {
		verr.Add(inputsPath, "inputs must not start with an operator")
	}
	if last := len(inputs) - 1; last > 0 && inputs[last].Type == models.TokenOperator {
		verr.Add(inputsPath, "inputs must not end with an operator")
	}

	for i, token := range inputs {
		position := i + 1
		if i > 0 && isOperator(inputs[i-1]) == isOperator(token) {
			if isOperator(token) {
				verr.Addf(inputsPath, "input %d: operators must be separated by a value", position)
			} else {
				verr.Addf(inputsPath, "input %d: values must be separated by an operator", position)
			}
		}

		switch token.Type {
		case models.TokenLiteral:
		case models.TokenField:
			id, ok := models.TokenAttributeID(token.Value)
			if !ok {
				verr.Addf(inputsPath, "input %d: field must reference an attribute id", position)
				continue
			}
			if selfID != 0 && id == selfID {
				verr.Addf(inputsPath, "input %d: compound cannot reference itself", position)
				continue
			}
			if _, exists := lookup.AttributeByID(id); !exists {
				verr.Addf(inputsPath, "input %d: attribute %d does not exist", position, id)
			}
		case models.TokenOperator:
			if name := operatorName(token.Value); !ectolinq.Contains(Operators, name) {
				verr.Addf(inputsPath, "input %d: %s", position, fmt.Errorf("%w %q", eaverrors.ErrUnknownOperator, name))
			}
		default:
			verr.Addf(inputsPath, "input %d: unknown input type %q", position, token.Type)
		}
	}
	return verr
}

// IsLocalized reports whether any field input of the expression is localized.
func IsLocalized(lookup AttributeLookup, inputs []models.InputToken) bool {
	return slices.ContainsFunc(inputs, func(token models.InputToken) bool {
		if token.Type != models.TokenField {
			return false
		}
		id, ok := models.TokenAttributeID(token.Value)
		if !ok {
			return false
		}
		attribute, exists := lookup.AttributeByID(id)
		return exists && attribute.Localized
	})
}

func isOperator(token models.InputToken) bool {
	return token.Type == models.TokenOperator
}
