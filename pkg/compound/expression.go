// Package compound evaluates the expressions of compound attributes and checks
// their structure.
package compound

import (
	"fmt"
	"slices"
	"strings"

	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
	"github.com/congraphcms/eav-sub001/pkg/models"
	"github.com/congraphcms/eav-sub001/pkg/utils"
)

const (
	OperatorConcat = "CONCAT"

	ExpectedString = "string"
)

// Operators lists the supported operator names.
var Operators = []string{OperatorConcat}

// ExpectedValues lists the supported output types.
var ExpectedValues = []string{ExpectedString}

// Resolver returns the current value of a referenced attribute, or nil.
type Resolver func(attributeID int64) any

// Evaluate folds inputs right to left. A CONCAT operator evaluates everything
// left of it as a sub-expression and appends the value on its right. Value
// tokens that follow each other without an operator are joined in reading order.
func Evaluate(inputs []models.InputToken, expected string, resolve Resolver) (string, error) {
	reversed := slices.Clone(inputs)
	slices.Reverse(reversed)

	value, err := fold(reversed, resolve)
	if err != nil {
		return "", err
	}
	return expectedValue(value, expected)
}

func fold(tokens []models.InputToken, resolve Resolver) (any, error) {
	var provisional any
	seen := false

	for i, token := range tokens {
		var current any
		switch token.Type {
		case models.TokenLiteral:
			current = token.Value
		case models.TokenField:
			id, ok := models.TokenAttributeID(token.Value)
			if !ok {
				return nil, fmt.Errorf("field token %v does not reference an attribute id", token.Value)
			}
			current = resolve(id)
		case models.TokenOperator:
			name := operatorName(token.Value)
			if name != OperatorConcat {
				return nil, fmt.Errorf("%w: %s", eaverrors.ErrUnknownOperator, name)
			}
			left, err := fold(tokens[i+1:], resolve)
			if err != nil {
				return nil, err
			}
			return utils.Stringify(left) + utils.Stringify(provisional), nil
		default:
			return nil, fmt.Errorf("unknown input type %q", token.Type)
		}

		if seen {
			provisional = utils.Stringify(current) + utils.Stringify(provisional)
		} else {
			provisional = current
			seen = true
		}
	}
	return provisional, nil
}

func expectedValue(value any, expected string) (string, error) {
	switch expected {
	case ExpectedString, "":
		return utils.Stringify(value), nil
	}
	return "", fmt.Errorf("%w: %s", eaverrors.ErrInvalidExpectedValue, expected)
}

func operatorName(value any) string {
	return strings.ToUpper(strings.TrimSpace(utils.Stringify(value)))
}
