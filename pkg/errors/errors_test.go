package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	t.Run("aggregates messages in order", func(t *testing.T) {
		verr := NewValidationError()
		assert.NoError(t, verr.ErrOrNil())

		verr.Add("fields.title", "required").
			Add("fields.title", "locale required").
			Addf("data.inputs", "input %d is not valid", 2)

		require.Error(t, verr.ErrOrNil())
		assert.Equal(t, []string{"fields.title", "data.inputs"}, verr.Keys())
		assert.True(t, verr.Has("fields.title", "required"))
		assert.True(t, verr.Has("fields.title", "locale required"))
		assert.Equal(t, "validation failed: fields.title: required, locale required; data.inputs: input 2 is not valid", verr.Error())
	})

	t.Run("merges wrapped validation errors", func(t *testing.T) {
		inner := NewFieldError("fields.code", "not unique")
		outer := NewValidationError().Merge(fmt.Errorf("wrapped: %w", inner)).Merge(stderrors.New("ignored"))
		assert.Equal(t, []string{"fields.code"}, outer.Keys())
		assert.True(t, IsValidationError(fmt.Errorf("wrapped: %w", outer)))
	})
}

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", NewFieldError("fields.title", "required"), http.StatusUnprocessableEntity},
		{"not found", NewNotFoundError("entity", 7), http.StatusNotFound},
		{"bad request", NewBadRequestError("filter", "unknown operator %q", "xx"), http.StatusBadRequest},
		{"storage", NewStorageError("insert", stderrors.New("constraint")), http.StatusInternalServerError},
		{"unknown field type", fmt.Errorf("%w: %s", ErrUnknownFieldType, "color"), http.StatusInternalServerError},
		{"plain", stderrors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			herr := ToHTTPError(tt.err)
			require.NotNil(t, herr)
			assert.Equal(t, tt.status, httperror.GetStatusCode(herr))
		})
	}

	assert.Nil(t, ToHTTPError(nil))
}

func TestStorage(t *testing.T) {
	assert.NoError(t, Storage("op", nil))

	cause := stderrors.New("disk full")
	err := Storage("insert value", cause)
	assert.True(t, IsStorageError(err))
	assert.ErrorIs(t, err, cause)

	nf := NewNotFoundError("attribute", "title")
	assert.Same(t, nf, Storage("lookup", nf))
}
