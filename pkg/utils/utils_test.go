package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
)

type createRequest struct {
	Code      string `json:"code" validate:"required"`
	FieldType string `json:"field_type" validate:"required,oneof=text integer"`
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		_, err := Validate(createRequest{Code: "title", FieldType: "text"})
		assert.NoError(t, err)
	})

	t.Run("keys errors by json name", func(t *testing.T) {
		_, err := Validate(createRequest{FieldType: "color"})
		require.Error(t, err)

		var verr *eaverrors.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.True(t, verr.Has("code", "required"))
		assert.True(t, verr.Has("field_type", "must be one of [text integer]"))
	})

	t.Run("parses maps", func(t *testing.T) {
		req, err := ValidateArguments[createRequest](map[string]any{"code": "title", "field_type": "integer"})
		require.NoError(t, err)
		assert.Equal(t, "integer", req.FieldType)
	})
}

func TestConversions(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    int64
		wantErr bool
	}{
		{"int", 5, 5, false},
		{"float whole", float64(7), 7, false},
		{"float fraction", 7.5, 0, true},
		{"string", "42", 42, false},
		{"json number", json.Number("9"), 9, false},
		{"bool", true, 0, true},
		{"garbage", "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToInt64(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	f, err := ToFloat64("1.25")
	require.NoError(t, err)
	assert.Equal(t, 1.25, f)

	assert.Equal(t, "1.5", Stringify(1.5))
	assert.Equal(t, "12", Stringify(12))
	assert.True(t, IsEmpty(""))
	assert.True(t, IsEmpty([]any{}))
	assert.False(t, IsEmpty(0))
}
