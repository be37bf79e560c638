package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidUUID(t *testing.T) {
	assert.True(t, IsValidUUID("632a61ef-c596-47ba-8a1e-e85794a9a9b6"))
	assert.False(t, IsValidUUID("not-a-uuid"))
	assert.False(t, IsValidUUID(""))
}

func TestValidateEventType(t *testing.T) {
	assert.NoError(t, ValidateEventType("app.events.order.created"))
	assert.NoError(t, ValidateEventType("ns.thing_v2.state-changed"))

	assert.Error(t, ValidateEventType(""))
	assert.Error(t, ValidateEventType("noseparator"))
	assert.Error(t, ValidateEventType("Has.Capitals"))
	assert.Error(t, ValidateEventType("trailing.dot."))
}

func TestValidateStruct(t *testing.T) {
	type payload struct {
		Name string `validate:"required"`
	}

	assert.NoError(t, ValidateStruct(payload{Name: "x"}))
	assert.Error(t, ValidateStruct(payload{}))
}

func TestGetValueHelpers(t *testing.T) {
	data := map[string]interface{}{
		"name":  "n1",
		"count": float64(3),
		"str":   "2.5",
	}

	assert.Equal(t, "n1", GetStringValue(data, "name"))
	assert.Equal(t, "", GetStringValue(data, "missing"))
	assert.Equal(t, 3.0, GetFloat64Value(data, "count"))
	assert.Equal(t, 2.5, GetFloat64Value(data, "str"))
	assert.Equal(t, 3, GetIntValue(data, "count"))
	assert.Equal(t, 0, GetIntValue(data, "missing"))
}
