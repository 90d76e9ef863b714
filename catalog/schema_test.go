package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgeissen/turnengine/toolproto"
)

func queryTool() toolproto.ToolDescriptor {
	return toolproto.ToolDescriptor{
		Name: "run_query",
		Args: []toolproto.ArgSpec{
			{
				Name:     "sql",
				Type:     "string",
				Required: true,
				Schema:   map[string]interface{}{"type": "string", "minLength": 1},
			},
			{
				Name: "limit",
				Type: "number",
				Schema: map[string]interface{}{
					"type":    "integer",
					"minimum": 1,
				},
			},
		},
	}
}

func TestValidateArgsRejectsMissingRequired(t *testing.T) {
	v := NewSchemaValidator()
	err := v.ValidateArgs(queryTool(), map[string]interface{}{"limit": 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required argument")
}

func TestValidateArgsRejectsExtraneousArgument(t *testing.T) {
	v := NewSchemaValidator()
	err := v.ValidateArgs(queryTool(), map[string]interface{}{
		"sql":      "select 1",
		"fake_arg": true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extraneous argument")
}

func TestValidateArgsAcceptsWellFormedArguments(t *testing.T) {
	v := NewSchemaValidator()
	err := v.ValidateArgs(queryTool(), map[string]interface{}{
		"sql":   "select 1",
		"limit": 5,
	})
	assert.NoError(t, err)
}

func TestValidateArgsRejectsSchemaViolation(t *testing.T) {
	v := NewSchemaValidator()
	err := v.ValidateArgs(queryTool(), map[string]interface{}{
		"sql":   "select 1",
		"limit": -1,
	})
	assert.Error(t, err, "limit below the declared minimum should fail schema validation")
}

func TestValidateArgsCachesCompiledSchema(t *testing.T) {
	v := NewSchemaValidator()
	tool := queryTool()
	require.NoError(t, v.ValidateArgs(tool, map[string]interface{}{"sql": "a"}))
	_, ok := v.compiled[tool.Name]
	assert.True(t, ok, "schema should be cached by tool name after first validation")
}
