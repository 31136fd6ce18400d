package planner

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// planSchema describes the expected plan for the requested counts. Negative
// counts cannot be expressed as array bounds, so only the shape is checked
// for them.
func planSchema(coreTaskCount int, subTaskCount int) map[string]any {
	subTasks := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
	if subTaskCount >= 0 {
		subTasks["minItems"] = subTaskCount
		subTasks["maxItems"] = subTaskCount
	}

	coreTasks := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
	subTasksList := map[string]any{
		"type":  "array",
		"items": subTasks,
	}
	if coreTaskCount >= 0 {
		coreTasks["minItems"] = coreTaskCount
		coreTasks["maxItems"] = coreTaskCount
		subTasksList["minItems"] = coreTaskCount
		subTasksList["maxItems"] = coreTaskCount
	}

	return map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"required":             []string{"core_tasks", "sub_tasks_list"},
		"additionalProperties": false,
		"properties": map[string]any{
			"core_tasks":     coreTasks,
			"sub_tasks_list": subTasksList,
		},
	}
}

func validatePlanShape(value any, coreTaskCount int, subTaskCount int) error {
	data, err := json.Marshal(planSchema(coreTaskCount, subTaskCount))
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	const resourceID = "inmemory://task-plan"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("plan does not match requested shape: %w", err)
	}
	return nil
}
