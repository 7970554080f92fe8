package tools

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

func resolveSchema(raw map[string]any) (*jsonschema.Resolved, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return schema.Resolve(nil)
}

// ValidateArguments checks args against the input schema of the named tool.
func (r *Registry) ValidateArguments(name string, args map[string]any) error {
	r.mu.RLock()
	e, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	if e.schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := e.schema.Validate(args); err != nil {
		return fmt.Errorf("%w for %s: %v", ErrInvalidArguments, name, err)
	}
	return nil
}

// ParseArguments decodes a model-produced argument string into a JSON object.
// An empty string yields an empty object.
func ParseArguments(name, raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("%w for %s: arguments are not a JSON object: %v", ErrInvalidArguments, name, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
