package realtime

import (
	"encoding/json"
	"fmt"
)

// Normalize converts a push payload into a flat field mapping.
//
// The broker emits two shapes: data wrapped under a "params" object, or a
// bare flat object. Detection is structural (presence of a params object),
// never inferred from the topic. Nested objects inside the body are
// flattened to dotted keys; leaf values keep their decoded types.
//
// Parameters:
//   - payload: Raw message bytes
//
// Returns:
//   - map[string]any: Flat field mapping, possibly empty
//   - error: ErrPayload when the bytes are not a JSON object
func Normalize(payload []byte) (map[string]any, error) {
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayload, err)
	}

	body := decoded
	if params, ok := decoded["params"].(map[string]any); ok {
		body = params
	}

	flat := make(map[string]any, len(body))
	for key, value := range body {
		flattenField(flat, key, value)
	}
	return flat, nil
}

// flattenField writes value under key, recursing into nested objects.
// Lists stay whole; only objects produce dotted child keys.
func flattenField(flat map[string]any, key string, value any) {
	nested, ok := value.(map[string]any)
	if !ok {
		flat[key] = value
		return
	}
	for childKey, childValue := range nested {
		flattenField(flat, key+"."+childKey, childValue)
	}
}

// parseStatus extracts the online flag from a status topic payload.
// The wire value is params.status with 1 online and 0 offline.
func parseStatus(payload []byte) (online, ok bool) {
	fields, err := Normalize(payload)
	if err != nil {
		return false, false
	}
	value, present := fields["status"]
	if !present {
		return false, false
	}
	num, isNum := value.(float64)
	if !isNum {
		return false, false
	}
	return num == 1, true
}
