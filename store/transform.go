package store

import (
	"encoding/json"
	"fmt"
)

// Transformation is a registered pair of value encode/decode functions
// applied around persistence and retrieval. Set runs before the adapter
// persists a value, Get after the adapter retrieves one. Either function
// may be nil.
//
// A Space holds transformations as an explicit ordered list: registration
// order is execution order for both directions.
type Transformation struct {
	ID  string
	Get func(value any) (any, error)
	Set func(value any) (any, error)
}

// applySet runs the set-transforms in registration order.
func applySet(transforms []Transformation, value any) (any, error) {
	for _, t := range transforms {
		if t.Set == nil {
			continue
		}
		v, err := t.Set(value)
		if err != nil {
			return nil, fmt.Errorf("transformation %q: %w", t.ID, err)
		}
		value = v
	}
	return value, nil
}

// applyGet runs the get-transforms in registration order.
func applyGet(transforms []Transformation, value any) (any, error) {
	for _, t := range transforms {
		if t.Get == nil {
			continue
		}
		v, err := t.Get(value)
		if err != nil {
			return nil, fmt.Errorf("transformation %q: %w", t.ID, err)
		}
		value = v
	}
	return value, nil
}

// deepClone copies a JSON-serializable value through a marshal round
// trip, so set-transforms never mutate the caller's original object.
func deepClone(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("clone value: %w", err)
	}
	var clone any
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("clone value: %w", err)
	}
	return clone, nil
}
