package store_test

import (
	"encoding/json"
	"testing"
)

// jsonNormalize round-trips a value through JSON so expectations compare
// against what a store hands back (maps with float64 numbers).
func jsonNormalize(t *testing.T, v any) any {
	t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}
