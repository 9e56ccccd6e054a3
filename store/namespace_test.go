package store

import "testing"

func TestNamespace(t *testing.T) {
	ns := namespace{name: "App", store: "persistent", version: "1.0.0"}

	t.Run("Prefix", func(t *testing.T) {
		if got := ns.prefix(); got != "App:persistent:1.0.0:" {
			t.Errorf("prefix() = %q", got)
		}
		if got := ns.versionless(); got != "App:persistent:" {
			t.Errorf("versionless() = %q", got)
		}
	})

	t.Run("ApplyAndStrip", func(t *testing.T) {
		full := ns.apply("cfg")
		if full != "App:persistent:1.0.0:cfg" {
			t.Errorf("apply() = %q", full)
		}
		if got := ns.strip(full); got != "cfg" {
			t.Errorf("strip() = %q, want \"cfg\"", got)
		}
	})

	t.Run("StripKeepsSeparatorInUserKeys", func(t *testing.T) {
		full := ns.apply("a:b:c")
		if got := ns.strip(full); got != "a:b:c" {
			t.Errorf("strip() = %q, want \"a:b:c\"", got)
		}
	})

	t.Run("VersionOf", func(t *testing.T) {
		v, ok := ns.versionOf("App:persistent:0.9.0:cfg")
		if !ok || v != "0.9.0" {
			t.Errorf("versionOf() = %q, %v", v, ok)
		}
		if _, ok := ns.versionOf("Other:persistent:1.0.0:cfg"); ok {
			t.Error("versionOf() matched a foreign namespace")
		}
	})

	t.Run("WithNameAndVersion", func(t *testing.T) {
		if got := ns.withName("App2").prefix(); got != "App2:persistent:1.0.0:" {
			t.Errorf("withName prefix = %q", got)
		}
		if got := ns.withVersion("2.0.0").prefix(); got != "App:persistent:2.0.0:" {
			t.Errorf("withVersion prefix = %q", got)
		}
	})
}

func TestMergeValues(t *testing.T) {
	t.Run("BothComposite", func(t *testing.T) {
		got := mergeValues(map[string]any{"b": 2.0}, map[string]any{"a": 1.0})
		m, ok := got.(map[string]any)
		if !ok {
			t.Fatalf("mergeValues returned %T", got)
		}
		if m["a"] != 1.0 || m["b"] != 2.0 {
			t.Errorf("mergeValues = %v", m)
		}
	})

	t.Run("NewFieldsWin", func(t *testing.T) {
		got := mergeValues(map[string]any{"a": 1.0}, map[string]any{"a": 9.0})
		if got.(map[string]any)["a"] != 9.0 {
			t.Errorf("mergeValues = %v, new field should win", got)
		}
	})

	t.Run("ScalarReplaces", func(t *testing.T) {
		if got := mergeValues(map[string]any{"a": 1.0}, 42); got != 42 {
			t.Errorf("mergeValues = %v, want 42", got)
		}
		if got := mergeValues(1, map[string]any{"a": 1.0}); got.(map[string]any)["a"] != 1.0 {
			t.Errorf("mergeValues = %v", got)
		}
	})
}

func TestEncodeDecodeValue(t *testing.T) {
	t.Run("StringStoredRaw", func(t *testing.T) {
		raw, err := encodeValue("hello")
		if err != nil {
			t.Fatal(err)
		}
		if raw != "hello" {
			t.Errorf("encodeValue = %q, want raw string", raw)
		}
		if got := decodeValue(raw); got != "hello" {
			t.Errorf("decodeValue = %v", got)
		}
	})

	t.Run("NumberAsIs", func(t *testing.T) {
		raw, err := encodeValue(42)
		if err != nil {
			t.Fatal(err)
		}
		if raw != "42" {
			t.Errorf("encodeValue = %q, want \"42\"", raw)
		}
		if got := decodeValue(raw); got != 42.0 {
			t.Errorf("decodeValue = %v (%T)", got, got)
		}
	})

	t.Run("CompositeRoundTrip", func(t *testing.T) {
		raw, err := encodeValue(map[string]any{"a": 1})
		if err != nil {
			t.Fatal(err)
		}
		m, ok := decodeValue(raw).(map[string]any)
		if !ok || m["a"] != 1.0 {
			t.Errorf("decodeValue = %v", m)
		}
	})

	t.Run("InvalidJSONFallsBackToRawString", func(t *testing.T) {
		if got := decodeValue("{not json"); got != "{not json" {
			t.Errorf("decodeValue = %v", got)
		}
	})
}
