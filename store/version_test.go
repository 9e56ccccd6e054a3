package store_test

import (
	"testing"

	"github.com/quietstack/go-stash/store"
)

func TestVersionToNumber(t *testing.T) {
	t.Run("EmptyString", func(t *testing.T) {
		if n := store.VersionToNumber(""); n != 0 {
			t.Errorf("VersionToNumber(\"\") = %d, want 0", n)
		}
	})

	t.Run("SemanticOrdering", func(t *testing.T) {
		// Each entry must map strictly below the next.
		ordered := []string{
			"",
			"0.0.1",
			"0.1",
			"0.9.9",
			"1",
			"1.0.0",
			"1.0.1",
			"1.2.0",
			"1.2.3.4",
			"1.10.0",
			"2.0.0",
			"10.0.0",
		}
		for i := 0; i < len(ordered)-1; i++ {
			a, b := ordered[i], ordered[i+1]
			if store.VersionToNumber(a) >= store.VersionToNumber(b) {
				t.Errorf("VersionToNumber(%q) = %d, should be < VersionToNumber(%q) = %d",
					a, store.VersionToNumber(a), b, store.VersionToNumber(b))
			}
		}
	})

	t.Run("EquivalentForms", func(t *testing.T) {
		pairs := [][2]string{
			{"1", "1.0"},
			{"1.0", "1.0.0"},
			{"1.2", "1.2.0.0"},
		}
		for _, p := range pairs {
			if store.VersionToNumber(p[0]) != store.VersionToNumber(p[1]) {
				t.Errorf("VersionToNumber(%q) != VersionToNumber(%q)", p[0], p[1])
			}
		}
	})

	t.Run("NonNumericSegmentsCountAsZero", func(t *testing.T) {
		if store.VersionToNumber("1.x.0") != store.VersionToNumber("1.0.0") {
			t.Error("non-numeric segment should count as 0")
		}
	})
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.2.0", -1},
		{"1.2.0", "2.0.0", -1},
		{"2.0.0", "1.2.0", 1},
		{"1.0.0", "1.0.0", 0},
		{"", "0.0.0.1", -1},
	}
	for _, tc := range cases {
		if got := store.CompareVersions(tc.a, tc.b); got != tc.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
