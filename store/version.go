package store

import (
	"strconv"
	"strings"
)

// versionWeight is the weight of the first dot segment. Each following
// segment weighs a factor of 1000 less, so segment 0 always dominates
// segment 1 for segments below 1000.
const versionWeight = 1_000_000_000

// VersionToNumber maps a dotted version string to a comparable integer.
// The empty string maps to 0. Up to four dot-separated segments are
// parsed; missing or non-numeric segments count as 0. Numeric ordering of
// the result agrees with semantic ordering of the version strings.
func VersionToNumber(version string) int64 {
	if version == "" {
		return 0
	}

	segments := strings.Split(version, ".")
	weight := int64(versionWeight)
	var n int64

	for i := 0; i < 4; i++ {
		if i < len(segments) {
			if v, err := strconv.ParseInt(segments[i], 10, 64); err == nil && v >= 0 {
				n += v * weight
			}
		}
		weight /= 1000
	}
	return n
}

// CompareVersions returns -1, 0 or 1 as a is semantically older than,
// equal to, or newer than b.
func CompareVersions(a, b string) int {
	na, nb := VersionToNumber(a), VersionToNumber(b)
	switch {
	case na < nb:
		return -1
	case na > nb:
		return 1
	}
	return 0
}
