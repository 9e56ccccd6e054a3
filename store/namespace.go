package store

import "strings"

// namespace is the (name, store, version) triple and its derived key
// prefix. Keys are stored as "name:store:version:key"; the versionless
// prefix "name:store:" is used to find prior-version data at open time.
type namespace struct {
	name    string
	store   string
	version string
}

func (n namespace) prefix() string {
	return n.name + ":" + n.store + ":" + n.version + ":"
}

func (n namespace) versionless() string {
	return n.name + ":" + n.store + ":"
}

// apply returns the fully prefixed key.
func (n namespace) apply(key string) string {
	return n.prefix() + key
}

// strip removes the namespace prefix from a full key. Stripping uses the
// prefix length, so user keys may themselves contain the separator.
func (n namespace) strip(full string) string {
	return strings.TrimPrefix(full, n.prefix())
}

// versionOf extracts the version segment from a raw backend key, if the
// key belongs to any version of this namespace.
func (n namespace) versionOf(raw string) (string, bool) {
	rest, ok := strings.CutPrefix(raw, n.versionless())
	if !ok {
		return "", false
	}
	version, _, ok := strings.Cut(rest, ":")
	return version, ok
}

func (n namespace) withName(name string) namespace {
	n.name = name
	return n
}

func (n namespace) withVersion(version string) namespace {
	n.version = version
	return n
}
