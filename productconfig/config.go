package productconfig

import "strings"

// KeyValues is a parsed "key = value" config file (build config / CDN
// config), ignoring unparseable lines.
type KeyValues map[string]string

// ParseKeyValues parses the line-oriented "key = value" grammar used by the
// build-config and CDN-config text blobs.
func ParseKeyValues(s string) KeyValues {
	out := make(KeyValues)
	for _, line := range splitLines(s) {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out
}

// EncodingKey returns the second (encoding key) token of the build config's
// "encoding" field, which is formatted "<ckey> <ekey>".
func (kv KeyValues) EncodingKey() (string, bool) {
	v, ok := kv["encoding"]
	if !ok {
		return "", false
	}
	fields := strings.Fields(v)
	if len(fields) < 2 {
		return "", false
	}
	return fields[1], true
}

// Root returns the build config's "root" field: the root table's own
// content key, as a 32-hex-character string.
func (kv KeyValues) Root() (string, bool) {
	v, ok := kv["root"]
	if !ok {
		return "", false
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

// AddonDirTable returns the build config's "addondirs" field: the encoding
// key of the data table listing addon directory names, one of the two
// tables the closure walker's seed is derived from.
func (kv KeyValues) AddonDirTable() (string, bool) {
	v, ok := kv["addondirs"]
	if !ok {
		return "", false
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

// NameFallbackTable returns the build config's "namefallback" field: the
// encoding key of the data table mapping lowercased file names to file ids,
// the other of the two tables the closure walker's seed is derived from.
func (kv KeyValues) NameFallbackTable() (string, bool) {
	v, ok := kv["namefallback"]
	if !ok {
		return "", false
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

// Archives returns the CDN config's space-separated list of archive hashes.
func (kv KeyValues) Archives() []string {
	v, ok := kv["archives"]
	if !ok {
		return nil
	}
	return strings.Fields(v)
}

// Hosts returns the effective CDN host-prefix list built from a cdns row's
// Hosts and Path fields: "http://" + host + "/" + path for each host.
func Hosts(row Row) []string {
	hosts := strings.Fields(row["Hosts"])
	path := row["Path"]
	out := make([]string, len(hosts))
	for i, h := range hosts {
		out[i] = "http://" + h + "/" + path
	}
	return out
}
