// Package productconfig parses the two external text grammars the
// ProductEndpoint and config-file collaborators hand back: pipe-delimited
// info tables (versions/cdns responses) and "key = value" config files.
package productconfig

import (
	"context"
	"strings"
)

// ProductEndpoint is the external versions/cdns capability this package's
// callers consume: two operations, each returning a parsed info table.
type ProductEndpoint interface {
	Versions(ctx context.Context, product string) ([]Row, error)
	CDNs(ctx context.Context, product string) ([]Row, error)
}

// Row is one record of an info table, keyed by field tag (the part of the
// schema header before "!").
type Row map[string]string

// ParseInfoTable parses the two-header-line pipe-delimited format used by
// both the versions and cdns endpoints: a schema header row of
// "name!type:width" tags, a blank/comment second line, then one row per
// record. Empty input yields an empty, non-nil result.
func ParseInfoTable(s string) []Row {
	lines := splitLines(s)
	if len(lines) == 0 {
		return []Row{}
	}

	tags := make([]string, 0)
	for _, field := range strings.Split(lines[0], "|") {
		name, _, _ := strings.Cut(field, "!")
		tags = append(tags, name)
	}

	rows := make([]Row, 0, max(0, len(lines)-2))
	for _, line := range lines[2:] {
		values := strings.Split(line, "|")
		row := make(Row, len(tags))
		for i, v := range values {
			if i >= len(tags) {
				break
			}
			if _, exists := row[tags[i]]; !exists {
				row[tags[i]] = v
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

// FindByField returns the first row whose field equals value, for picking
// the "us" region/name row out of a versions or cdns response.
func FindByField(rows []Row, field, value string) (Row, bool) {
	for _, r := range rows {
		if r[field] == value {
			return r, true
		}
	}
	return nil, false
}
