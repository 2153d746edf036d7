// Package closure walks the addon dependency graph: starting from a seed
// set of per-addon ".toc" manifests, it recursively expands text-manifest
// and XML references into a flat (path, bytes) stream, fetching each file
// through the resolver/fetch collaborators as it goes.
package closure

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/rpcpool/castool/caserr"
)

var log = logging.Logger("closure")

const stage = "closure"

// Content fetches and decodes the bytes for a resolved path or file id.
// Implementations are expected to resolve, ranged-fetch, BLTE-decode and
// verify in one call, matching fetch.Orchestrator's FetchContent contract
// composed with a resolver.Resolver.
type Content interface {
	ByName(ctx context.Context, name string) ([]byte, error)
	ByID(ctx context.Context, fdid uint32) ([]byte, error)
}

// File is one resolved entry of the closure: its normalized path and its
// decoded bytes.
type File struct {
	Path  string
	Bytes []byte
}

// Walk computes the addon closure. addonDirs is the seed list of addon
// directory paths (from the addon-listing data table); productTag
// (e.g. "Wrath") is used to probe the tagged ".toc" variant first. names
// maps lowercased file name to file id, consulted when a reference fails
// resolution by name, so it can still be served by id.
//
// Files are emitted in completion order as they are resolved; a resolution
// miss is logged and skipped rather than treated as fatal.
func Walk(ctx context.Context, content Content, addonDirs []string, productTag string, names map[string]uint32) ([]File, error) {
	worklist := seed(addonDirs, productTag)
	seen := make(map[string]bool, len(worklist))
	var out []File
	var misses, resolved int

	for len(worklist) > 0 {
		path := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		key := strings.ToLower(path)
		if seen[key] {
			continue
		}
		seen[key] = true

		data, err := resolveOne(ctx, content, path, names)
		if err != nil {
			if kind, ok := caserr.KindOf(err); ok && kind == caserr.KindResolutionMiss {
				misses++
				log.Warnw("closure: skipping unresolved reference", "path", path, "err", err)
				continue
			}
			return nil, err
		}
		resolved++
		out = append(out, File{Path: path, Bytes: data})

		refs, err := references(path, data)
		if err != nil {
			log.Warnw("closure: skipping malformed manifest", "path", path, "err", err)
			continue
		}
		for _, ref := range refs {
			worklist = append(worklist, normalize(path, ref))
		}
	}
	log.Infow("closure walk complete", "resolved", resolved, "skipped", misses)
	return out, nil
}

// resolveOne resolves path via by-name lookup, falling back to the
// lowercase-name id table and an id lookup when the name lookup misses.
func resolveOne(ctx context.Context, content Content, path string, names map[string]uint32) ([]byte, error) {
	data, err := content.ByName(ctx, path)
	if err == nil {
		return data, nil
	}
	kind, ok := caserr.KindOf(err)
	if !ok || kind != caserr.KindResolutionMiss {
		return nil, err
	}
	fdid, ok := names[strings.ToLower(path)]
	if !ok {
		return nil, err
	}
	return content.ByID(ctx, fdid)
}

// seed builds the initial worklist: for each addon directory D, the
// candidates D/<last>_<tag>.toc and D/<last>.toc, in that preference
// order so the tagged variant is popped (and thus tried) first.
func seed(addonDirs []string, productTag string) []string {
	worklist := make([]string, 0, len(addonDirs)*2)
	for _, dir := range addonDirs {
		last := lastSegment(dir)
		untagged := dir + "\\" + last + ".toc"
		tagged := dir + "\\" + last + "_" + productTag + ".toc"
		worklist = append(worklist, untagged, tagged)
	}
	return worklist
}

func lastSegment(path string) string {
	path = strings.ReplaceAll(path, "/", "\\")
	if i := strings.LastIndexByte(path, '\\'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// references extracts the path references a manifest file contains,
// dispatching on its extension.
func references(path string, data []byte) ([]string, error) {
	switch {
	case strings.HasSuffix(strings.ToLower(path), ".toc"):
		return tocReferences(data), nil
	case strings.HasSuffix(strings.ToLower(path), ".xml"):
		return xmlReferences(data)
	default:
		return nil, nil
	}
}

// tocReferences parses a ".toc" manifest: non-empty, non-comment lines are
// path references.
func tocReferences(data []byte) []string {
	var refs []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		refs = append(refs, line)
	}
	return refs
}

type xmlUI struct {
	Elements []xmlElement `xml:",any"`
}

type xmlElement struct {
	XMLName xml.Name
	File    string       `xml:"file,attr"`
	Nested  []xmlElement `xml:",any"`
}

// xmlReferences parses a ".xml" manifest: every <Script> and <Include>
// element's file attribute is a path reference. A leading UTF-8 BOM is
// stripped first, since the game client's XML files commonly carry one.
func xmlReferences(data []byte) ([]string, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	var doc xmlUI
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, caserr.Format(stage, fmt.Errorf("parsing addon XML: %w", err))
	}
	var refs []string
	collectReferences(doc.Elements, &refs)
	return refs, nil
}

func collectReferences(elements []xmlElement, refs *[]string) {
	for _, el := range elements {
		switch el.XMLName.Local {
		case "Script", "Include":
			if el.File != "" {
				*refs = append(*refs, el.File)
			}
		}
		collectReferences(el.Nested, refs)
	}
}

// normalize resolves file relative to base's containing directory: both
// are interpreted with Windows-style separators, ".." pops a segment,
// anything else pushes one. base's own last segment (the manifest's own
// file name) is discarded before resolution begins.
func normalize(base, file string) string {
	baseSegs := splitWindowsPath(base)
	if len(baseSegs) > 0 {
		baseSegs = baseSegs[:len(baseSegs)-1]
	}
	for _, seg := range splitWindowsPath(file) {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(baseSegs) > 0 {
				baseSegs = baseSegs[:len(baseSegs)-1]
			}
		default:
			baseSegs = append(baseSegs, seg)
		}
	}
	return strings.Join(baseSegs, "\\")
}

func splitWindowsPath(path string) []string {
	path = strings.ReplaceAll(path, "/", "\\")
	return strings.Split(path, "\\")
}
