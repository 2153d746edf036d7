// Package resolver composes the encoding table, root table, and merged
// archive index into the two typed lookups the fetch orchestrator and
// closure walker depend on: resolve by numeric file id, or by filename.
package resolver

import (
	"github.com/rpcpool/castool/archiveindex"
	"github.com/rpcpool/castool/cashash"
	"github.com/rpcpool/castool/caserr"
	"github.com/rpcpool/castool/encoding"
	"github.com/rpcpool/castool/roottable"
)

const stage = "resolver"

// Locator pinpoints a file's bytes: which archive, what byte range within
// it, and the content key the decoded bytes must hash to.
type Locator struct {
	Archive            cashash.ContentKey128
	Offset             uint32
	Length             uint32
	ExpectedContentKey cashash.ContentKey128
	// EncodingKey is the BLTE container's own content hash, needed to
	// decode the bytes fetched from Archive before they can be checked
	// against ExpectedContentKey.
	EncodingKey cashash.ContentKey128
}

// Resolver joins Root, Encoding, and ArchiveIndex into the two public
// resolution entry points. All three inputs are immutable and shared by
// reference for the lifetime of one product-materialization pass.
type Resolver struct {
	root     *roottable.Root
	encoding *encoding.Encoding
	archives archiveindex.Index
}

// New builds a Resolver over already-parsed components.
func New(root *roottable.Root, enc *encoding.Encoding, archives archiveindex.Index) *Resolver {
	return &Resolver{root: root, encoding: enc, archives: archives}
}

// ByID resolves a numeric file id to its Locator: root -> encoding -> archive index.
func (r *Resolver) ByID(fdid uint32) (Locator, error) {
	ckey, err := r.root.ByFileDataID(fdid)
	if err != nil {
		return Locator{}, err
	}
	return r.resolveContentKey(ckey)
}

// ByName resolves a filename to its Locator via its name hash.
func (r *Resolver) ByName(name string) (Locator, error) {
	ckey, err := r.root.ByName(name)
	if err != nil {
		return Locator{}, err
	}
	return r.resolveContentKey(ckey)
}

func (r *Resolver) resolveContentKey(ckey cashash.ContentKey128) (Locator, error) {
	ekey, err := r.encoding.CanonicalEncodingKey(ckey)
	if err != nil {
		return Locator{}, err
	}
	loc, ok := r.archives[ekey]
	if !ok {
		return Locator{}, caserr.Missf(stage, "no archive location for encoding key %x", ekey)
	}
	return Locator{
		Archive:            loc.Archive,
		Offset:             loc.Offset,
		Length:             loc.Length,
		ExpectedContentKey: ckey,
		EncodingKey:        ekey,
	}, nil
}
