// Package cache implements the optional content-addressed disk cache: a
// hash-keyed store, laid out to mirror the CDN's own path shape, consulted
// before a network fetch and populated after a fetch verifies. Writes land
// in a uniquely-named temp file first, then get renamed into place, so a
// crash mid-write never leaves a truncated object behind.
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/rpcpool/castool/caserr"
	"github.com/rpcpool/castool/cashash"
)

var log = logging.Logger("cache")

const stage = "cache"

// numBuckets shards the cache root into subdirectories by the low bits of an
// xxhash of the content key, so a single directory never holds every cached
// object's metadata file (the data files themselves already shard via the
// CDN-mirroring H[0:2]/H[2:4] path).
const numBuckets = 256

// Store is a content-addressed disk cache rooted at Dir.
type Store struct {
	Dir string
}

// New returns a Store rooted at dir. The directory is created lazily on
// first write.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

// objectPath returns the CDN-shaped relative path for a hex-encoded hash:
// H[0:2]/H[2:4]/H, matching fetch.objectPath's own shape so a cache root can
// be inspected with the same mental model as the CDN tree it mirrors.
func objectPath(hexHash string) string {
	return filepath.Join(hexHash[0:2], hexHash[2:4], hexHash)
}

func bucket(key cashash.ContentKey128) uint64 {
	return xxhash.Sum64(key[:]) % numBuckets
}

// Get returns the cached bytes for contentKey, if present. A miss is not an
// error; callers fall through to a network fetch.
func (s *Store) Get(contentKey cashash.ContentKey128) ([]byte, bool) {
	hexHash := fmt.Sprintf("%032x", contentKey)
	dataPath := filepath.Join(s.Dir, objectPath(hexHash))
	metaPath := s.metaPath(contentKey)

	metaRaw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, false
	}
	meta, err := unmarshalMeta(metaRaw)
	if err != nil {
		log.Warnw("cache: discarding unreadable metadata", "key", hexHash, "err", err)
		return nil, false
	}

	data, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, false
	}
	if uint64(len(data)) != meta.Size {
		log.Warnw("cache: discarding size-mismatched entry", "key", hexHash)
		return nil, false
	}
	return data, true
}

// Put stores data under contentKey, verified to already hash to it by the
// caller (Put does not re-verify; materialize calls it only with bytes
// that fetch.Orchestrator.FetchContent has already verified). The write is atomic: data lands in a uniquely-named temp file
// first, then is renamed into place.
func (s *Store) Put(contentKey, encodingKey cashash.ContentKey128, data []byte) error {
	hexHash := fmt.Sprintf("%032x", contentKey)
	dataPath := filepath.Join(s.Dir, objectPath(hexHash))
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return caserr.Format(stage, fmt.Errorf("creating cache directory: %w", err))
	}
	if err := writeAtomic(dataPath, data); err != nil {
		return caserr.Format(stage, err)
	}

	meta, err := marshalMeta(entryMeta{
		ContentKey:  contentKey[:],
		EncodingKey: encodingKey[:],
		Size:        uint64(len(data)),
	})
	if err != nil {
		return caserr.Format(stage, err)
	}
	metaPath := s.metaPath(contentKey)
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return caserr.Format(stage, fmt.Errorf("creating cache metadata directory: %w", err))
	}
	if err := writeAtomic(metaPath, meta); err != nil {
		return caserr.Format(stage, err)
	}
	return nil
}

func (s *Store) metaPath(contentKey cashash.ContentKey128) string {
	return filepath.Join(s.Dir, "meta", fmt.Sprintf("%d", bucket(contentKey)), fmt.Sprintf("%032x.meta", contentKey))
}

// writeAtomic writes data to a uuid-named temp file alongside path, then
// renames it into place, so a crash mid-write never leaves a truncated file
// at the final path.
func writeAtomic(path string, data []byte) error {
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
