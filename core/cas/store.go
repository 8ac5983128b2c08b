// Package cas is the content-addressed cache of serialized snapshots.
//
// Blobs are stored once under their SHA-256 hash. A name index on top maps
// snapshot file names to the blob that currently holds the snapshot, so
// rebuilding an unchanged document rewrites nothing. Each name records both
// digests of its content and Get checks them on read.
//
// Layout under the root:
//
//	blobs/sha256/<2>/<sha256>
//	names/<name>.json          {"sha256": ..., "blake3": ...}
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/zeebo/blake3"

	"github.com/FocuswithJustin/apfingest/core/errors"
	"github.com/FocuswithJustin/apfingest/internal/fileutil"
)

var hashPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// HashResult holds both digests of a stored blob.
type HashResult struct {
	SHA256 string `json:"sha256"`
	BLAKE3 string `json:"blake3"`
}

// Store is a content-addressed blob store with a name index.
type Store struct {
	root string
}

// NewStore opens or creates a store at root.
func NewStore(root string) (*Store, error) {
	for _, dir := range []string{
		filepath.Join(root, "blobs", "sha256"),
		filepath.Join(root, "names"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.NewIO("create", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// Store writes data and returns its digests. Storing existing content is a
// no-op.
func (s *Store) Store(data []byte) (HashResult, error) {
	res := Sum(data)

	blobPath := s.blobPath(res.SHA256)
	if _, err := os.Stat(blobPath); err != nil {
		if err := fileutil.WriteAtomic(blobPath, data); err != nil {
			return HashResult{}, err
		}
	}
	return res, nil
}

// Retrieve returns the blob with the given SHA-256 hash.
func (s *Store) Retrieve(sha string) ([]byte, error) {
	if !hashPattern.MatchString(sha) {
		return nil, errors.NewValidation("hash", fmt.Sprintf("not a SHA-256 hex digest: %q", sha))
	}
	data, err := os.ReadFile(s.blobPath(sha))
	if os.IsNotExist(err) {
		return nil, errors.NewNotFound("blob", sha)
	}
	if err != nil {
		return nil, errors.NewIO("read", s.blobPath(sha), err)
	}
	return data, nil
}

func (s *Store) blobPath(sha string) string {
	return filepath.Join(s.root, "blobs", "sha256", sha[:2], sha)
}

// Sum computes both digests of data without storing it.
func Sum(data []byte) HashResult {
	sha := sha256.Sum256(data)
	b3 := blake3.Sum256(data)
	return HashResult{
		SHA256: hex.EncodeToString(sha[:]),
		BLAKE3: hex.EncodeToString(b3[:]),
	}
}
