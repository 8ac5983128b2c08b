package cas

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/FocuswithJustin/apfingest/core/errors"
	"github.com/FocuswithJustin/apfingest/internal/fileutil"
	"github.com/FocuswithJustin/apfingest/internal/validation"
)

// Put stores data and points name at it.
func (s *Store) Put(name string, data []byte) (HashResult, error) {
	path, err := s.namePath(name)
	if err != nil {
		return HashResult{}, err
	}
	res, err := s.Store(data)
	if err != nil {
		return HashResult{}, err
	}
	if cur, err := s.Ref(name); err == nil && cur == res {
		return res, nil
	}
	ref, err := json.Marshal(res)
	if err != nil {
		return HashResult{}, err
	}
	if err := fileutil.WriteAtomic(path, ref); err != nil {
		return HashResult{}, err
	}
	return res, nil
}

// Ref returns the digests name points at.
func (s *Store) Ref(name string) (HashResult, error) {
	path, err := s.namePath(name)
	if err != nil {
		return HashResult{}, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return HashResult{}, errors.NewNotFound("snapshot", name)
	}
	if err != nil {
		return HashResult{}, errors.NewIO("read", path, err)
	}
	var res HashResult
	if err := json.Unmarshal(data, &res); err != nil {
		return HashResult{}, errors.Wrapf(err, "name %s", name)
	}
	return res, nil
}

// Get returns the content name points at. Content whose digests no longer
// match the name's record is reported as ErrCorrupt.
func (s *Store) Get(name string) ([]byte, error) {
	ref, err := s.Ref(name)
	if err != nil {
		return nil, err
	}
	data, err := s.Retrieve(ref.SHA256)
	if err != nil {
		return nil, err
	}
	if sum := Sum(data); sum != ref {
		return nil, &errors.CorruptError{Resource: "snapshot", ID: name, Want: ref.BLAKE3, Got: sum.BLAKE3}
	}
	return data, nil
}

// Delete removes name from the index. The blob stays; another name may
// share it.
func (s *Store) Delete(name string) error {
	path, err := s.namePath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFound("snapshot", name)
		}
		return errors.NewIO("remove", path, err)
	}
	return nil
}

// Prune deletes every indexed name keep rejects and returns the deleted
// names in sorted order.
func (s *Store) Prune(keep func(name string) bool) ([]string, error) {
	names, err := s.Names()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, name := range names {
		if keep(name) {
			continue
		}
		if err := s.Delete(name); err != nil {
			return removed, err
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// Has reports whether name is in the index.
func (s *Store) Has(name string) bool {
	_, err := s.Ref(name)
	return err == nil
}

// Names returns every indexed name in sorted order.
func (s *Store) Names() ([]string, error) {
	dir := filepath.Join(s.root, "names")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.NewIO("list", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) namePath(name string) (string, error) {
	if err := validation.ValidateFilename(name); err != nil {
		return "", errors.Wrapf(err, "snapshot name %q", name)
	}
	return filepath.Join(s.root, "names", name+".json"), nil
}
