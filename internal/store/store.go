package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ET "github.com/IBM/fp-go/v2/either"
	"github.com/IBM/fp-go/v2/function"
	IOE "github.com/IBM/fp-go/v2/ioeither"
	"github.com/IBM/fp-go/v2/ioeither/file"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/models"
	T "github.com/Qubut/fotoware-explorer/packages/data_builder/internal/typing"
)

const (
	ArchivesDir = "archives"
	AssetsDir   = "assets"
	IndexDir    = "index"
	IndexFile   = "index.json"

	archivePrefix = "archive-"
	jsonExt       = ".json"
)

// Store persists the build output below a single root directory:
//
//	archives/archive-{id}.json
//	assets/{uniqueId}.json
//	index/index.json
type Store struct {
	Dir string
}

func New(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) ArchivePath(archiveID string) string {
	return filepath.Join(s.Dir, ArchivesDir, archivePrefix+fileName(archiveID)+jsonExt)
}

func (s *Store) AssetPath(uniqueID string) string {
	return filepath.Join(s.Dir, AssetsDir, fileName(uniqueID)+jsonExt)
}

func (s *Store) IndexPath() string {
	return filepath.Join(s.Dir, IndexDir, IndexFile)
}

// WriteArchive writes the archive payload as received, only re-indented.
func (s *Store) WriteArchive(archiveID string, raw []byte) IOE.IOEither[error, T.Unit] {
	return function.Pipe1(
		IOE.TryCatchError(func() ([]byte, error) {
			var buf bytes.Buffer
			if err := json.Indent(&buf, raw, "", "  "); err != nil {
				return nil, fmt.Errorf("archive %s: %w", archiveID, err)
			}
			buf.WriteByte('\n')
			return buf.Bytes(), nil
		}),
		IOE.Chain(func(data []byte) IOE.IOEither[error, T.Unit] {
			return writeAtomic(s.ArchivePath(archiveID), data)
		}),
	)
}

func (s *Store) WriteAsset(asset models.Asset) IOE.IOEither[error, T.Unit] {
	if asset.UniqueID == "" {
		return IOE.Left[T.Unit](fmt.Errorf("asset %s has no unique ID", asset.Filename))
	}
	return function.Pipe1(
		encode(asset),
		IOE.Chain(func(data []byte) IOE.IOEither[error, T.Unit] {
			return writeAtomic(s.AssetPath(asset.UniqueID), data)
		}),
	)
}

func (s *Store) WriteIndex(index models.Index) IOE.IOEither[error, T.Unit] {
	return function.Pipe1(
		encode(index),
		IOE.Chain(func(data []byte) IOE.IOEither[error, T.Unit] {
			return writeAtomic(s.IndexPath(), data)
		}),
	)
}

func (s *Store) ReadAsset(uniqueID string) (models.Asset, error) {
	var asset models.Asset
	err := readJSON(s.AssetPath(uniqueID), &asset)
	return asset, err
}

func (s *Store) AssetExists(uniqueID string) bool {
	info, err := os.Stat(s.AssetPath(uniqueID))
	return err == nil && !info.IsDir()
}

func (s *Store) ReadIndex() (models.Index, error) {
	index := models.NewIndex()
	if err := readJSON(s.IndexPath(), &index); err != nil {
		return models.Index{}, err
	}
	if index.Archives == nil {
		index.Archives = map[string]*models.ArchiveEntry{}
	}
	return index, nil
}

// ReadArchive decodes a persisted archive payload; Raw holds the file contents.
func (s *Store) ReadArchive(archiveID string) (models.ArchiveDetail, error) {
	path := s.ArchivePath(archiveID)
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.ArchiveDetail{}, err
	}
	var detail models.ArchiveDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return models.ArchiveDetail{}, fmt.Errorf("decode %s: %w", path, err)
	}
	detail.Raw = raw
	if detail.ID == "" {
		detail.ID = archiveID
	}
	return detail, nil
}

// ListArchiveIDs returns the IDs of all persisted archive files, sorted.
func (s *Store) ListArchiveIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.Dir, ArchivesDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	ids := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, jsonExt) {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), jsonExt))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// fileName escapes an identifier into a single path segment. The escaping is reversible,
// so distinct identifiers never share a file.
func fileName(id string) string {
	return url.PathEscape(id)
}

func encode(v any) IOE.IOEither[error, []byte] {
	return IOE.TryCatchError(func() ([]byte, error) {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
}

// writeAtomic writes data next to path and renames it into place, so readers never see a
// partially written file.
func writeAtomic(path string, data []byte) IOE.IOEither[error, T.Unit] {
	tmp := path + ".tmp"
	return function.Pipe3(
		IOE.TryCatchError(func() (T.Unit, error) {
			return T.Unit{}, os.MkdirAll(filepath.Dir(path), 0o755)
		}),
		IOE.Chain(func(_ T.Unit) IOE.IOEither[error, int] {
			return IOE.Bracket(
				file.Create(tmp),
				func(f *os.File) IOE.IOEither[error, int] {
					return IOE.TryCatchError(func() (int, error) { return f.Write(data) })
				},
				func(f *os.File, _ ET.Either[error, int]) IOE.IOEither[error, any] {
					return IOE.TryCatchError(func() (any, error) { return nil, f.Close() })
				},
			)
		}),
		IOE.Chain(func(_ int) IOE.IOEither[error, T.Unit] {
			return IOE.TryCatchError(func() (T.Unit, error) {
				return T.Unit{}, os.Rename(tmp, path)
			})
		}),
		IOE.TapLeft[T.Unit](func(_ error) IOE.IOEither[error, T.Unit] {
			_ = os.Remove(tmp)
			return IOE.Of[error](T.Unit{})
		}),
	)
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// DiskUsage sums the sizes of all files below the store root.
func (s *Store) DiskUsage() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.Dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
