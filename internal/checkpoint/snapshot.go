package checkpoint

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"

	"chisel/shared/utils"
)

const (
	snapshotHeadKey = "snapshot:head"
	blobMetaPrefix  = "blob:"
)

// blobMeta describes one stored content blob.
type blobMeta struct {
	Hash       string `json:"hash"`
	Size       int64  `json:"size"`
	Compressed bool   `json:"compressed"`
}

// SnapshotOptions configures a SnapshotBackend.
type SnapshotOptions struct {
	Root      string // workspace root being snapshotted
	StoreDir  string // where content blobs live, defaults to Root/.chisel/content
	CacheSize int    // blobs held in the read cache
	MinSize   int    // minimum blob size before compressing
}

// SnapshotBackend implements Backend with content-addressed local
// snapshots: every file is stored once per content hash, large blobs
// are zstd-compressed, and a tree manifest hash is the commit ref.
type SnapshotBackend struct {
	root     string
	storeDir string
	db       *badger.DB
	cache    *lru.Cache[string, []byte]
	enc      *zstd.Encoder
	dec      *zstd.Decoder
	minSize  int
}

// NewSnapshotBackend creates a snapshot backend over db.
func NewSnapshotBackend(db *badger.DB, opts SnapshotOptions) (*SnapshotBackend, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if opts.StoreDir == "" {
		opts.StoreDir = filepath.Join(opts.Root, ".chisel", "content")
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.MinSize <= 0 {
		opts.MinSize = 1024
	}

	if err := os.MkdirAll(opts.StoreDir, 0755); err != nil {
		return nil, fmt.Errorf("creating content directory: %w", err)
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	return &SnapshotBackend{
		root:     opts.Root,
		storeDir: opts.StoreDir,
		db:       db,
		cache:    cache,
		enc:      enc,
		dec:      dec,
		minSize:  opts.MinSize,
	}, nil
}

// Commit walks the tree, stores every file's content once, and commits
// a manifest whose hash is the ref.
func (b *SnapshotBackend) Commit(message string) (string, error) {
	manifest, err := b.buildManifest()
	if err != nil {
		return "", fmt.Errorf("building manifest: %w", err)
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("marshaling manifest: %w", err)
	}
	ref := utils.HashContent(data)

	head, err := b.CurrentRef()
	if err != nil {
		return "", err
	}
	if ref == head {
		return "", ErrNoChanges
	}

	for path, hash := range manifest {
		content, err := os.ReadFile(filepath.Join(b.root, path))
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		if got := utils.HashContent(content); got != hash {
			// File changed mid-commit; snapshot what we read.
			manifest[path] = got
		}
		if _, err := b.storeBlob(content); err != nil {
			return "", fmt.Errorf("storing %s: %w", path, err)
		}
	}

	// Re-marshal in case any hash moved underneath us.
	data, err = json.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("marshaling manifest: %w", err)
	}
	ref = utils.HashContent(data)
	if ref == head {
		return "", ErrNoChanges
	}

	if _, err := b.storeBlob(data); err != nil {
		return "", fmt.Errorf("storing manifest: %w", err)
	}
	if err := b.setHead(ref); err != nil {
		return "", err
	}

	return ref, nil
}

// Checkout restores the tree to the manifest named by ref. Files not
// in the manifest are removed; files already matching are untouched,
// which makes repeated checkouts of the same ref byte-identical.
func (b *SnapshotBackend) Checkout(ref string) error {
	data, err := b.readBlob(ref)
	if err != nil {
		return fmt.Errorf("loading manifest %s: %w", ref, err)
	}

	var manifest map[string]string
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}

	current, err := b.buildManifest()
	if err != nil {
		return fmt.Errorf("building manifest: %w", err)
	}

	for path := range current {
		if _, keep := manifest[path]; !keep {
			if err := os.Remove(filepath.Join(b.root, path)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing %s: %w", path, err)
			}
		}
	}

	for path, hash := range manifest {
		if current[path] == hash {
			continue
		}
		content, err := b.readBlob(hash)
		if err != nil {
			return fmt.Errorf("reading blob for %s: %w", path, err)
		}
		abs := filepath.Join(b.root, path)
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", path, err)
		}
		if err := os.WriteFile(abs, content, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}

	return b.setHead(ref)
}

func (b *SnapshotBackend) CurrentRef() (string, error) {
	var ref string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotHeadKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			ref = string(val)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("reading head: %w", err)
	}
	return ref, nil
}

func (b *SnapshotBackend) CurrentBranch() (string, error) {
	return "local", nil
}

// IsClean recomputes the tree manifest and compares it to head.
func (b *SnapshotBackend) IsClean() (bool, error) {
	manifest, err := b.buildManifest()
	if err != nil {
		return false, fmt.Errorf("building manifest: %w", err)
	}

	head, err := b.CurrentRef()
	if err != nil {
		return false, err
	}
	if head == "" {
		return len(manifest) == 0, nil
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return false, fmt.Errorf("marshaling manifest: %w", err)
	}
	return utils.HashContent(data) == head, nil
}

var skippedDirs = map[string]bool{
	".chisel":      true,
	".git":         true,
	"node_modules": true,
}

// buildManifest maps every tracked file path to its content hash.
func (b *SnapshotBackend) buildManifest() (map[string]string, error) {
	manifest := make(map[string]string)

	err := filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] && path != b.root {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		manifest[filepath.ToSlash(rel)] = utils.HashContent(content)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return manifest, nil
}

func (b *SnapshotBackend) setHead(ref string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotHeadKey), []byte(ref))
	})
}

func (b *SnapshotBackend) blobPath(hash string) string {
	return filepath.Join(b.storeDir, hash[:2], hash[2:])
}

// storeBlob writes content once per hash, compressing blobs over the
// size threshold.
func (b *SnapshotBackend) storeBlob(content []byte) (string, error) {
	hash := utils.HashContent(content)

	exists, err := b.hasBlob(hash)
	if err != nil {
		return "", err
	}
	if exists {
		return hash, nil
	}

	stored := content
	compressed := false
	if len(content) >= b.minSize {
		stored = b.enc.EncodeAll(content, nil)
		compressed = true
	}

	path := b.blobPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating blob directory: %w", err)
	}
	if err := os.WriteFile(path, stored, 0644); err != nil {
		return "", fmt.Errorf("writing blob: %w", err)
	}

	meta := blobMeta{
		Hash:       hash,
		Size:       int64(len(content)),
		Compressed: compressed,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(blobMetaPrefix+hash), data)
	})
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("storing blob metadata: %w", err)
	}

	b.cache.Add(hash, content)
	return hash, nil
}

func (b *SnapshotBackend) hasBlob(hash string) (bool, error) {
	if b.cache.Contains(hash) {
		return true, nil
	}
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(blobMetaPrefix + hash))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (b *SnapshotBackend) readBlob(hash string) ([]byte, error) {
	if content, ok := b.cache.Get(hash); ok {
		return content, nil
	}

	var meta blobMeta
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(blobMetaPrefix + hash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("blob not found: %s", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob metadata: %w", err)
	}

	content, err := os.ReadFile(b.blobPath(hash))
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}

	if meta.Compressed {
		content, err = b.dec.DecodeAll(content, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing blob: %w", err)
		}
	}

	if utils.HashContent(content) != hash {
		return nil, fmt.Errorf("content hash mismatch for %s", hash)
	}

	b.cache.Add(hash, content)
	return content, nil
}
