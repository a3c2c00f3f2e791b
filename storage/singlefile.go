package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ruteri/pim-storage/interfaces"
)

// SingleFileStorage keeps a whole collection in one .ics or .vcf file.
//
// The file is read and split into items on List; the href of an item is its
// ident and its etag is the content hash. Every committed mutation rewrites
// the whole file atomically, after checking that nobody else modified it
// since it was read (ErrMtimeMismatch). In buffered mode mutations only
// touch the in-memory copy and Flush performs the single write.
type SingleFileStorage struct {
	path string
	log  *slog.Logger

	loaded bool
	items  map[string]*cachedItem
	order  []string
	mtime  time.Time

	buffered bool
	dirty    bool
}

type cachedItem struct {
	item *interfaces.Item
	hash string
}

// NewSingleFileStorage opens an existing collection file.
func NewSingleFileStorage(cfg interfaces.SingleFileConfig, log *slog.Logger) (*SingleFileStorage, error) {
	if log == nil {
		log = slog.Default()
	}

	fi, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, interfaces.BadCollectionConfig("collection file not accessible", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, interfaces.BadCollectionConfig(cfg.Path+" is not a regular file", nil)
	}

	return &SingleFileStorage{path: cfg.Path, log: log}, nil
}

func (s *SingleFileStorage) Kind() interfaces.StorageKind {
	return interfaces.KindSingleFile
}

func (s *SingleFileStorage) Name() string {
	return fmt.Sprintf("singlefile-%s", filepath.Base(s.path))
}

// load re-reads the file into the cache, dropping unflushed changes.
func (s *SingleFileStorage) load() error {
	fi, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", s.path, err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	split, err := interfaces.SplitCollection(string(data))
	if err != nil {
		return err
	}

	items := make(map[string]*cachedItem, len(split))
	order := make([]string, 0, len(split))
	for _, item := range split {
		hash, err := item.Hash()
		if err != nil {
			return err
		}
		ident, err := item.Ident()
		if err != nil {
			return err
		}
		if _, dup := items[ident]; !dup {
			order = append(order, ident)
		}
		items[ident] = &cachedItem{item: item, hash: hash}
	}

	s.items, s.order, s.mtime = items, order, fi.ModTime()
	s.loaded, s.dirty = true, false
	return nil
}

func (s *SingleFileStorage) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	return s.load()
}

func (s *SingleFileStorage) List(ctx context.Context) (*interfaces.Listing, error) {
	// unflushed changes are part of the view while buffering
	if !(s.buffered && s.dirty) {
		if err := s.load(); err != nil {
			return nil, err
		}
	}

	entries := make([]interfaces.ListingEntry, 0, len(s.order))
	for _, href := range s.order {
		entries = append(entries, interfaces.ListingEntry{Href: href, Etag: s.items[href].hash})
	}
	return interfaces.NewListing(entries), nil
}

func (s *SingleFileStorage) Get(ctx context.Context, href string) (*interfaces.GetResult, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	c, ok := s.items[href]
	if !ok {
		return nil, interfaces.ItemNotFound(href)
	}
	return &interfaces.GetResult{Item: c.item, Etag: c.hash}, nil
}

func (s *SingleFileStorage) Upload(ctx context.Context, item *interfaces.Item) (*interfaces.UploadResult, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	hash, err := item.Hash()
	if err != nil {
		return nil, err
	}
	href, err := item.Ident()
	if err != nil {
		return nil, err
	}
	if _, ok := s.items[href]; ok {
		return nil, interfaces.ItemAlreadyExisting(href)
	}

	s.items[href] = &cachedItem{item: item, hash: hash}
	s.order = append(s.order, href)
	if err := s.writeBack(ctx); err != nil {
		return nil, err
	}
	return &interfaces.UploadResult{Href: href, Etag: hash}, nil
}

func (s *SingleFileStorage) Update(ctx context.Context, href string, item *interfaces.Item, etag string) (string, error) {
	if err := s.ensureLoaded(); err != nil {
		return "", err
	}
	c, ok := s.items[href]
	if !ok {
		return "", interfaces.ItemNotFound(href)
	}
	if c.hash != etag {
		return "", interfaces.WrongEtag(href)
	}
	hash, err := item.Hash()
	if err != nil {
		return "", err
	}

	s.items[href] = &cachedItem{item: item, hash: hash}
	if err := s.writeBack(ctx); err != nil {
		return "", err
	}
	return hash, nil
}

func (s *SingleFileStorage) Delete(ctx context.Context, href string, etag string) error {
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	c, ok := s.items[href]
	if !ok {
		return interfaces.ItemNotFound(href)
	}
	if c.hash != etag {
		return interfaces.WrongEtag(href)
	}

	delete(s.items, href)
	s.order = removeString(s.order, href)
	return s.writeBack(ctx)
}

func (s *SingleFileStorage) Buffered() {
	s.buffered = true
}

func (s *SingleFileStorage) writeBack(ctx context.Context) error {
	s.dirty = true
	if s.buffered {
		return nil
	}
	return s.Flush(ctx)
}

// Flush writes the cached collection back. On failure the file keeps its
// previous content and the cache is dropped, so the next call re-reads it.
func (s *SingleFileStorage) Flush(ctx context.Context) error {
	if !s.dirty {
		return nil
	}

	items := make([]*interfaces.Item, 0, len(s.order))
	for _, href := range s.order {
		items = append(items, s.items[href].item)
	}
	mtime := s.mtime

	// the cache is consumed either way
	s.loaded, s.dirty = false, false
	s.items, s.order = nil, nil

	content, err := interfaces.JoinCollection(items)
	if err != nil {
		return err
	}

	fi, err := os.Stat(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat %s: %w", s.path, err)
	}
	if err != nil || !fi.ModTime().Equal(mtime) {
		return interfaces.MtimeMismatch(s.path)
	}

	if err := atomicWriteFile(s.path, []byte(content), fi.Mode().Perm()); err != nil {
		return err
	}

	s.log.Debug("Wrote collection file",
		slog.String("path", s.path),
		slog.Int("items", len(items)))
	return nil
}

// atomicWriteFile replaces path with data through a temporary file in the
// same directory.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmp := f.Name()

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp, perm)
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
