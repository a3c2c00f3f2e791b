package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/pim-storage/interfaces"
)

const (
	tmpPrefix    = ".pim-tmp-"
	backupPrefix = ".pim-backup-"

	// maxNameBytes is NAME_MAX on common filesystems.
	maxNameBytes = 255
)

// PostHookError is reported when the post hook exits unsuccessfully. The
// write it followed is already committed.
type PostHookError struct {
	Hook   string
	Path   string
	Output string
	Err    error
}

func (e *PostHookError) Error() string {
	return fmt.Sprintf("post hook %q failed for %s: %v", e.Hook, e.Path, e.Err)
}

func (e *PostHookError) Unwrap() error {
	return e.Err
}

// FilesystemStorage stores each item in its own file inside one directory.
//
// Etags are derived from a single stat of the file (mtime, size and inode).
// Writes go through a temporary file in the same directory which is linked
// (create) or renamed (update) into place, so readers never observe a
// partially written item. The mtime of an href strictly increases with every
// write, which keeps etags from repeating on filesystems with coarse
// timestamps.
//
// In buffered mode mutations are staged as hidden temporary files and
// committed by Flush all-or-nothing: every precondition is re-checked before
// the first rename, replaced files are kept as hard-linked backups while the
// batch is applied, and a failing step restores them. Only a crash in the
// middle of Flush can leave a partial batch behind.
type FilesystemStorage struct {
	path     string
	fileExt  string
	postHook string
	log      *slog.Logger

	onHookFailure func(*PostHookError)

	buffered bool
	staged   map[string]*stagedChange
	order    []string

	// beforeApply runs before each step of a buffered flush.
	beforeApply func(href string) error
}

type stagedChange struct {
	href     string
	delete   bool
	tmpPath  string
	create   bool
	origEtag string
}

// NewFilesystemStorage opens an existing directory as a collection.
func NewFilesystemStorage(cfg interfaces.FilesystemConfig, log *slog.Logger) (*FilesystemStorage, error) {
	if log == nil {
		log = slog.Default()
	}

	if cfg.FileExt == "" {
		return nil, interfaces.BadCollectionConfig("fileext must be set", nil)
	}

	fi, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, interfaces.BadCollectionConfig("collection directory not accessible", err)
	}
	if !fi.IsDir() {
		return nil, interfaces.BadCollectionConfig(cfg.Path+" is not a directory", nil)
	}

	return &FilesystemStorage{
		path:     cfg.Path,
		fileExt:  cfg.FileExt,
		postHook: cfg.PostHook,
		log:      log,
		staged:   make(map[string]*stagedChange),
	}, nil
}

// OnPostHookFailure registers a callback for failed post hook runs.
func (s *FilesystemStorage) OnPostHookFailure(fn func(*PostHookError)) {
	s.onHookFailure = fn
}

// Path returns the collection directory.
func (s *FilesystemStorage) Path() string {
	return s.path
}

func (s *FilesystemStorage) Kind() interfaces.StorageKind {
	return interfaces.KindFilesystem
}

func (s *FilesystemStorage) Name() string {
	return fmt.Sprintf("filesystem-%s", filepath.Base(s.path))
}

func fileEtag(fi os.FileInfo) string {
	mtime := fi.ModTime()
	return fmt.Sprintf("%d.%d;%d", mtime.UnixNano(), fi.Size(), inode(fi))
}

func (s *FilesystemStorage) isItemName(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.HasSuffix(name, s.fileExt)
}

func (s *FilesystemStorage) hrefPath(href string) (string, error) {
	if href == "" || strings.HasPrefix(href, ".") || strings.ContainsAny(href, `/\`) {
		return "", interfaces.ItemNotFound(href)
	}
	return filepath.Join(s.path, href), nil
}

// committed stats the file behind href.
func (s *FilesystemStorage) committed(href string) (os.FileInfo, error) {
	path, err := s.hrefPath(href)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ItemNotFound(href)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return fi, nil
}

// currentEtag returns the etag of href as seen through staged changes.
func (s *FilesystemStorage) currentEtag(href string) (string, error) {
	if c, ok := s.staged[href]; ok && s.buffered {
		if c.delete {
			return "", interfaces.ItemNotFound(href)
		}
		fi, err := os.Stat(c.tmpPath)
		if err != nil {
			return "", fmt.Errorf("staged file for %s vanished: %w", href, err)
		}
		return fileEtag(fi), nil
	}
	fi, err := s.committed(href)
	if err != nil {
		return "", err
	}
	return fileEtag(fi), nil
}

func (s *FilesystemStorage) List(ctx context.Context) (*interfaces.Listing, error) {
	dirEntries, err := os.ReadDir(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection directory: %w", err)
	}

	entries := make([]interfaces.ListingEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if !s.isItemName(name) {
			continue
		}
		if _, ok := s.staged[name]; ok && s.buffered {
			continue
		}
		fi, err := os.Stat(filepath.Join(s.path, name))
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		entries = append(entries, interfaces.ListingEntry{Href: name, Etag: fileEtag(fi)})
	}

	if s.buffered {
		for _, href := range s.order {
			c := s.staged[href]
			if c.delete {
				continue
			}
			fi, err := os.Stat(c.tmpPath)
			if err != nil {
				continue
			}
			entries = append(entries, interfaces.ListingEntry{Href: href, Etag: fileEtag(fi)})
		}
	}

	s.log.Debug("Listed collection",
		slog.String("path", s.path),
		slog.Int("items", len(entries)))

	return interfaces.NewListing(entries), nil
}

func (s *FilesystemStorage) Get(ctx context.Context, href string) (*interfaces.GetResult, error) {
	path, err := s.hrefPath(href)
	if err != nil {
		return nil, err
	}
	if c, ok := s.staged[href]; ok && s.buffered {
		if c.delete {
			return nil, interfaces.ItemNotFound(href)
		}
		path = c.tmpPath
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ItemNotFound(href)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	// stat and read the same open file so the etag matches the content
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	item, err := interfaces.ItemFromRaw(string(data))
	if err != nil {
		return nil, err
	}
	return &interfaces.GetResult{Item: item, Etag: fileEtag(fi)}, nil
}

func (s *FilesystemStorage) newHref(item *interfaces.Item) (string, error) {
	ident, err := item.Ident()
	if err != nil {
		return "", err
	}
	href := interfaces.GenerateHref(ident) + s.fileExt
	if len(href) > maxNameBytes || strings.HasPrefix(href, ".") {
		href = interfaces.RandomHref() + s.fileExt
	}
	return href, nil
}

func (s *FilesystemStorage) Upload(ctx context.Context, item *interfaces.Item) (*interfaces.UploadResult, error) {
	href, err := s.newHref(item)
	if err != nil {
		return nil, err
	}

	if s.buffered {
		return s.stageUpload(href, item)
	}

	tmp, err := s.writeTemp(item.Raw())
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp)

	// link fails if the target exists, unlike rename
	retried := false
	for {
		err = os.Link(tmp, filepath.Join(s.path, href))
		if err == nil {
			break
		}
		if errors.Is(err, fs.ErrExist) {
			return nil, interfaces.ItemAlreadyExisting(href)
		}
		if errors.Is(err, syscall.ENAMETOOLONG) && !retried {
			href = interfaces.RandomHref() + s.fileExt
			retried = true
			continue
		}
		return nil, fmt.Errorf("failed to create %s: %w", href, err)
	}

	path := filepath.Join(s.path, href)
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	s.log.Debug("Uploaded item", slog.String("path", path))
	s.runPostHook(ctx, path)

	return &interfaces.UploadResult{Href: href, Etag: fileEtag(fi)}, nil
}

func (s *FilesystemStorage) Update(ctx context.Context, href string, item *interfaces.Item, etag string) (string, error) {
	if s.buffered {
		return s.stageUpdate(href, item, etag)
	}

	fi, err := s.committed(href)
	if err != nil {
		return "", err
	}
	if fileEtag(fi) != etag {
		return "", interfaces.WrongEtag(href)
	}

	tmp, err := s.writeTemp(item.Raw())
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.path, href)
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to replace %s: %w", path, err)
	}

	newFi, err := ensureNewer(path, fi.ModTime())
	if err != nil {
		return "", err
	}

	s.log.Debug("Updated item", slog.String("path", path))
	s.runPostHook(ctx, path)

	return fileEtag(newFi), nil
}

func (s *FilesystemStorage) Delete(ctx context.Context, href string, etag string) error {
	if s.buffered {
		return s.stageDelete(href, etag)
	}

	fi, err := s.committed(href)
	if err != nil {
		return err
	}
	if fileEtag(fi) != etag {
		return interfaces.WrongEtag(href)
	}

	path := filepath.Join(s.path, href)
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	s.log.Debug("Deleted item", slog.String("path", path))
	return nil
}

func (s *FilesystemStorage) Buffered() {
	s.buffered = true
}

func (s *FilesystemStorage) stageUpload(href string, item *interfaces.Item) (*interfaces.UploadResult, error) {
	c, staged := s.staged[href]
	create := true
	origEtag := ""
	switch {
	case staged && !c.delete:
		return nil, interfaces.ItemAlreadyExisting(href)
	case staged:
		// re-created after a staged delete
		create, origEtag = false, c.origEtag
	default:
		_, err := s.committed(href)
		if err == nil {
			return nil, interfaces.ItemAlreadyExisting(href)
		}
		if !errors.Is(err, interfaces.ErrItemNotFound) {
			return nil, err
		}
	}

	tmp, err := s.writeTemp(item.Raw())
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(tmp)
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}

	if !staged {
		s.order = append(s.order, href)
	}
	s.staged[href] = &stagedChange{href: href, tmpPath: tmp, create: create, origEtag: origEtag}

	return &interfaces.UploadResult{Href: href, Etag: fileEtag(fi)}, nil
}

func (s *FilesystemStorage) stageUpdate(href string, item *interfaces.Item, etag string) (string, error) {
	cur, err := s.currentEtag(href)
	if err != nil {
		return "", err
	}
	if cur != etag {
		return "", interfaces.WrongEtag(href)
	}

	tmp, err := s.writeTemp(item.Raw())
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(tmp)
	if err != nil {
		os.Remove(tmp)
		return "", err
	}

	if c, ok := s.staged[href]; ok {
		os.Remove(c.tmpPath)
		c.tmpPath = tmp
	} else {
		s.order = append(s.order, href)
		s.staged[href] = &stagedChange{href: href, tmpPath: tmp, origEtag: cur}
	}
	return fileEtag(fi), nil
}

func (s *FilesystemStorage) stageDelete(href string, etag string) error {
	cur, err := s.currentEtag(href)
	if err != nil {
		return err
	}
	if cur != etag {
		return interfaces.WrongEtag(href)
	}

	c, ok := s.staged[href]
	switch {
	case ok && c.create:
		os.Remove(c.tmpPath)
		delete(s.staged, href)
		s.order = removeString(s.order, href)
	case ok:
		os.Remove(c.tmpPath)
		c.tmpPath = ""
		c.delete = true
	default:
		s.order = append(s.order, href)
		s.staged[href] = &stagedChange{href: href, delete: true, origEtag: cur}
	}
	return nil
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

type appliedChange struct {
	change *stagedChange
	target string
	backup string
}

// Flush commits the staged batch. On any error the collection is left as
// it was before Flush and the batch is discarded.
func (s *FilesystemStorage) Flush(ctx context.Context) error {
	if !s.buffered || len(s.order) == 0 {
		return nil
	}

	changes := make([]*stagedChange, 0, len(s.order))
	for _, href := range s.order {
		changes = append(changes, s.staged[href])
	}
	s.staged = make(map[string]*stagedChange)
	s.order = nil

	defer func() {
		for _, c := range changes {
			if c.tmpPath != "" {
				os.Remove(c.tmpPath)
			}
		}
	}()

	start := time.Now()

	prevMtime := make(map[string]time.Time, len(changes))
	for _, c := range changes {
		fi, err := s.committed(c.href)
		switch {
		case c.create && err == nil:
			return interfaces.ItemAlreadyExisting(c.href)
		case c.create && errors.Is(err, interfaces.ErrItemNotFound):
			continue
		case err != nil:
			return err
		case fileEtag(fi) != c.origEtag:
			return interfaces.WrongEtag(c.href)
		}
		prevMtime[c.href] = fi.ModTime()
	}

	var done []appliedChange
	rollback := func() {
		for i := len(done) - 1; i >= 0; i-- {
			a := done[i]
			var err error
			if a.backup != "" {
				err = os.Rename(a.backup, a.target)
			} else {
				err = os.Remove(a.target)
			}
			if err != nil {
				s.log.Error("Failed to roll back change", slog.String("path", a.target), "err", err)
			}
		}
	}

	for _, c := range changes {
		if s.beforeApply != nil {
			if err := s.beforeApply(c.href); err != nil {
				rollback()
				return err
			}
		}

		a := appliedChange{change: c, target: filepath.Join(s.path, c.href)}
		if !c.create {
			a.backup = filepath.Join(s.path, backupPrefix+uuid.NewString())
			if err := os.Link(a.target, a.backup); err != nil {
				rollback()
				return fmt.Errorf("failed to back up %s: %w", a.target, err)
			}
		}

		var err error
		if c.delete {
			err = os.Remove(a.target)
		} else {
			err = os.Rename(c.tmpPath, a.target)
		}
		if err != nil {
			if a.backup != "" {
				os.Remove(a.backup)
			}
			rollback()
			return fmt.Errorf("failed to apply change to %s: %w", a.target, err)
		}
		done = append(done, a)
	}

	for _, a := range done {
		if a.backup != "" {
			os.Remove(a.backup)
		}
		if a.change.delete {
			continue
		}
		if prev, ok := prevMtime[a.change.href]; ok {
			if _, err := ensureNewer(a.target, prev); err != nil {
				s.log.Warn("Failed to advance mtime", slog.String("path", a.target), "err", err)
			}
		}
		s.runPostHook(ctx, a.target)
	}

	s.log.Debug("Flushed staged changes",
		slog.String("path", s.path),
		slog.Int("changes", len(done)),
		slog.Duration("duration", time.Since(start)))

	return nil
}

func (s *FilesystemStorage) writeTemp(content string) (string, error) {
	f, err := os.CreateTemp(s.path, tmpPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	name := f.Name()

	_, err = f.WriteString(content)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(name, 0644)
	}
	if err != nil {
		os.Remove(name)
		return "", fmt.Errorf("failed to write temporary file: %w", err)
	}
	return name, nil
}

// ensureNewer makes the mtime of path later than prev.
func ensureNewer(path string, prev time.Time) (os.FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	for _, step := range []time.Duration{time.Microsecond, time.Millisecond, time.Second} {
		if fi.ModTime().After(prev) {
			return fi, nil
		}
		t := prev.Add(step)
		if err := os.Chtimes(path, t, t); err != nil {
			return nil, fmt.Errorf("failed to set mtime of %s: %w", path, err)
		}
		if fi, err = os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}
	return fi, nil
}

func (s *FilesystemStorage) runPostHook(ctx context.Context, path string) {
	if s.postHook == "" {
		return
	}

	out, err := exec.CommandContext(ctx, s.postHook, path).CombinedOutput()
	if err == nil {
		return
	}

	s.log.Warn("Post hook failed",
		slog.String("hook", s.postHook),
		slog.String("path", path),
		"err", err)

	if s.onHookFailure != nil {
		s.onHookFailure(&PostHookError{Hook: s.postHook, Path: path, Output: string(out), Err: err})
	}
}

func (s *FilesystemStorage) metaPath(key interfaces.MetaKey) (string, error) {
	switch key {
	case interfaces.MetaDisplayName, interfaces.MetaColor:
		return filepath.Join(s.path, string(key)), nil
	default:
		return "", interfaces.MetadataUnsupported(key)
	}
}

// GetMeta reads a metadata file from the collection directory.
func (s *FilesystemStorage) GetMeta(ctx context.Context, key interfaces.MetaKey) (string, error) {
	path, err := s.metaPath(key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SetMeta atomically replaces a metadata file.
func (s *FilesystemStorage) SetMeta(ctx context.Context, key interfaces.MetaKey, value string) error {
	path, err := s.metaPath(key)
	if err != nil {
		return err
	}
	tmp, err := s.writeTemp(value)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// DeleteCollection removes the collection directory and everything in it.
func (s *FilesystemStorage) DeleteCollection(ctx context.Context) error {
	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("failed to remove collection: %w", err)
	}
	s.log.Info("Deleted collection", slog.String("path", s.path))
	return nil
}
