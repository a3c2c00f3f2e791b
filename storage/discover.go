package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/pim-storage/interfaces"
)

const collectionPlaceholder = "%s"

// DiscoverFilesystem returns one config per subdirectory of cfg.Path.
// Directories starting with a dot are ignored. A missing path has no
// collections.
func DiscoverFilesystem(cfg interfaces.FilesystemConfig) ([]interfaces.FilesystemConfig, error) {
	if cfg.Collection != nil {
		return nil, interfaces.BadDiscoveryConfig("collection argument must not be given when discovering collections")
	}

	entries, err := os.ReadDir(cfg.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", cfg.Path, err)
	}

	var configs []interfaces.FilesystemConfig
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !entry.IsDir() {
			// follow symlinked collections
			fi, err := os.Stat(filepath.Join(cfg.Path, name))
			if err != nil || !fi.IsDir() {
				continue
			}
		}
		c := cfg
		c.Path = filepath.Join(cfg.Path, name)
		c.Collection = &name
		configs = append(configs, c)
	}
	return configs, nil
}

// CreateFilesystem creates the collection directory. With a collection
// name the directory is a child of cfg.Path.
func CreateFilesystem(cfg interfaces.FilesystemConfig) (interfaces.FilesystemConfig, error) {
	if cfg.Collection != nil {
		name := *cfg.Collection
		if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
			return cfg, interfaces.BadDiscoveryConfig(fmt.Sprintf("invalid collection name %q", name))
		}
		cfg.Path = filepath.Join(cfg.Path, name)
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return cfg, fmt.Errorf("failed to create %s: %w", cfg.Path, err)
	}
	return cfg, nil
}

// splitPlaceholder splits a single-file path around its only "%s".
func splitPlaceholder(path string) (string, string, bool) {
	if strings.Count(path, collectionPlaceholder) != 1 {
		return "", "", false
	}
	prefix, suffix, _ := strings.Cut(path, collectionPlaceholder)
	return prefix, suffix, true
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// DiscoverSingleFile returns one config per existing file matching cfg.Path,
// whose single "%s" stands for the collection name.
func DiscoverSingleFile(cfg interfaces.SingleFileConfig) ([]interfaces.SingleFileConfig, error) {
	if cfg.Collection != nil {
		return nil, interfaces.BadDiscoveryConfig("collection argument must not be given when discovering collections")
	}

	// Glob returns cleaned paths, the prefix has to match them
	prefix, suffix, ok := splitPlaceholder(filepath.Clean(cfg.Path))
	if !ok {
		return nil, interfaces.DiscoveryNotPossible(`path must contain exactly one "%s" placeholder`)
	}

	matches, err := filepath.Glob(escapeGlob(prefix) + "*" + escapeGlob(suffix))
	if err != nil {
		return nil, fmt.Errorf("failed to search collections: %w", err)
	}

	var configs []interfaces.SingleFileConfig
	for _, match := range matches {
		fi, err := os.Stat(match)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		if len(match) <= len(prefix)+len(suffix) ||
			!strings.HasPrefix(match, prefix) || !strings.HasSuffix(match, suffix) {
			continue
		}
		name := match[len(prefix) : len(match)-len(suffix)]
		c := cfg
		c.Path = match
		c.Collection = &name
		configs = append(configs, c)
	}
	return configs, nil
}

// CreateSingleFile substitutes the collection name into cfg.Path and
// creates an empty file if none exists.
func CreateSingleFile(cfg interfaces.SingleFileConfig) (interfaces.SingleFileConfig, error) {
	if cfg.Collection != nil {
		prefix, suffix, ok := splitPlaceholder(cfg.Path)
		if !ok {
			return cfg, interfaces.BadDiscoveryConfig(`path must contain exactly one "%s" placeholder when collection is set`)
		}
		cfg.Path = prefix + *cfg.Collection + suffix
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return cfg, fmt.Errorf("failed to create %s: %w", filepath.Dir(cfg.Path), err)
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return cfg, fmt.Errorf("failed to create %s: %w", cfg.Path, err)
	}
	return cfg, f.Close()
}
