package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/ruteri/pim-storage/interfaces"
	"github.com/ruteri/pim-storage/storage"
)

type configFile struct {
	Storages map[string]toml.Primitive `toml:"storages"`
}

// StorageEntry is one [storages.<name>] table.
type StorageEntry struct {
	Name   string
	Kind   interfaces.StorageKind
	Config any
}

// JSON encodes the entry's configuration for discovery and creation.
func (e *StorageEntry) JSON() ([]byte, error) {
	return json.Marshal(e.Config)
}

// Config maps storage names to their decoded configurations.
type Config map[string]*StorageEntry

// LoadConfig reads a TOML file of storage tables, each with a type key
// naming the backend:
//
//	[storages.calendar]
//	type = "filesystem"
//	path = "/home/alice/.calendars/personal"
//	fileext = ".ics"
func LoadConfig(path string) (Config, error) {
	var file configFile
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return decodeStorages(md, file)
}

// ParseConfig is LoadConfig for an in-memory document.
func ParseConfig(data string) (Config, error) {
	var file configFile
	md, err := toml.Decode(data, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return decodeStorages(md, file)
}

func decodeStorages(md toml.MetaData, file configFile) (Config, error) {
	cfg := make(Config, len(file.Storages))
	for name, prim := range file.Storages {
		var head struct {
			Type string `toml:"type"`
		}
		if err := md.PrimitiveDecode(prim, &head); err != nil {
			return nil, fmt.Errorf("storage %s: %w", name, err)
		}
		kind, ok := interfaces.ParseStorageKind(head.Type)
		if !ok {
			return nil, fmt.Errorf("storage %s: unknown type %q", name, head.Type)
		}

		sc, err := storage.ConfigFor(kind)
		if err != nil {
			return nil, err
		}
		if err := md.PrimitiveDecode(prim, sc); err != nil {
			return nil, fmt.Errorf("storage %s: %w", name, err)
		}
		cfg[name] = &StorageEntry{Name: name, Kind: kind, Config: sc}
	}
	return cfg, nil
}

// Lookup returns the named storage entry.
func (c Config) Lookup(name string) (*StorageEntry, error) {
	if e, ok := c[name]; ok {
		return e, nil
	}
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}
	sort.Strings(names)
	return nil, fmt.Errorf("no storage named %q, configured: %v", name, names)
}
