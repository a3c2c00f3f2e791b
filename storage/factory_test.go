package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/pim-storage/interfaces"
	"github.com/ruteri/pim-storage/storage/dav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFor(t *testing.T) {
	tests := []struct {
		kind interfaces.StorageKind
		want any
	}{
		{interfaces.KindFilesystem, &interfaces.FilesystemConfig{}},
		{interfaces.KindSingleFile, &interfaces.SingleFileConfig{}},
		{interfaces.KindHTTP, &interfaces.HTTPStorageConfig{}},
		{interfaces.KindCaldav, &interfaces.CaldavConfig{}},
		{interfaces.KindCarddav, &interfaces.DavConfig{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			cfg, err := ConfigFor(tt.kind)
			require.NoError(t, err)
			assert.IsType(t, tt.want, cfg)
		})
	}

	_, err := ConfigFor("gopher")
	assert.ErrorIs(t, err, interfaces.ErrBadCollectionConfig)
}

func TestStorageForJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "calendar.ics")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	fsConfig, err := json.Marshal(map[string]any{"path": dir, "fileext": ".ics"})
	require.NoError(t, err)
	sfConfig, err := json.Marshal(map[string]any{"path": file})
	require.NoError(t, err)

	sf := NewStorageFactory(testLogger(), false)

	s, err := sf.StorageForJSON(interfaces.KindFilesystem, fsConfig)
	require.NoError(t, err)
	assert.IsType(t, &FilesystemStorage{}, s)

	s, err = sf.StorageForJSON(interfaces.KindSingleFile, sfConfig)
	require.NoError(t, err)
	assert.IsType(t, &SingleFileStorage{}, s)

	s, err = sf.StorageForJSON(interfaces.KindHTTP, []byte(`{"url": "https://example.com/feed.ics", "verify": false}`))
	require.NoError(t, err)
	assert.IsType(t, &HTTPStorage{}, s)

	s, err = sf.StorageForJSON(interfaces.KindCarddav, []byte(`{"url": "https://example.com/dav/contacts/"}`))
	require.NoError(t, err)
	assert.IsType(t, &dav.CarddavStorage{}, s)

	s, err = sf.StorageForJSON(interfaces.KindCaldav, []byte(`{"url": "https://example.com/dav/cal/", "item_types": ["VEVENT"]}`))
	require.NoError(t, err)
	assert.IsType(t, &dav.CaldavStorage{}, s)

	instrumented := NewStorageFactory(testLogger(), true)
	s, err = instrumented.StorageForJSON(interfaces.KindFilesystem, fsConfig)
	require.NoError(t, err)
	wrapped, ok := s.(*InstrumentedStorage)
	require.True(t, ok)
	assert.IsType(t, &FilesystemStorage{}, wrapped.Unwrap())
}

func TestStorageForErrors(t *testing.T) {
	sf := NewStorageFactory(nil, false)

	tests := []struct {
		name string
		kind interfaces.StorageKind
		data string
	}{
		{"unknown kind", "gopher", `{}`},
		{"invalid json", interfaces.KindFilesystem, `{`},
		{"wrong field type", interfaces.KindFilesystem, `{"path": 5}`},
		{"missing directory", interfaces.KindFilesystem, `{"path": "/nonexistent/pim", "fileext": ".ics"}`},
		{"bad verify", interfaces.KindHTTP, `{"url": "https://example.com", "verify": 3}`},
		{"bad url", interfaces.KindCarddav, `{"url": "example.com"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sf.StorageForJSON(tt.kind, []byte(tt.data))
			assert.ErrorIs(t, err, interfaces.ErrBadCollectionConfig)
		})
	}

	_, err := sf.StorageFor(interfaces.KindCaldav, &interfaces.DavConfig{URL: "https://example.com/"})
	assert.ErrorIs(t, err, interfaces.ErrBadCollectionConfig)
}
