package discovery

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/pim-storage/interfaces"
	"github.com/ruteri/pim-storage/storage"
	"github.com/ruteri/pim-storage/storage/dav/davtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDiscoverer() *Discoverer {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestDiscoverFilesystem(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "work"), 0o755))

	out, err := newDiscoverer().Discover(context.Background(), interfaces.KindFilesystem,
		mustJSON(t, map[string]any{"path": root, "fileext": ".ics"}))
	require.NoError(t, err)

	var configs []interfaces.FilesystemConfig
	require.NoError(t, json.Unmarshal(out, &configs))
	require.Len(t, configs, 1)
	assert.Equal(t, filepath.Join(root, "work"), configs[0].Path)
	assert.Equal(t, "work", interfaces.CollectionName(configs[0].Collection))

	// the result feeds straight into the factory
	s, err := storage.NewStorageFactory(nil, false).StorageForJSON(interfaces.KindFilesystem, mustJSON(t, configs[0]))
	require.NoError(t, err)
	assert.Equal(t, interfaces.KindFilesystem, s.Kind())
}

func TestDiscoverNothingIsEmptyArray(t *testing.T) {
	out, err := newDiscoverer().Discover(context.Background(), interfaces.KindFilesystem,
		mustJSON(t, map[string]any{"path": filepath.Join(t.TempDir(), "missing"), "fileext": ".ics"}))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(out))
}

func TestDiscoverCaldav(t *testing.T) {
	srv := davtest.New()
	t.Cleanup(srv.Close)
	srv.AddCollection("/dav/user/work/", davtest.KindCalendar)
	srv.AddCollection("/dav/user/contacts/", davtest.KindAddressbook)

	out, err := newDiscoverer().Discover(context.Background(), interfaces.KindCaldav,
		[]byte(`{"url": "`+srv.URL+`", "username": "user", "password": "secret", "start_date": "2024-01-01T00:00:00Z", "end_date": "2024-02-01T00:00:00Z"}`))
	require.NoError(t, err)

	var configs []interfaces.CaldavConfig
	require.NoError(t, json.Unmarshal(out, &configs))
	require.Len(t, configs, 1)
	assert.Equal(t, srv.URLFor("/dav/user/work/"), configs[0].URL)
	assert.Equal(t, "secret", configs[0].Password)
	require.NotNil(t, configs[0].StartDate)
	assert.Equal(t, 2024, configs[0].StartDate.Year())
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	d := newDiscoverer()

	root := t.TempDir()
	out, err := d.Create(ctx, interfaces.KindSingleFile,
		mustJSON(t, map[string]any{"path": filepath.Join(root, "%s.vcf"), "collection": "friends"}))
	require.NoError(t, err)

	var sf interfaces.SingleFileConfig
	require.NoError(t, json.Unmarshal(out, &sf))
	assert.Equal(t, filepath.Join(root, "friends.vcf"), sf.Path)
	assert.FileExists(t, sf.Path)

	srv := davtest.New()
	t.Cleanup(srv.Close)
	out, err = d.Create(ctx, interfaces.KindCarddav, []byte(`{"url": "`+srv.URL+`", "collection": "friends"}`))
	require.NoError(t, err)

	var dc interfaces.DavConfig
	require.NoError(t, json.Unmarshal(out, &dc))
	assert.Equal(t, srv.URLFor("/dav/user/friends/"), dc.URL)
	c, ok := srv.Collection("/dav/user/friends/")
	require.True(t, ok)
	assert.Equal(t, davtest.KindAddressbook, c.Kind)
}

func TestDiscoveryErrors(t *testing.T) {
	ctx := context.Background()
	d := newDiscoverer()

	tests := []struct {
		name    string
		kind    interfaces.StorageKind
		config  string
		create  bool
		wantErr error
	}{
		{"unknown kind", "gopher", `{}`, false, interfaces.ErrBadDiscoveryConfig},
		{"invalid json", interfaces.KindFilesystem, `{"path": `, false, interfaces.ErrBadDiscoveryConfig},
		{"collection given", interfaces.KindFilesystem, `{"path": "/tmp", "collection": "x"}`, false, interfaces.ErrBadDiscoveryConfig},
		{"http discover", interfaces.KindHTTP, `{"url": "https://example.com/feed.ics"}`, false, interfaces.ErrDiscoveryNotPossible},
		{"http create", interfaces.KindHTTP, `{"url": "https://example.com/feed.ics"}`, true, interfaces.ErrDiscoveryNotPossible},
		{"singlefile without placeholder", interfaces.KindSingleFile, `{"path": "/tmp/calendar.ics"}`, false, interfaces.ErrDiscoveryNotPossible},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.create {
				_, err = d.Create(ctx, tt.kind, []byte(tt.config))
			} else {
				_, err = d.Discover(ctx, tt.kind, []byte(tt.config))
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
