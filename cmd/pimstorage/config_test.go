package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/pim-storage/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[storages.cal]
type = "filesystem"
path = "/var/lib/calendars/personal"
fileext = ".ics"
post_hook = "/usr/local/bin/notify"

[storages.single]
type = "singlefile"
path = "/var/lib/calendars/%s.ics"

[storages.feed]
type = "http"
url = "https://example.com/holidays.ics"
keep_uids = true
verify_fingerprint = "94:FD:7A:CB:50:75:A4:69:82:0A:F8:23:DF:07:FC:69:3E:16:E3:A4"

[storages.remote]
type = "caldav"
url = "https://dav.example.com/"
username = "alice"
password = "secret"
verify = false
start_date = 2024-01-01T00:00:00Z
end_date = 2024-12-31T00:00:00Z
item_types = ["VEVENT"]

[storages.book]
type = "carddav"
url = "https://dav.example.com/"
verify = "/etc/ssl/private-ca.pem"
collection = "contacts"
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(sampleConfig)
	require.NoError(t, err)
	require.Len(t, cfg, 5)

	fs, err := cfg.Lookup("cal")
	require.NoError(t, err)
	assert.Equal(t, interfaces.KindFilesystem, fs.Kind)
	assert.Equal(t, &interfaces.FilesystemConfig{
		Path:     "/var/lib/calendars/personal",
		FileExt:  ".ics",
		PostHook: "/usr/local/bin/notify",
	}, fs.Config)

	single, err := cfg.Lookup("single")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/calendars/%s.ics", single.Config.(*interfaces.SingleFileConfig).Path)

	feed, err := cfg.Lookup("feed")
	require.NoError(t, err)
	hc := feed.Config.(*interfaces.HTTPStorageConfig)
	assert.True(t, hc.KeepUIDs)
	assert.Equal(t, "https://example.com/holidays.ics", hc.URL)
	assert.NotEmpty(t, hc.VerifyFingerprint)

	remote, err := cfg.Lookup("remote")
	require.NoError(t, err)
	cc := remote.Config.(*interfaces.CaldavConfig)
	assert.Equal(t, "https://dav.example.com/", cc.URL)
	assert.Equal(t, "alice", cc.Username)
	assert.True(t, cc.Verify.Insecure)
	require.NotNil(t, cc.StartDate)
	require.NotNil(t, cc.EndDate)
	assert.True(t, cc.StartDate.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, []string{"VEVENT"}, cc.ItemTypes)

	book, err := cfg.Lookup("book")
	require.NoError(t, err)
	dc := book.Config.(*interfaces.DavConfig)
	assert.Equal(t, "/etc/ssl/private-ca.pem", dc.Verify.CAPath)
	assert.Equal(t, "contacts", interfaces.CollectionName(dc.Collection))

	_, err = cfg.Lookup("missing")
	assert.ErrorContains(t, err, `no storage named "missing"`)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing type", "[storages.x]\npath = \"/tmp\"\n"},
		{"unknown type", "[storages.x]\ntype = \"ftp\"\n"},
		{"bad verify", "[storages.x]\ntype = \"http\"\nurl = \"https://example.com\"\nverify = 3\n"},
		{"invalid toml", "[storages.x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pimstorage.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg, 5)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
