package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruteri/pim-storage/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEvent = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//pim-storage//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:standup\r\nDTSTAMP:20240101T000000Z\r\nDTSTART:20240102T100000Z\r\nSUMMARY:Standup\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

type cliEnv struct {
	t      *testing.T
	config string
	dir    string
}

func newCLIEnv(t *testing.T) *cliEnv {
	dir := t.TempDir()
	cal := filepath.Join(dir, "calendars", "personal")
	require.NoError(t, os.MkdirAll(cal, 0750))

	config := filepath.Join(dir, "pimstorage.toml")
	data := fmt.Sprintf(`
[storages.cal]
type = "filesystem"
path = %q
fileext = ".ics"

[storages.all]
type = "filesystem"
path = %q
fileext = ".ics"

[storages.single]
type = "singlefile"
path = %q
`, cal, filepath.Join(dir, "calendars"), filepath.Join(dir, "single.ics"))
	require.NoError(t, os.WriteFile(config, []byte(data), 0600))

	return &cliEnv{t: t, config: config, dir: dir}
}

func (e *cliEnv) run(args ...string) (string, error) {
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	full := append([]string{"pimstorage", "--config", e.config, "--log-file", filepath.Join(e.dir, "cli.log")}, args...)
	err := app.Run(full)
	return out.String(), err
}

func (e *cliEnv) writeItem(name, content string) string {
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestItemCommands(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("upload", "cal", env.writeItem("event.ics", testEvent))
	require.NoError(t, err)
	fields := strings.Fields(out)
	require.Len(t, fields, 2)
	href, etag := fields[0], fields[1]
	assert.Equal(t, "standup.ics", href)

	out, err = env.run("list", "cal")
	require.NoError(t, err)
	assert.Equal(t, href+"\t"+etag+"\n", out)

	out, err = env.run("get", "cal", href)
	require.NoError(t, err)
	assert.Contains(t, out, "SUMMARY:Standup")

	updated := strings.Replace(testEvent, "SUMMARY:Standup", "SUMMARY:Retro", 1)
	out, err = env.run("update", "cal", href, etag, env.writeItem("updated.ics", updated))
	require.NoError(t, err)
	newEtag := strings.TrimSpace(out)
	assert.NotEqual(t, etag, newEtag)

	_, err = env.run("delete", "cal", href, etag)
	assert.Error(t, err)

	_, err = env.run("delete", "cal", href, newEtag)
	require.NoError(t, err)

	out, err = env.run("list", "cal")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMetaCommand(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("meta", "cal", "displayname", "Personal")
	require.NoError(t, err)

	out, err := env.run("meta", "cal", "displayname")
	require.NoError(t, err)
	assert.Equal(t, "Personal\n", out)
}

func TestDiscoverAndCreate(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("discover", "all")
	require.NoError(t, err)
	var found []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	require.Len(t, found, 1)
	assert.Equal(t, "personal", found[0]["collection"])

	out, err = env.run("create", "single")
	require.NoError(t, err)
	assert.Contains(t, out, "single.ics")
	assert.FileExists(t, filepath.Join(env.dir, "single.ics"))
}

func TestCommandErrors(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("list", "single")
	assert.ErrorIs(t, err, interfaces.ErrBadCollectionConfig)

	env.writeItem("single.ics", "")

	_, err = env.run("list", "nope")
	assert.ErrorContains(t, err, `no storage named "nope"`)

	_, err = env.run("get", "cal")
	assert.ErrorContains(t, err, "expected arguments")

	_, err = env.run("watch", "single")
	assert.ErrorContains(t, err, "watch needs a filesystem storage")

	_, err = env.run("meta", "single", "color")
	assert.ErrorIs(t, err, interfaces.ErrMetadataUnsupported)
}
