package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ruteri/pim-storage/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoEvents = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//pim-storage//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:one\r\nDTSTAMP:20240101T000000Z\r\nDTSTART:20240102T100000Z\r\nSUMMARY:One\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:two\r\nDTSTAMP:20240101T000000Z\r\nDTSTART:20240103T100000Z\r\nSUMMARY:Two\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func singleFileWith(t *testing.T, name, content string) *SingleFileStorage {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	s, err := NewSingleFileStorage(interfaces.SingleFileConfig{Path: path}, testLogger())
	require.NoError(t, err)
	return s
}

func TestNewSingleFileStorage(t *testing.T) {
	dir := t.TempDir()

	_, err := NewSingleFileStorage(interfaces.SingleFileConfig{Path: filepath.Join(dir, "missing.ics")}, testLogger())
	assert.ErrorIs(t, err, interfaces.ErrBadCollectionConfig)

	_, err = NewSingleFileStorage(interfaces.SingleFileConfig{Path: dir}, testLogger())
	assert.ErrorIs(t, err, interfaces.ErrBadCollectionConfig)
}

func TestSingleFileListSplitsCollection(t *testing.T) {
	ctx := context.Background()
	s := singleFileWith(t, "calendar.ics", twoEvents)
	assert.Equal(t, interfaces.KindSingleFile, s.Kind())
	assert.Equal(t, "singlefile-calendar.ics", s.Name())

	listing, err := s.List(ctx)
	require.NoError(t, err)
	entries := listing.Collect()
	require.Len(t, entries, 2)
	assert.Equal(t, "one", entries[0].Href)
	assert.Equal(t, "two", entries[1].Href)

	got, err := s.Get(ctx, "two")
	require.NoError(t, err)
	assert.Equal(t, entries[1].Etag, got.Etag)
	assert.Contains(t, got.Item.Raw(), "SUMMARY:Two")

	hash, err := got.Item.Hash()
	require.NoError(t, err)
	assert.Equal(t, hash, got.Etag)
}

func TestSingleFileWritesWholeCollection(t *testing.T) {
	ctx := context.Background()
	s := singleFileWith(t, "contacts.vcf", cardRaw("a", "Alice")+cardRaw("b", "Bob"))

	_, err := s.Upload(ctx, mustItem(t, cardRaw("c", "Carol")))
	require.NoError(t, err)

	data, err := os.ReadFile(s.path)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "BEGIN:VADDRESSBOOK"))
	for _, name := range []string{"FN:Alice", "FN:Bob", "FN:Carol"} {
		assert.Contains(t, content, name)
	}

	listing, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listing.Collect(), 3)
}

func TestSingleFileMtimeMismatch(t *testing.T) {
	ctx := context.Background()
	s := singleFileWith(t, "calendar.ics", twoEvents)

	_, err := s.List(ctx)
	require.NoError(t, err)

	// another process rewrites the file after it was read
	external := strings.Replace(twoEvents, "SUMMARY:Two", "SUMMARY:Changed", 1)
	require.NoError(t, os.WriteFile(s.path, []byte(external), 0o644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(s.path, later, later))

	_, err = s.Upload(ctx, mustItem(t, eventRaw("three", "Three")))
	assert.ErrorIs(t, err, interfaces.ErrMtimeMismatch)

	data, err := os.ReadFile(s.path)
	require.NoError(t, err)
	assert.Equal(t, external, string(data))

	// the next operation starts from the current file
	_, err = s.Upload(ctx, mustItem(t, eventRaw("three", "Three")))
	require.NoError(t, err)
	data, err = os.ReadFile(s.path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "SUMMARY:Changed")
	assert.Contains(t, string(data), "SUMMARY:Three")
}

func TestSingleFileBufferedWritesOnFlush(t *testing.T) {
	ctx := context.Background()
	s := singleFileWith(t, "calendar.ics", twoEvents)
	s.Buffered()

	_, err := s.Upload(ctx, mustItem(t, eventRaw("three", "Three")))
	require.NoError(t, err)
	listing, err := s.List(ctx)
	require.NoError(t, err)
	entries := listing.Collect()
	require.Len(t, entries, 3)
	require.NoError(t, s.Delete(ctx, "one", entries[0].Etag))

	data, err := os.ReadFile(s.path)
	require.NoError(t, err)
	assert.Equal(t, twoEvents, string(data))

	require.NoError(t, s.Flush(ctx))
	data, err = os.ReadFile(s.path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "UID:one")
	assert.Contains(t, string(data), "UID:three")
}

func TestSingleFileErrors(t *testing.T) {
	ctx := context.Background()
	s := singleFileWith(t, "calendar.ics", twoEvents)

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrItemNotFound)
	_, err = s.Update(ctx, "missing", mustItem(t, eventRaw("missing", "x")), "etag")
	assert.ErrorIs(t, err, interfaces.ErrItemNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "one", "stale"), interfaces.ErrWrongEtag)

	broken := singleFileWith(t, "broken.ics", "BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\n")
	_, err = broken.List(ctx)
	assert.ErrorIs(t, err, interfaces.ErrItemUnparseable)
}

func TestSingleFileEtagSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	s := newSingleFile(t)

	up, err := s.Upload(ctx, mustItem(t, zonedEventRaw("abc", "Planning")))
	require.NoError(t, err)

	reopened, err := NewSingleFileStorage(interfaces.SingleFileConfig{Path: s.path}, testLogger())
	require.NoError(t, err)

	got, err := reopened.Get(ctx, up.Href)
	require.NoError(t, err)
	assert.Equal(t, up.Etag, got.Etag)
	assert.Contains(t, got.Item.Raw(), "CALSCALE:GREGORIAN")
	assert.Contains(t, got.Item.Raw(), "X-WR-TIMEZONE:Europe/Berlin")

	etag, err := reopened.Update(ctx, up.Href, mustItem(t, zonedEventRaw("abc", "Review")), up.Etag)
	require.NoError(t, err)

	got, err = s.Get(ctx, up.Href)
	require.NoError(t, err)
	assert.Equal(t, etag, got.Etag)
}

func TestSingleFileKeepsCompanionComponents(t *testing.T) {
	ctx := context.Background()
	s := newSingleFile(t)

	withFreebusy := strings.Replace(eventRaw("busy", "Blocked"), "END:VCALENDAR",
		"BEGIN:VFREEBUSY\r\nDTSTAMP:20240101T000000Z\r\nFREEBUSY:20240102T100000Z/PT1H\r\nEND:VFREEBUSY\r\nEND:VCALENDAR", 1)
	up, err := s.Upload(ctx, mustItem(t, withFreebusy))
	require.NoError(t, err)
	_, err = s.Upload(ctx, mustItem(t, eventRaw("plain", "Lunch")))
	require.NoError(t, err)

	listing, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listing.Collect(), 2)

	got, err := s.Get(ctx, up.Href)
	require.NoError(t, err)
	assert.Equal(t, up.Etag, got.Etag)
	assert.Contains(t, got.Item.Raw(), "BEGIN:VFREEBUSY")
}
