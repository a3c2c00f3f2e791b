package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ruteri/pim-storage/interfaces"
	"github.com/ruteri/pim-storage/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(uid, summary string) string {
	return "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//pim-storage//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:" + uid + "\r\nDTSTAMP:20240101T000000Z\r\nDTSTART:20240102T100000Z\r\nSUMMARY:" + summary + "\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(t *testing.T, s interfaces.Storage) *httptest.Server {
	t.Helper()
	srv, err := New(&HTTPServerConfig{Log: testLogger()}, NewHandler(s, testLogger()))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.getRouter())
	t.Cleanup(ts.Close)
	return ts
}

func serveFilesystem(t *testing.T) *httptest.Server {
	t.Helper()
	s, err := storage.NewFilesystemStorage(interfaces.FilesystemConfig{Path: t.TempDir(), FileExt: ".ics"}, testLogger())
	require.NoError(t, err)
	return serve(t, s)
}

func do(t *testing.T, method, u, body string, header map[string]string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, u, r)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestItemLifecycle(t *testing.T) {
	ts := serveFilesystem(t)
	itemURL := ts.URL + "/items/abc.ics"

	resp := do(t, http.MethodPut, itemURL, event("abc", "First"), map[string]string{"If-None-Match": "*"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/items/abc.ics", resp.Header.Get("Location"))
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	resp = do(t, http.MethodPut, itemURL, event("abc", "Again"), map[string]string{"If-None-Match": "*"})
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/items", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []interfaces.ListingEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "abc.ics", entries[0].Href)
	assert.Equal(t, etag, quoteEtag(entries[0].Etag))

	resp = do(t, http.MethodGet, itemURL, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, etag, resp.Header.Get("ETag"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/calendar")
	assert.Contains(t, readBody(t, resp), "SUMMARY:First")

	resp = do(t, http.MethodGet, itemURL, "", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)

	resp = do(t, http.MethodPut, itemURL, event("abc", "Second"), map[string]string{"If-Match": etag})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	newEtag := resp.Header.Get("ETag")
	assert.NotEqual(t, etag, newEtag)

	resp = do(t, http.MethodPut, itemURL, event("abc", "Stale"), map[string]string{"If-Match": etag})
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/collection", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, "SUMMARY:Second")
	assert.NotContains(t, body, "SUMMARY:Stale")

	resp = do(t, http.MethodDelete, itemURL, "", map[string]string{"If-Match": etag})
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	resp = do(t, http.MethodDelete, itemURL, "", map[string]string{"If-Match": newEtag})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodGet, itemURL, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestErrors(t *testing.T) {
	ts := serveFilesystem(t)
	itemURL := ts.URL + "/items/abc.ics"

	tests := []struct {
		name   string
		method string
		body   string
		header map[string]string
		want   int
	}{
		{"put without precondition", http.MethodPut, event("abc", "x"), nil, http.StatusPreconditionRequired},
		{"put unparseable", http.MethodPut, "garbage", map[string]string{"If-None-Match": "*"}, http.StatusBadRequest},
		{"put invalid utf-8", http.MethodPut, strings.Replace(event("abc", "x"), "SUMMARY:x", "SUMMARY:\xff\xfe", 1), map[string]string{"If-None-Match": "*"}, http.StatusBadRequest},
		{"put unsupported component", http.MethodPut, "BEGIN:VTODO\r\nUID:x\r\nEND:VTODO\r\n", map[string]string{"If-None-Match": "*"}, http.StatusBadRequest},
		{"update missing item", http.MethodPut, event("abc", "x"), map[string]string{"If-Match": `"1"`}, http.StatusNotFound},
		{"delete without precondition", http.MethodDelete, "", nil, http.StatusPreconditionRequired},
		{"delete missing item", http.MethodDelete, "", map[string]string{"If-Match": `"1"`}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, itemURL, tt.body, tt.header)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestEscapedHref(t *testing.T) {
	ts := serveFilesystem(t)

	// the uid is not safe as a file name, so the storage picks the href
	resp := do(t, http.MethodPut, ts.URL+"/items/new", event("a/b", "Slash"), map[string]string{"If-None-Match": "*"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	location := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(location, "/items/"))

	resp = do(t, http.MethodGet, ts.URL+location, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "UID:a/b")

	href, err := url.PathUnescape(strings.TrimPrefix(location, "/items/"))
	require.NoError(t, err)
	resp = do(t, http.MethodGet, ts.URL+"/items/"+url.PathEscape(href), "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadOnlyStorage(t *testing.T) {
	source := serveFilesystem(t)
	resp := do(t, http.MethodPut, source.URL+"/items/abc.ics", event("abc", "Shared"), map[string]string{"If-None-Match": "*"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// an http storage reading the joined collection of the first server
	feed, err := storage.NewHTTPStorage(interfaces.HTTPStorageConfig{URL: source.URL + "/collection", KeepUIDs: true}, testLogger())
	require.NoError(t, err)
	ts := serve(t, feed)

	resp = do(t, http.MethodGet, ts.URL+"/items/abc", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "SUMMARY:Shared")
	etag := resp.Header.Get("ETag")

	resp = do(t, http.MethodPut, ts.URL+"/items/abc", event("abc", "Mine"), map[string]string{"If-Match": etag})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, http.MethodPut, ts.URL+"/items/new", event("new", "Mine"), map[string]string{"If-None-Match": "*"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEmptyCollection(t *testing.T) {
	ts := serveFilesystem(t)

	resp := do(t, http.MethodGet, ts.URL+"/items", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, readBody(t, resp))

	resp = do(t, http.MethodGet, ts.URL+"/collection", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, readBody(t, resp))
}

func TestEtagMatches(t *testing.T) {
	tests := []struct {
		header string
		etag   string
		want   bool
	}{
		{`"1.5;10;42"`, "1.5;10;42", true},
		{`W/"1.5;10;42"`, "1.5;10;42", true},
		{"1.5;10;42", "1.5;10;42", true},
		{`"3"`, `"3"`, true},
		{`"other", "3"`, `"3"`, true},
		{"*", "anything", true},
		{`"2"`, `"3"`, false},
		{`"2"`, "3", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, etagMatches(tt.header, tt.etag), tt.header)
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusPreconditionFailed, statusFor(interfaces.MtimeMismatch("/x")))
	assert.Equal(t, http.StatusForbidden, statusFor(interfaces.ReadOnly()))
	assert.Equal(t, http.StatusInternalServerError, statusFor(interfaces.BadCollectionConfig("x", nil)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.EOF))
	assert.Equal(t, http.StatusBadRequest, statusFor(&RequestError{StatusCode: http.StatusBadRequest, Err: io.EOF}))
}
