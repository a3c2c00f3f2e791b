package dav

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMultistatus(t *testing.T) {
	body := `<?xml version="1.0"?>
<multistatus xmlns="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <response>
    <href>/cal/</href>
    <propstat>
      <prop><resourcetype><collection/><C:calendar/></resourcetype><displayname> Work </displayname></prop>
      <status>HTTP/1.1 200 OK</status>
    </propstat>
    <propstat>
      <prop><getetag/><getcontenttype/></prop>
      <status>HTTP/1.1 404 Not Found</status>
    </propstat>
  </response>
  <response>
    <href>/cal/a.ics</href>
    <propstat>
      <prop><resourcetype/><getetag>"1"</getetag><getcontenttype>text/calendar</getcontenttype></prop>
      <status>HTTP/1.1 200 OK</status>
    </propstat>
  </response>
  <response>
    <href>/cal/gone.ics</href>
    <status>HTTP/1.1 404 Not Found</status>
  </response>
</multistatus>`

	responses, err := parseMultistatus(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, responses, 2)

	assert.Equal(t, "/cal/", responses[0].Href)
	assert.True(t, responses[0].IsCollection)
	assert.True(t, responses[0].IsCalendar)
	assert.False(t, responses[0].IsAddressbook)
	assert.Equal(t, "Work", responses[0].DisplayName)
	assert.Empty(t, responses[0].Etag)

	assert.Equal(t, "/cal/a.ics", responses[1].Href)
	assert.False(t, responses[1].IsCollection)
	assert.Equal(t, `"1"`, responses[1].Etag)
	assert.Equal(t, "text/calendar", responses[1].ContentType)
}

func TestParseMultistatusRejectsGarbage(t *testing.T) {
	_, err := parseMultistatus(strings.NewReader("<html>nope</html>"))
	assert.Error(t, err)
}

func TestProppatchEscapesValue(t *testing.T) {
	body := proppatchSet(tagDisplayName, "Work & <Play>")
	assert.Contains(t, body, "Work &amp; &lt;Play&gt;")
	assert.Contains(t, body, `<displayname xmlns="DAV:">`)
}

func TestQuoteEtag(t *testing.T) {
	for etag, want := range map[string]string{
		`abc`:     `"abc"`,
		`"abc"`:   `"abc"`,
		`W/"abc"`: `W/"abc"`,
	} {
		assert.Equal(t, want, quoteEtag(etag), etag)
	}
}
