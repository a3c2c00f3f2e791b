package dav

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const (
	nsDAV     = "DAV:"
	nsCalDAV  = "urn:ietf:params:xml:ns:caldav"
	nsCardDAV = "urn:ietf:params:xml:ns:carddav"
	nsApple   = "http://apple.com/ns/ical/"
)

type multistatus struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	Responses []xmlResponse `xml:"DAV: response"`
}

type xmlResponse struct {
	Hrefs    []string      `xml:"DAV: href"`
	Status   string        `xml:"DAV: status"`
	Propstat []xmlPropstat `xml:"DAV: propstat"`
}

type xmlPropstat struct {
	Prop   xmlProp `xml:"DAV: prop"`
	Status string  `xml:"DAV: status"`
}

type xmlHref struct {
	Href string `xml:"DAV: href"`
}

type xmlResourceType struct {
	Collection  *struct{} `xml:"DAV: collection"`
	Calendar    *struct{} `xml:"urn:ietf:params:xml:ns:caldav calendar"`
	Addressbook *struct{} `xml:"urn:ietf:params:xml:ns:carddav addressbook"`
}

type xmlProp struct {
	ResourceType         *xmlResourceType `xml:"DAV: resourcetype"`
	ContentType          string           `xml:"DAV: getcontenttype"`
	Etag                 string           `xml:"DAV: getetag"`
	DisplayName          string           `xml:"DAV: displayname"`
	CalendarColor        string           `xml:"http://apple.com/ns/ical/ calendar-color"`
	CurrentUserPrincipal *xmlHref         `xml:"DAV: current-user-principal"`
	CalendarHomeSet      *xmlHref         `xml:"urn:ietf:params:xml:ns:caldav calendar-home-set"`
	AddressbookHomeSet   *xmlHref         `xml:"urn:ietf:params:xml:ns:carddav addressbook-home-set"`
}

// davResponse is one <response> element with the properties of all its
// successful propstats merged.
type davResponse struct {
	Href                 string
	Etag                 string
	ContentType          string
	DisplayName          string
	CalendarColor        string
	CurrentUserPrincipal string
	CalendarHomeSet      string
	AddressbookHomeSet   string
	IsCollection         bool
	IsCalendar           bool
	IsAddressbook        bool
}

// statusOK accepts "HTTP/1.1 200 OK" style status lines. A missing status
// counts as success.
func statusOK(status string) bool {
	fields := strings.Fields(status)
	if len(fields) < 2 {
		return true
	}
	return strings.HasPrefix(fields[1], "2")
}

func parseMultistatus(r io.Reader) ([]davResponse, error) {
	var ms multistatus
	if err := xml.NewDecoder(r).Decode(&ms); err != nil {
		return nil, fmt.Errorf("failed to parse multistatus response: %w", err)
	}

	responses := make([]davResponse, 0, len(ms.Responses))
	for _, xr := range ms.Responses {
		if len(xr.Hrefs) == 0 || !statusOK(xr.Status) {
			continue
		}

		resp := davResponse{Href: strings.TrimSpace(xr.Hrefs[0])}
		for _, ps := range xr.Propstat {
			if !statusOK(ps.Status) {
				continue
			}
			p := ps.Prop
			if rt := p.ResourceType; rt != nil {
				resp.IsCollection = resp.IsCollection || rt.Collection != nil
				resp.IsCalendar = resp.IsCalendar || rt.Calendar != nil
				resp.IsAddressbook = resp.IsAddressbook || rt.Addressbook != nil
			}
			setIfEmpty(&resp.Etag, p.Etag)
			setIfEmpty(&resp.ContentType, p.ContentType)
			setIfEmpty(&resp.DisplayName, p.DisplayName)
			setIfEmpty(&resp.CalendarColor, p.CalendarColor)
			if p.CurrentUserPrincipal != nil {
				setIfEmpty(&resp.CurrentUserPrincipal, p.CurrentUserPrincipal.Href)
			}
			if p.CalendarHomeSet != nil {
				setIfEmpty(&resp.CalendarHomeSet, p.CalendarHomeSet.Href)
			}
			if p.AddressbookHomeSet != nil {
				setIfEmpty(&resp.AddressbookHomeSet, p.AddressbookHomeSet.Href)
			}
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = strings.TrimSpace(v)
	}
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

const propfindListing = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:resourcetype/>
    <D:getcontenttype/>
    <D:getetag/>
  </D:prop>
</D:propfind>`

const propfindPrincipal = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:current-user-principal/>
  </D:prop>
</D:propfind>`

const propfindResourceType = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:resourcetype/>
    <D:displayname/>
  </D:prop>
</D:propfind>`

func propfindHomeSet(ns, name string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:" xmlns:X="%s">
  <D:prop>
    <X:%s/>
  </D:prop>
</D:propfind>`, ns, name)
}

func propfindProp(tag xmlTag) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <%s xmlns="%s"/>
  </D:prop>
</D:propfind>`, tag.name, tag.ns)
}

func proppatchSet(tag xmlTag, value string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<D:propertyupdate xmlns:D="DAV:">
  <D:set>
    <D:prop>
      <%s xmlns="%s">%s</%s>
    </D:prop>
  </D:set>
</D:propertyupdate>`, tag.name, tag.ns, xmlEscape(value), tag.name)
}

func mkcolBody(resourceType xmlTag) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<D:mkcol xmlns:D="DAV:">
  <D:set>
    <D:prop>
      <D:resourcetype>
        <D:collection/>
        <%s xmlns="%s"/>
      </D:resourcetype>
    </D:prop>
  </D:set>
</D:mkcol>`, resourceType.name, resourceType.ns)
}

func calendarQuery(filter string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <D:getcontenttype/>
    <D:getetag/>
  </D:prop>
  <C:filter>%s</C:filter>
</C:calendar-query>`, filter)
}

// xmlTag is an element name in a namespace.
type xmlTag struct {
	name string
	ns   string
}
