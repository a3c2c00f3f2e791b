package dav

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ruteri/pim-storage/interfaces"
	"github.com/ruteri/pim-storage/transport"
)

const (
	MethodPropfind  = "PROPFIND"
	MethodProppatch = "PROPPATCH"
	MethodReport    = "REPORT"
	MethodMkcol     = "MKCOL"
)

// Session is the conditional HTTP layer under the DAV storages. Item hrefs
// are absolute URL paths on the collection's server.
type Session struct {
	base   *url.URL
	client *transport.Client
	log    *slog.Logger
}

// NewSession prepares requests against the collection at rawURL. A trailing
// slash is added so relative hrefs resolve inside the collection.
func NewSession(rawURL string, cfg interfaces.HTTPConfig, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}

	base, err := parseBaseURL(rawURL)
	if err != nil {
		return nil, err
	}

	client, err := transport.New(cfg, log)
	if err != nil {
		return nil, err
	}

	return &Session{base: base, client: client, log: log}, nil
}

func parseBaseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, interfaces.BadCollectionConfig(fmt.Sprintf("invalid url %q", rawURL), err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawPath = ""
	return u, nil
}

// URL returns the collection URL.
func (s *Session) URL() string {
	return s.base.String()
}

func (s *Session) resolve(href string) (*url.URL, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return nil, interfaces.ItemNotFound(href)
	}
	return s.base.ResolveReference(ref), nil
}

// itemURL resolves an href handed out by List or Put. Anything that is not
// already the absolute path of the resolved URL is unknown.
func (s *Session) itemURL(href string) (*url.URL, error) {
	u, err := s.resolve(href)
	if err != nil {
		return nil, err
	}
	if u.Path != href {
		return nil, interfaces.ItemNotFound(href)
	}
	return u, nil
}

func (s *Session) request(ctx context.Context, method string, u *url.URL, body string, header http.Header) (*http.Response, error) {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := s.client.NewRequest(ctx, method, u.String(), r)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return s.client.Do(req)
}

func (s *Session) propfind(ctx context.Context, u *url.URL, depth, body string) ([]davResponse, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/xml; charset=utf-8")
	header.Set("Depth", depth)

	resp, err := s.request(ctx, MethodPropfind, u, body, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return parseMultistatus(resp.Body)
}

func (s *Session) report(ctx context.Context, u *url.URL, body string) ([]davResponse, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/xml; charset=utf-8")
	header.Set("Depth", "1")

	resp, err := s.request(ctx, MethodReport, u, body, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return parseMultistatus(resp.Body)
}

// List returns the items of the collection whose content type contains
// mimetype. Subcollections and entries without an etag are skipped.
func (s *Session) List(ctx context.Context, mimetype string) ([]interfaces.ListingEntry, error) {
	responses, err := s.propfind(ctx, s.base, "1", propfindListing)
	if err != nil {
		return nil, err
	}
	return s.listingEntries(responses, mimetype), nil
}

func (s *Session) listingEntries(responses []davResponse, mimetype string) []interfaces.ListingEntry {
	seen := make(map[string]struct{}, len(responses))
	entries := make([]interfaces.ListingEntry, 0, len(responses))
	for _, r := range responses {
		if r.IsCollection || r.IsCalendar || r.IsAddressbook {
			continue
		}
		if !strings.Contains(r.ContentType, mimetype) || r.Etag == "" {
			continue
		}
		u, err := s.resolve(r.Href)
		if err != nil {
			continue
		}
		if _, dup := seen[u.Path]; dup {
			continue
		}
		seen[u.Path] = struct{}{}
		entries = append(entries, interfaces.ListingEntry{Href: u.Path, Etag: r.Etag})
	}
	return entries
}

// Get fetches one item. The server must send an ETag.
func (s *Session) Get(ctx context.Context, href string) (*interfaces.GetResult, error) {
	u, err := s.itemURL(href)
	if err != nil {
		return nil, err
	}

	body, resp, err := s.client.Get(ctx, u.String())
	if err != nil {
		return nil, mapStatus(err, href, false)
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return nil, &interfaces.DavError{Kind: interfaces.KindEtagNotFound, URL: u.String()}
	}

	item, err := interfaces.ItemFromRaw(string(body))
	if err != nil {
		return nil, err
	}
	return &interfaces.GetResult{Item: item, Etag: etag}, nil
}

// Put stores item at href. An empty etag creates the resource with
// If-None-Match: *, otherwise the update is conditional on If-Match.
// It returns the final href and the new etag.
func (s *Session) Put(ctx context.Context, href string, item *interfaces.Item, contentType, etag string) (string, string, error) {
	u, err := s.resolve(href)
	if err != nil {
		return "", "", err
	}

	create := etag == ""
	header := http.Header{}
	header.Set("Content-Type", contentType)
	if create {
		header.Set("If-None-Match", "*")
	} else {
		header.Set("If-Match", quoteEtag(etag))
	}

	resp, err := s.request(ctx, http.MethodPut, u, item.Raw(), header)
	if err != nil {
		return "", "", mapStatus(err, u.Path, create)
	}
	resp.Body.Close()

	finalURL := resp.Request.URL
	newEtag := resp.Header.Get("ETag")
	if newEtag == "" {
		// Servers that transform the body may not send a validator on PUT.
		newEtag, err = s.head(ctx, finalURL)
		if err != nil {
			return "", "", err
		}
	}

	s.log.Debug("Stored item",
		slog.String("href", finalURL.Path),
		slog.Bool("create", create))
	return finalURL.Path, newEtag, nil
}

func (s *Session) head(ctx context.Context, u *url.URL) (string, error) {
	resp, err := s.request(ctx, http.MethodHead, u, "", nil)
	if err != nil {
		return "", mapStatus(err, u.Path, false)
	}
	resp.Body.Close()

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", &interfaces.DavError{Kind: interfaces.KindEtagNotFound, URL: u.String()}
	}
	return etag, nil
}

// Delete removes the item at href if its etag still matches.
func (s *Session) Delete(ctx context.Context, href, etag string) error {
	u, err := s.itemURL(href)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("If-Match", quoteEtag(etag))

	resp, err := s.request(ctx, http.MethodDelete, u, "", header)
	if err != nil {
		return mapStatus(err, href, false)
	}
	resp.Body.Close()
	return nil
}

// DeleteCollection removes the whole collection.
func (s *Session) DeleteCollection(ctx context.Context) error {
	resp, err := s.request(ctx, http.MethodDelete, s.base, "", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (s *Session) getProp(ctx context.Context, tag xmlTag) (string, error) {
	responses, err := s.propfind(ctx, s.base, "0", propfindProp(tag))
	if err != nil {
		return "", err
	}
	for _, r := range responses {
		var v string
		switch tag {
		case tagDisplayName:
			v = r.DisplayName
		case tagCalendarColor:
			v = r.CalendarColor
		}
		if v != "" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", nil
}

func (s *Session) setProp(ctx context.Context, tag xmlTag, value string) error {
	header := http.Header{}
	header.Set("Content-Type", "application/xml; charset=utf-8")

	resp, err := s.request(ctx, MethodProppatch, s.base, proppatchSet(tag, strings.TrimSpace(value)), header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// A 207 may still carry a failed propstat for the property.
	if resp.StatusCode == http.StatusMultiStatus {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read PROPPATCH response: %w", err)
		}
		if err := checkPropstat(body); err != nil {
			return err
		}
	}
	return nil
}

func checkPropstat(body []byte) error {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return fmt.Errorf("failed to parse PROPPATCH response: %w", err)
	}
	for _, r := range ms.Responses {
		for _, ps := range r.Propstat {
			if !statusOK(ps.Status) {
				return fmt.Errorf("server rejected property update: %s", strings.TrimSpace(ps.Status))
			}
		}
	}
	return nil
}

// quoteEtag quotes a bare etag. Quoted and weak etags pass unchanged.
func quoteEtag(etag string) string {
	if strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, `W/"`) {
		return etag
	}
	return `"` + etag + `"`
}

// mapStatus turns precondition and lookup failures into storage errors,
// keeping the HTTP error as the cause.
func mapStatus(err error, href string, create bool) error {
	var se *transport.StatusError
	if !errors.As(err, &se) {
		return err
	}

	var mapped *interfaces.Error
	switch se.StatusCode {
	case http.StatusPreconditionFailed:
		if create {
			mapped = interfaces.ItemAlreadyExisting(href)
		} else {
			mapped = interfaces.WrongEtag(href)
		}
	case http.StatusConflict:
		mapped = interfaces.WrongEtag(href)
	case http.StatusNotFound:
		mapped = interfaces.ItemNotFound(href)
	default:
		return err
	}
	mapped.Err = err
	return mapped
}
