// Package davtest provides an in-memory CalDAV/CardDAV server for tests.
package davtest

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

const (
	KindCalendar    = "calendar"
	KindAddressbook = "addressbook"
)

func init() {
	for _, m := range []string{"PROPFIND", "PROPPATCH", "REPORT", "MKCOL"} {
		chi.RegisterMethod(m)
	}
}

// Collection is a calendar or address book on the server.
type Collection struct {
	Kind        string
	DisplayName string
	Color       string
}

type resource struct {
	body        string
	etag        string
	contentType string
}

// Server is a minimal DAV server. Behavior switches must be set before the
// first request.
type Server struct {
	*httptest.Server

	PrincipalPath string
	HomeSetPath   string
	// WellKnownTarget is where /.well-known/* redirects; empty means 404.
	WellKnownTarget string
	DAVHeader       string

	NoPrincipal bool
	NoHomeSet   bool
	OmitGetEtag bool
	OmitPutEtag bool
	// RejectReport answers REPORT with this status when non-zero.
	RejectReport int

	mu          sync.Mutex
	collections map[string]*Collection
	items       map[string]*resource
	requests    []string
	reports     []string
	nextEtag    int
}

// New starts a server with a principal at /principals/user/ and a home set
// at /dav/user/.
func New() *Server {
	s := &Server{
		PrincipalPath: "/principals/user/",
		HomeSetPath:   "/dav/user/",
		DAVHeader:     "1, 2, 3, calendar-access, addressbook",
		collections:   make(map[string]*Collection),
		items:         make(map[string]*resource),
	}

	mux := chi.NewRouter()
	mux.Use(s.record)
	mux.Get("/.well-known/{service}", s.handleWellKnown)
	mux.Get("/*", s.handleGet)
	mux.Head("/*", s.handleGet)
	mux.Put("/*", s.handlePut)
	mux.Delete("/*", s.handleDelete)
	mux.Options("/*", s.handleOptions)
	mux.MethodFunc("PROPFIND", "/*", s.handlePropfind)
	mux.MethodFunc("PROPPATCH", "/*", s.handleProppatch)
	mux.MethodFunc("REPORT", "/*", s.handleReport)
	mux.MethodFunc("MKCOL", "/*", s.handleMkcol)

	s.Server = httptest.NewServer(mux)
	return s
}

// URLFor returns the absolute URL of p.
func (s *Server) URLFor(p string) string {
	return s.URL + p
}

// AddCollection creates a collection at p, which must end with a slash.
func (s *Server) AddCollection(p, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[p] = &Collection{Kind: kind}
}

// Collection returns a copy of the collection at p.
func (s *Server) Collection(p string) (Collection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[p]
	if !ok {
		return Collection{}, false
	}
	return *c, true
}

// PutItem stores an item directly and returns its etag.
func (s *Server) PutItem(p, contentType, body string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(p, contentType, body)
}

// Item returns the stored body and etag at p.
func (s *Server) Item(p string) (string, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[p]
	if !ok {
		return "", "", false
	}
	return r.body, r.etag, true
}

// Requests returns "METHOD /path" for every request served so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Reports returns the bodies of the REPORT requests served so far.
func (s *Server) Reports() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.reports...)
}

func (s *Server) store(p, contentType, body string) string {
	s.nextEtag++
	etag := `"` + strconv.Itoa(s.nextEtag) + `"`
	s.items[p] = &resource{body: body, etag: etag, contentType: contentType}
	return etag
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWellKnown(w http.ResponseWriter, r *http.Request) {
	if s.WellKnownTarget == "" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, s.WellKnownTarget, http.StatusMovedPermanently)
}

func (s *Server) isContainer(p string) bool {
	_, ok := s.collections[p]
	return ok || p == "/" || p == s.PrincipalPath || p == s.HomeSetPath
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := r.URL.Path
	if s.isContainer(p) {
		w.WriteHeader(http.StatusOK)
		return
	}
	res, ok := s.items[p]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !s.OmitGetEtag {
		w.Header().Set("ETag", res.etag)
	}
	w.Header().Set("Content-Type", res.contentType)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = io.WriteString(w, res.body)
	}
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := r.URL.Path
	if _, ok := s.collections[path.Dir(p)+"/"]; !ok {
		w.WriteHeader(http.StatusConflict)
		return
	}

	existing, exists := s.items[p]
	if r.Header.Get("If-None-Match") == "*" && exists {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	if match := r.Header.Get("If-Match"); match != "" && (!exists || existing.etag != match) {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	etag := s.store(p, r.Header.Get("Content-Type"), string(body))
	if !s.OmitPutEtag {
		w.Header().Set("ETag", etag)
	}
	if exists {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := r.URL.Path
	if _, ok := s.collections[p]; ok {
		delete(s.collections, p)
		for itemPath := range s.items {
			if strings.HasPrefix(itemPath, p) {
				delete(s.items, itemPath)
			}
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	res, ok := s.items[p]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if match := r.Header.Get("If-Match"); match != "" && match != res.etag {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	delete(s.items, p)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	if s.DAVHeader != "" {
		w.Header().Set("DAV", s.DAVHeader)
	}
	w.Header().Set("Allow", "OPTIONS, GET, HEAD, PUT, DELETE, PROPFIND, PROPPATCH, REPORT, MKCOL")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMkcol(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()

	p := r.URL.Path
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	if s.isContainer(p) {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	kind := KindAddressbook
	if strings.Contains(string(body), "urn:ietf:params:xml:ns:caldav") {
		kind = KindCalendar
	}
	s.collections[p] = &Collection{Kind: kind}
	w.WriteHeader(http.StatusCreated)
}

type propertyUpdate struct {
	Set []struct {
		Prop struct {
			DisplayName   *string `xml:"DAV: displayname"`
			CalendarColor *string `xml:"http://apple.com/ns/ical/ calendar-color"`
		} `xml:"DAV: prop"`
	} `xml:"DAV: set"`
}

func (s *Server) handleProppatch(w http.ResponseWriter, r *http.Request) {
	var update propertyUpdate
	if err := xml.NewDecoder(r.Body).Decode(&update); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	for _, set := range update.Set {
		if v := set.Prop.DisplayName; v != nil {
			c.DisplayName = *v
		}
		if v := set.Prop.CalendarColor; v != nil {
			c.Color = *v
		}
	}

	writeMultistatus(w, []string{response(r.URL.Path, "")})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports = append(s.reports, string(body))
	if s.RejectReport != 0 {
		w.WriteHeader(s.RejectReport)
		return
	}

	compType := innerCompFilter(string(body))
	var responses []string
	for _, p := range s.children(r.URL.Path) {
		res, ok := s.items[p]
		if !ok {
			continue
		}
		if compType != "" && !strings.Contains(res.body, "BEGIN:"+compType) {
			continue
		}
		responses = append(responses, response(p, itemProps(res)))
	}
	writeMultistatus(w, responses)
}

// innerCompFilter extracts the component named by the nested comp-filter.
func innerCompFilter(body string) string {
	parts := strings.Split(body, `comp-filter name="`)
	if len(parts) < 3 {
		return ""
	}
	name, _, _ := strings.Cut(parts[2], `"`)
	return name
}

func (s *Server) handlePropfind(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := r.URL.Path
	var props string
	switch c, isCollection := s.collections[p]; {
	case isCollection:
		props = s.collectionProps(c)
	case p == "/":
		props = `<D:resourcetype><D:collection/></D:resourcetype>`
		if !s.NoPrincipal {
			props += `<D:current-user-principal><D:href>` + s.PrincipalPath + `</D:href></D:current-user-principal>`
		}
	case p == s.PrincipalPath:
		props = `<D:resourcetype><D:principal/></D:resourcetype>` +
			`<D:current-user-principal><D:href>` + s.PrincipalPath + `</D:href></D:current-user-principal>`
		if !s.NoHomeSet {
			props += `<C:calendar-home-set><D:href>` + s.HomeSetPath + `</D:href></C:calendar-home-set>` +
				`<A:addressbook-home-set><D:href>` + s.HomeSetPath + `</D:href></A:addressbook-home-set>`
		}
	case p == s.HomeSetPath:
		props = `<D:resourcetype><D:collection/></D:resourcetype>`
	default:
		res, ok := s.items[p]
		if !ok {
			http.NotFound(w, r)
			return
		}
		props = itemProps(res)
	}

	responses := []string{response(p, props)}
	if r.Header.Get("Depth") == "1" {
		for _, child := range s.children(p) {
			if c, ok := s.collections[child]; ok {
				responses = append(responses, response(child, s.collectionProps(c)))
			} else {
				responses = append(responses, response(child, itemProps(s.items[child])))
			}
		}
	}
	writeMultistatus(w, responses)
}

func (s *Server) collectionProps(c *Collection) string {
	ns := "C"
	if c.Kind == KindAddressbook {
		ns = "A"
	}
	props := fmt.Sprintf(`<D:resourcetype><D:collection/><%s:%s/></D:resourcetype>`, ns, c.Kind)
	if c.DisplayName != "" {
		props += `<D:displayname>` + escape(c.DisplayName) + `</D:displayname>`
	}
	if c.Color != "" {
		props += `<I:calendar-color>` + escape(c.Color) + `</I:calendar-color>`
	}
	return props
}

func itemProps(res *resource) string {
	return `<D:resourcetype/>` +
		`<D:getetag>` + escape(res.etag) + `</D:getetag>` +
		`<D:getcontenttype>` + escape(res.contentType) + `</D:getcontenttype>`
}

// children returns the direct members of the container at p, sorted.
func (s *Server) children(p string) []string {
	var out []string
	for cp := range s.collections {
		if cp != p && path.Dir(strings.TrimSuffix(cp, "/"))+"/" == p {
			out = append(out, cp)
		}
	}
	for ip := range s.items {
		if path.Dir(ip)+"/" == p {
			out = append(out, ip)
		}
	}
	sort.Strings(out)
	return out
}

func response(href, props string) string {
	var propstat string
	if props != "" {
		propstat = `<D:propstat><D:prop>` + props + `</D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat>`
	}
	return `<D:response><D:href>` + escape(href) + `</D:href>` + propstat + `</D:response>`
}

func writeMultistatus(w http.ResponseWriter, responses []string) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	_, _ = io.WriteString(w, `<?xml version="1.0" encoding="utf-8"?>`+
		`<D:multistatus xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav" `+
		`xmlns:A="urn:ietf:params:xml:ns:carddav" xmlns:I="http://apple.com/ns/ical/">`+
		strings.Join(responses, "")+
		`</D:multistatus>`)
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
