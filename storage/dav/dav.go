package dav

import (
	"context"
	"log/slog"

	"github.com/ruteri/pim-storage/interfaces"
)

var (
	tagDisplayName   = xmlTag{name: "displayname", ns: nsDAV}
	tagCalendarColor = xmlTag{name: "calendar-color", ns: nsApple}
)

// collectionType holds what differs between CalDAV and CardDAV.
type collectionType struct {
	service      string
	wellKnown    string
	homeSet      xmlTag
	resourceType xmlTag
	capability   string
	mimetype     string
	contentType  string
	fileExt      string
	metaTags     map[interfaces.MetaKey]xmlTag
}

var caldavType = &collectionType{
	service:      "caldav",
	wellKnown:    "/.well-known/caldav",
	homeSet:      xmlTag{name: "calendar-home-set", ns: nsCalDAV},
	resourceType: xmlTag{name: "calendar", ns: nsCalDAV},
	capability:   "calendar-access",
	mimetype:     "text/calendar",
	contentType:  "text/calendar; charset=utf-8",
	fileExt:      ".ics",
	metaTags: map[interfaces.MetaKey]xmlTag{
		interfaces.MetaDisplayName: tagDisplayName,
		interfaces.MetaColor:       tagCalendarColor,
	},
}

var carddavType = &collectionType{
	service:      "carddav",
	wellKnown:    "/.well-known/carddav",
	homeSet:      xmlTag{name: "addressbook-home-set", ns: nsCardDAV},
	resourceType: xmlTag{name: "addressbook", ns: nsCardDAV},
	capability:   "addressbook",
	mimetype:     "vcard",
	contentType:  "text/vcard; charset=utf-8",
	fileExt:      ".vcf",
	metaTags: map[interfaces.MetaKey]xmlTag{
		interfaces.MetaDisplayName: tagDisplayName,
	},
}

func (ct *collectionType) homeSetHref(r davResponse) string {
	if ct == caldavType {
		return r.CalendarHomeSet
	}
	return r.AddressbookHomeSet
}

func (ct *collectionType) isCollection(r davResponse) bool {
	if ct == caldavType {
		return r.IsCalendar
	}
	return r.IsAddressbook
}

// davStorage implements the operations shared by CalDAV and CardDAV.
//
// Every mutation is sent immediately. Buffered is accepted for interface
// compatibility and Flush has nothing to commit, so a failing request in a
// batch leaves the earlier ones applied.
type davStorage struct {
	session *Session
	ct      *collectionType
	log     *slog.Logger
}

func newDavStorage(cfg interfaces.DavConfig, ct *collectionType, log *slog.Logger) (*davStorage, error) {
	if log == nil {
		log = slog.Default()
	}
	session, err := NewSession(cfg.URL, cfg.HTTPConfig, log)
	if err != nil {
		return nil, err
	}
	return &davStorage{session: session, ct: ct, log: log}, nil
}

func (s *davStorage) Name() string {
	return s.ct.service + "-" + s.session.URL()
}

// Session exposes the underlying conditional HTTP layer.
func (s *davStorage) Session() *Session {
	return s.session
}

func (s *davStorage) Get(ctx context.Context, href string) (*interfaces.GetResult, error) {
	return s.session.Get(ctx, href)
}

func (s *davStorage) Upload(ctx context.Context, item *interfaces.Item) (*interfaces.UploadResult, error) {
	ident, err := item.Ident()
	if err != nil {
		return nil, err
	}
	href, etag, err := s.session.Put(ctx, interfaces.GenerateHref(ident)+s.ct.fileExt, item, s.ct.contentType, "")
	if err != nil {
		return nil, err
	}
	return &interfaces.UploadResult{Href: href, Etag: etag}, nil
}

func (s *davStorage) Update(ctx context.Context, href string, item *interfaces.Item, etag string) (string, error) {
	if _, err := s.session.itemURL(href); err != nil {
		return "", err
	}
	if etag == "" {
		return "", interfaces.WrongEtag(href)
	}
	_, newEtag, err := s.session.Put(ctx, href, item, s.ct.contentType, etag)
	return newEtag, err
}

func (s *davStorage) Delete(ctx context.Context, href string, etag string) error {
	return s.session.Delete(ctx, href, etag)
}

func (s *davStorage) Buffered() {}

func (s *davStorage) Flush(ctx context.Context) error {
	return nil
}

func (s *davStorage) GetMeta(ctx context.Context, key interfaces.MetaKey) (string, error) {
	tag, ok := s.ct.metaTags[key]
	if !ok {
		return "", interfaces.MetadataUnsupported(key)
	}
	return s.session.getProp(ctx, tag)
}

func (s *davStorage) SetMeta(ctx context.Context, key interfaces.MetaKey, value string) error {
	tag, ok := s.ct.metaTags[key]
	if !ok {
		return interfaces.MetadataUnsupported(key)
	}
	return s.session.setProp(ctx, tag, value)
}

func (s *davStorage) DeleteCollection(ctx context.Context) error {
	return s.session.DeleteCollection(ctx)
}
