package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/pim-storage/interfaces"
)

const (
	// maxBodySize is the maximum allowed item size (1MB).
	maxBodySize = 1024 * 1024

	contentTypeCalendar = "text/calendar; charset=utf-8"
	contentTypeVcard    = "text/vcard; charset=utf-8"
)

// RequestError carries the HTTP status an error is reported with.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// statusFor maps storage errors to HTTP status codes.
func statusFor(err error) int {
	var re *RequestError
	if errors.As(err, &re) {
		return re.StatusCode
	}

	var se *interfaces.Error
	if !errors.As(err, &se) {
		return http.StatusInternalServerError
	}
	switch se.Kind {
	case interfaces.KindItemNotFound:
		return http.StatusNotFound
	case interfaces.KindWrongEtag, interfaces.KindItemAlreadyExisting, interfaces.KindMtimeMismatch:
		return http.StatusPreconditionFailed
	case interfaces.KindReadOnly:
		return http.StatusForbidden
	case interfaces.KindItemUnparseable, interfaces.KindUnexpectedVobject,
		interfaces.KindUnsupportedVobject, interfaces.KindUnexpectedVobjectVersion:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Handler serves one storage as a collection over HTTP.
type Handler struct {
	// Storage implementations are not safe for concurrent use.
	mu      sync.Mutex
	storage interfaces.Storage
	log     *slog.Logger
}

func NewHandler(storage interfaces.Storage, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{storage: storage, log: log}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", slog.String("path", r.URL.Path), "err", err)
		http.Error(w, "Internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

// quoteEtag turns a storage etag into an entity tag. DAV etags are
// already quoted.
func quoteEtag(etag string) string {
	if strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, `W/"`) {
		return etag
	}
	return `"` + etag + `"`
}

// etagMatches compares an If-Match or If-None-Match value with a storage
// etag, ignoring weakness and quoting.
func etagMatches(header, etag string) bool {
	for _, v := range strings.Split(header, ",") {
		v = strings.TrimSpace(v)
		if v == "*" || v == etag || v == quoteEtag(etag) ||
			strings.TrimPrefix(v, "W/") == quoteEtag(etag) ||
			strings.Trim(v, `"`) == etag {
			return true
		}
	}
	return false
}

// matchedEtag returns the storage etag of href if it satisfies ifMatch.
func (h *Handler) matchedEtag(ctx context.Context, href, ifMatch string) (string, error) {
	res, err := h.storage.Get(ctx, href)
	if err != nil {
		return "", err
	}
	if !etagMatches(ifMatch, res.Etag) {
		return "", interfaces.WrongEtag(href)
	}
	return res.Etag, nil
}

func hrefParam(r *http.Request) (string, error) {
	href, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || href == "" {
		return "", &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid href %q", chi.URLParam(r, "*"))}
	}
	return href, nil
}

// HandleListItems returns the listing as a JSON array of href and etag.
//
// URL format: GET /items
func (h *Handler) HandleListItems(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	listing, err := h.storage.List(r.Context())
	h.mu.Unlock()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	entries := listing.Collect()
	if entries == nil {
		entries = []interfaces.ListingEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		h.log.Error("Failed to encode listing", "err", err)
	}
}

// HandleCollection returns every item joined into one document, the format
// read by the http storage.
//
// URL format: GET /collection
func (h *Handler) HandleCollection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	h.mu.Lock()
	var items []*interfaces.Item
	listing, err := h.storage.List(ctx)
	for err == nil && listing.Next() {
		var res *interfaces.GetResult
		res, err = h.storage.Get(ctx, listing.Href())
		if err == nil {
			items = append(items, res.Item)
		}
	}
	h.mu.Unlock()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	content, err := interfaces.JoinCollection(items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	contentType := contentTypeCalendar
	if len(items) > 0 && items[0].Name() == "VCARD" {
		contentType = contentTypeVcard
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = io.WriteString(w, content)
}

// HandleGetItem returns one item with its etag.
//
// URL format: GET /items/{href}
func (h *Handler) HandleGetItem(w http.ResponseWriter, r *http.Request) {
	href, err := hrefParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.mu.Lock()
	res, err := h.storage.Get(r.Context(), href)
	h.mu.Unlock()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, res.Etag) {
		w.Header().Set("ETag", quoteEtag(res.Etag))
		w.WriteHeader(http.StatusNotModified)
		return
	}

	contentType := contentTypeCalendar
	if res.Item.Name() == "VCARD" {
		contentType = contentTypeVcard
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("ETag", quoteEtag(res.Etag))
	_, _ = io.WriteString(w, res.Item.Raw())
}

// HandlePutItem creates an item (If-None-Match: *) or replaces it
// (If-Match: etag). One of the two preconditions is required. A created
// item is stored at the href the storage derives from it, which is
// returned in the Location header.
//
// URL format: PUT /items/{href}
func (h *Handler) HandlePutItem(w http.ResponseWriter, r *http.Request) {
	href, err := hrefParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ifMatch := r.Header.Get("If-Match")
	create := r.Header.Get("If-None-Match") == "*"
	if !create && ifMatch == "" {
		http.Error(w, "If-Match or If-None-Match: * is required", http.StatusPreconditionRequired)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	item, err := interfaces.ItemFromRaw(string(body))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	if create {
		res, err := h.storage.Upload(ctx, item)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := h.storage.Flush(ctx); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.Header().Set("Location", "/items/"+url.PathEscape(res.Href))
		w.Header().Set("ETag", quoteEtag(res.Etag))
		w.WriteHeader(http.StatusCreated)
		return
	}

	current, err := h.matchedEtag(ctx, href, ifMatch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	etag, err := h.storage.Update(ctx, href, item, current)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.storage.Flush(ctx); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", quoteEtag(etag))
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteItem removes an item. If-Match is required.
//
// URL format: DELETE /items/{href}
func (h *Handler) HandleDeleteItem(w http.ResponseWriter, r *http.Request) {
	href, err := hrefParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ifMatch := r.Header.Get("If-Match")
	if ifMatch == "" {
		http.Error(w, "If-Match is required", http.StatusPreconditionRequired)
		return
	}

	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	current, err := h.matchedEtag(ctx, href, ifMatch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.storage.Delete(ctx, href, current); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.storage.Flush(ctx); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
