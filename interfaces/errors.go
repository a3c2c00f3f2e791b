package interfaces

import (
	"fmt"
)

// ErrorKind enumerates the closed set of storage failures.
type ErrorKind int

const (
	KindItemNotFound ErrorKind = iota + 1
	KindItemAlreadyExisting
	KindItemUnparseable
	KindUnexpectedVobject
	KindUnsupportedVobject
	KindUnexpectedVobjectVersion
	KindWrongEtag
	KindMtimeMismatch
	KindReadOnly
	KindBadCollectionConfig
	KindBadDiscoveryConfig
	KindDiscoveryNotPossible
	KindMetadataUnsupported
)

var errorKindNames = map[ErrorKind]string{
	KindItemNotFound:             "ItemNotFound",
	KindItemAlreadyExisting:      "ItemAlreadyExisting",
	KindItemUnparseable:          "ItemUnparseable",
	KindUnexpectedVobject:        "UnexpectedVobject",
	KindUnsupportedVobject:       "UnsupportedVobject",
	KindUnexpectedVobjectVersion: "UnexpectedVobjectVersion",
	KindWrongEtag:                "WrongEtag",
	KindMtimeMismatch:            "MtimeMismatch",
	KindReadOnly:                 "ReadOnly",
	KindBadCollectionConfig:      "BadCollectionConfig",
	KindBadDiscoveryConfig:       "BadDiscoveryConfig",
	KindDiscoveryNotPossible:     "DiscoveryNotPossible",
	KindMetadataUnsupported:      "MetadataUnsupported",
}

// String returns the variant name.
func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Error is the storage error type. Only the fields relevant to Kind are set.
// Err carries the underlying cause (I/O, HTTP or *DavError) when there is one.
type Error struct {
	Kind     ErrorKind
	Href     string
	Path     string
	Found    string
	Expected string
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindItemNotFound:
		msg = fmt.Sprintf("item '%s' not found", e.Href)
	case KindItemAlreadyExisting:
		msg = fmt.Sprintf("the href '%s' is already taken", e.Href)
	case KindItemUnparseable:
		msg = "the item cannot be parsed"
	case KindUnexpectedVobject:
		msg = fmt.Sprintf("unexpected component %s, expected %s", e.Found, e.Expected)
	case KindUnsupportedVobject:
		msg = fmt.Sprintf("unsupported component %s", e.Found)
	case KindUnexpectedVobjectVersion:
		msg = fmt.Sprintf("unexpected version %s, expected %s", e.Found, e.Expected)
	case KindWrongEtag:
		msg = fmt.Sprintf("a wrong etag for '%s' was provided", e.Href)
	case KindMtimeMismatch:
		msg = fmt.Sprintf("the mtime for '%s' has unexpectedly changed", e.Path)
	case KindReadOnly:
		msg = "tried to write to a read-only storage"
	case KindBadCollectionConfig:
		msg = "bad collection config"
	case KindBadDiscoveryConfig:
		msg = "bad discovery config"
	case KindDiscoveryNotPossible:
		msg = "discovery is not possible"
	case KindMetadataUnsupported:
		msg = "metadata is not supported"
	default:
		msg = "unknown storage error"
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the exported sentinels can be
// used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrItemNotFound             = &Error{Kind: KindItemNotFound}
	ErrItemAlreadyExisting      = &Error{Kind: KindItemAlreadyExisting}
	ErrItemUnparseable          = &Error{Kind: KindItemUnparseable}
	ErrUnexpectedVobject        = &Error{Kind: KindUnexpectedVobject}
	ErrUnsupportedVobject       = &Error{Kind: KindUnsupportedVobject}
	ErrUnexpectedVobjectVersion = &Error{Kind: KindUnexpectedVobjectVersion}
	ErrWrongEtag                = &Error{Kind: KindWrongEtag}
	ErrMtimeMismatch            = &Error{Kind: KindMtimeMismatch}
	ErrReadOnly                 = &Error{Kind: KindReadOnly}
	ErrBadCollectionConfig      = &Error{Kind: KindBadCollectionConfig}
	ErrBadDiscoveryConfig       = &Error{Kind: KindBadDiscoveryConfig}
	ErrDiscoveryNotPossible     = &Error{Kind: KindDiscoveryNotPossible}
	ErrMetadataUnsupported      = &Error{Kind: KindMetadataUnsupported}
)

func ItemNotFound(href string) *Error {
	return &Error{Kind: KindItemNotFound, Href: href}
}

func ItemAlreadyExisting(href string) *Error {
	return &Error{Kind: KindItemAlreadyExisting, Href: href}
}

func ItemUnparseable(cause error) *Error {
	return &Error{Kind: KindItemUnparseable, Err: cause}
}

func UnexpectedVobject(found, expected string) *Error {
	return &Error{Kind: KindUnexpectedVobject, Found: found, Expected: expected}
}

func UnsupportedVobject(found string) *Error {
	return &Error{Kind: KindUnsupportedVobject, Found: found}
}

func UnexpectedVobjectVersion(found, expected string) *Error {
	return &Error{Kind: KindUnexpectedVobjectVersion, Found: found, Expected: expected}
}

func WrongEtag(href string) *Error {
	return &Error{Kind: KindWrongEtag, Href: href}
}

func MtimeMismatch(path string) *Error {
	return &Error{Kind: KindMtimeMismatch, Path: path}
}

func ReadOnly() *Error {
	return &Error{Kind: KindReadOnly}
}

func BadCollectionConfig(msg string, cause error) *Error {
	return &Error{Kind: KindBadCollectionConfig, Msg: msg, Err: cause}
}

func BadDiscoveryConfig(msg string) *Error {
	return &Error{Kind: KindBadDiscoveryConfig, Msg: msg}
}

func DiscoveryNotPossible(msg string) *Error {
	return &Error{Kind: KindDiscoveryNotPossible, Msg: msg}
}

func MetadataUnsupported(key MetaKey) *Error {
	return &Error{Kind: KindMetadataUnsupported, Msg: string(key)}
}

// DavErrorKind enumerates transport-level WebDAV failures.
type DavErrorKind int

const (
	KindEtagNotFound DavErrorKind = iota + 1
	KindNoPrincipalURL
	KindNoHomesetURL
)

func (k DavErrorKind) String() string {
	switch k {
	case KindEtagNotFound:
		return "EtagNotFound"
	case KindNoPrincipalURL:
		return "NoPrincipalUrl"
	case KindNoHomesetURL:
		return "NoHomesetUrl"
	default:
		return "Unknown"
	}
}

// DavError reports a WebDAV response that lacks something the protocol
// requires.
type DavError struct {
	Kind DavErrorKind
	URL  string
	Err  error
}

func (e *DavError) Error() string {
	var msg string
	switch e.Kind {
	case KindEtagNotFound:
		msg = "ETag not found in response"
	case KindNoPrincipalURL:
		msg = "no current-user-principal URL found"
	case KindNoHomesetURL:
		msg = "no home-set URL found"
	default:
		msg = "unknown DAV error"
	}
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DavError) Unwrap() error {
	return e.Err
}

func (e *DavError) Is(target error) bool {
	t, ok := target.(*DavError)
	return ok && t.Kind == e.Kind
}

var (
	ErrEtagNotFound   = &DavError{Kind: KindEtagNotFound}
	ErrNoPrincipalURL = &DavError{Kind: KindNoPrincipalURL}
	ErrNoHomesetURL   = &DavError{Kind: KindNoHomesetURL}
)
