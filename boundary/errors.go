package boundary

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/ruteri/pim-storage/interfaces"
	"github.com/ruteri/pim-storage/transport"
)

// Variant is the closed set of error tags reported across the boundary.
type Variant int

const (
	VariantNone Variant = iota
	VariantItemNotFound
	VariantItemAlreadyExisting
	VariantItemUnparseable
	VariantUnexpectedVobject
	VariantUnsupportedVobject
	VariantUnexpectedVobjectVersion
	VariantWrongEtag
	VariantMtimeMismatch
	VariantReadOnly
	VariantBadCollectionConfig
	VariantBadDiscoveryConfig
	VariantDiscoveryNotPossible
	VariantMetadataUnsupported
	VariantEtagNotFound
	VariantNoPrincipalURL
	VariantNoHomesetURL
	VariantInvalidHandle
	VariantOther
)

var variantNames = [...]string{
	VariantNone:                     "None",
	VariantItemNotFound:             "ItemNotFound",
	VariantItemAlreadyExisting:      "ItemAlreadyExisting",
	VariantItemUnparseable:          "ItemUnparseable",
	VariantUnexpectedVobject:        "UnexpectedVobject",
	VariantUnsupportedVobject:       "UnsupportedVobject",
	VariantUnexpectedVobjectVersion: "UnexpectedVobjectVersion",
	VariantWrongEtag:                "WrongEtag",
	VariantMtimeMismatch:            "MtimeMismatch",
	VariantReadOnly:                 "ReadOnly",
	VariantBadCollectionConfig:      "BadCollectionConfig",
	VariantBadDiscoveryConfig:       "BadDiscoveryConfig",
	VariantDiscoveryNotPossible:     "DiscoveryNotPossible",
	VariantMetadataUnsupported:      "MetadataUnsupported",
	VariantEtagNotFound:             "EtagNotFound",
	VariantNoPrincipalURL:           "NoPrincipalUrl",
	VariantNoHomesetURL:             "NoHomesetUrl",
	VariantInvalidHandle:            "InvalidHandle",
	VariantOther:                    "Other",
}

func (v Variant) String() string {
	if v < 0 || int(v) >= len(variantNames) {
		return "Unknown"
	}
	return variantNames[v]
}

var storageVariants = map[interfaces.ErrorKind]Variant{
	interfaces.KindItemNotFound:             VariantItemNotFound,
	interfaces.KindItemAlreadyExisting:      VariantItemAlreadyExisting,
	interfaces.KindItemUnparseable:          VariantItemUnparseable,
	interfaces.KindUnexpectedVobject:        VariantUnexpectedVobject,
	interfaces.KindUnsupportedVobject:       VariantUnsupportedVobject,
	interfaces.KindUnexpectedVobjectVersion: VariantUnexpectedVobjectVersion,
	interfaces.KindWrongEtag:                VariantWrongEtag,
	interfaces.KindMtimeMismatch:            VariantMtimeMismatch,
	interfaces.KindReadOnly:                 VariantReadOnly,
	interfaces.KindBadCollectionConfig:      VariantBadCollectionConfig,
	interfaces.KindBadDiscoveryConfig:       VariantBadDiscoveryConfig,
	interfaces.KindDiscoveryNotPossible:     VariantDiscoveryNotPossible,
	interfaces.KindMetadataUnsupported:      VariantMetadataUnsupported,
}

var davVariants = map[interfaces.DavErrorKind]Variant{
	interfaces.KindEtagNotFound:   VariantEtagNotFound,
	interfaces.KindNoPrincipalURL: VariantNoPrincipalURL,
	interfaces.KindNoHomesetURL:   VariantNoHomesetURL,
}

// errInvalidHandle is reported for unknown, released or mistyped handles.
var errInvalidHandle = errors.New("invalid handle")

// variantOf maps an error to its tag. Storage errors win over the DAV
// errors they may wrap.
func variantOf(err error) Variant {
	if err == nil {
		return VariantNone
	}
	if errors.Is(err, errInvalidHandle) {
		return VariantInvalidHandle
	}

	var se *interfaces.Error
	if errors.As(err, &se) {
		if v, ok := storageVariants[se.Kind]; ok {
			return v
		}
		return VariantOther
	}

	var de *interfaces.DavError
	if errors.As(err, &de) {
		if v, ok := davVariants[de.Kind]; ok {
			return v
		}
	}
	return VariantOther
}

// Cause names the error wrapped by a boundary error.
type Cause struct {
	// TypeName is one of CauseTypeNames.
	TypeName string
	// Variant tags the cause within its type: a DAV or storage error kind,
	// an HTTP status code, or a failed file operation.
	Variant string
	Message string
}

const (
	causeDav        = "DavError"
	causeStorage    = "StorageError"
	causeHTTPStatus = "HTTPStatusError"
	causeIO         = "IOError"
	causeOther      = "OtherError"
)

// CauseTypeNames lists every TypeName ErrorCause can report.
func CauseTypeNames() []string {
	return []string{causeDav, causeStorage, causeHTTPStatus, causeIO, causeOther}
}

func describeCause(err error) Cause {
	var (
		de *interfaces.DavError
		se *interfaces.Error
		st *transport.StatusError
		pe *fs.PathError
	)
	switch {
	case errors.As(err, &de):
		return Cause{TypeName: causeDav, Variant: de.Kind.String(), Message: err.Error()}
	case errors.As(err, &se):
		return Cause{TypeName: causeStorage, Variant: se.Kind.String(), Message: err.Error()}
	case errors.As(err, &st):
		return Cause{TypeName: causeHTTPStatus, Variant: strconv.Itoa(st.StatusCode), Message: err.Error()}
	case errors.As(err, &pe):
		return Cause{TypeName: causeIO, Variant: pe.Op, Message: err.Error()}
	default:
		return Cause{TypeName: causeOther, Variant: fmt.Sprintf("%T", err), Message: err.Error()}
	}
}

// causeOf returns the error wrapped by err, skipping plain fmt wrappers so
// that the storage error itself is not reported as its own cause.
func causeOf(err error) error {
	var se *interfaces.Error
	if errors.As(err, &se) {
		return se.Err
	}
	var de *interfaces.DavError
	if errors.As(err, &de) {
		return de.Err
	}
	return errors.Unwrap(err)
}

// debugString renders the whole cause chain, one error per line.
func debugString(err error) string {
	var b strings.Builder
	for i := 0; err != nil; i++ {
		if i > 0 {
			b.WriteString("\ncaused by: ")
		}
		fmt.Fprintf(&b, "%T: %v", err, err)
		err = errors.Unwrap(err)
	}
	return b.String()
}
