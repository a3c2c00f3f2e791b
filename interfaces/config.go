package interfaces

import (
	"encoding/json"
	"fmt"
	"time"
)

// VerifyPolicy controls server certificate verification. The zero value
// verifies against the system roots. It is written as a boolean or as the
// path of a CA bundle.
type VerifyPolicy struct {
	Insecure bool
	CAPath   string
}

func (v VerifyPolicy) MarshalJSON() ([]byte, error) {
	if v.CAPath != "" {
		return json.Marshal(v.CAPath)
	}
	return json.Marshal(!v.Insecure)
}

func (v *VerifyPolicy) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return v.set(raw)
}

// UnmarshalTOML is called by the TOML decoder with the raw value.
func (v *VerifyPolicy) UnmarshalTOML(raw any) error {
	return v.set(raw)
}

func (v *VerifyPolicy) set(raw any) error {
	switch val := raw.(type) {
	case nil:
		*v = VerifyPolicy{}
	case bool:
		*v = VerifyPolicy{Insecure: !val}
	case string:
		*v = VerifyPolicy{CAPath: val}
	default:
		return fmt.Errorf("verify must be a boolean or a CA bundle path, got %T", raw)
	}
	return nil
}

// HTTPConfig holds the parameters shared by all HTTP based storages.
type HTTPConfig struct {
	Username          string       `json:"username,omitempty" toml:"username"`
	Password          string       `json:"password,omitempty" toml:"password"`
	UserAgent         string       `json:"useragent,omitempty" toml:"useragent"`
	Verify            VerifyPolicy `json:"verify" toml:"verify"`
	VerifyFingerprint string       `json:"verify_fingerprint,omitempty" toml:"verify_fingerprint"`
	AuthCert          string       `json:"auth_cert,omitempty" toml:"auth_cert"`
	AuthCertPassword  string       `json:"auth_cert_password,omitempty" toml:"auth_cert_password"`
}

// FilesystemConfig configures a directory of item files.
type FilesystemConfig struct {
	Path       string  `json:"path" toml:"path"`
	FileExt    string  `json:"fileext" toml:"fileext"`
	PostHook   string  `json:"post_hook,omitempty" toml:"post_hook"`
	Collection *string `json:"collection" toml:"collection"`
}

// SingleFileConfig configures one file holding a whole collection. For
// discovery Path contains exactly one "%s" standing for the collection name.
type SingleFileConfig struct {
	Path       string  `json:"path" toml:"path"`
	Collection *string `json:"collection" toml:"collection"`
}

// HTTPStorageConfig configures a read-only collection fetched with GET.
type HTTPStorageConfig struct {
	URL string `json:"url" toml:"url"`
	HTTPConfig
	// KeepUIDs keeps the server supplied UIDs instead of replacing them
	// with the content hash.
	KeepUIDs bool `json:"keep_uids,omitempty" toml:"keep_uids"`
}

// DavConfig configures a CardDAV collection and is the base of CaldavConfig.
type DavConfig struct {
	URL string `json:"url" toml:"url"`
	HTTPConfig
	Collection *string `json:"collection" toml:"collection"`
	// SRVResolver is a DNS server address used to look up RFC 6764 SRV
	// records for the URL's host during discovery.
	SRVResolver string `json:"srv_resolver,omitempty" toml:"srv_resolver"`
}

// CaldavConfig adds server side filters to DavConfig.
type CaldavConfig struct {
	DavConfig
	StartDate *time.Time `json:"start_date,omitempty" toml:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty" toml:"end_date"`
	ItemTypes []string   `json:"item_types,omitempty" toml:"item_types"`
}

// CollectionName returns the collection name or "" when unset.
func CollectionName(c *string) string {
	if c == nil {
		return ""
	}
	return *c
}
