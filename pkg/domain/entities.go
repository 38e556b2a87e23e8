// Package domain defines the tenants, file records, error kinds and the
// metadata persistence contract used by filevault.
package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tenant is an account that owns a policy and a private file namespace.
// Tenants are immutable after creation and are only removed by cascading
// tenant deletion.
type Tenant struct {
	ID            uuid.UUID           `json:"id"`
	Code          string              `json:"code"`
	Configuration TenantConfiguration `json:"configuration"`
	CreatedAt     time.Time           `json:"created_at"`
}

// TenantConfiguration is the declarative upload policy of a tenant.
//
// AllowedExtensions is a hard gate: an empty list rejects every upload.
// AllowedMediaTypes restricts sniffed content only when non-empty.
type TenantConfiguration struct {
	AllowedExtensions []string `json:"allowed_extensions"`
	AllowedMediaTypes []string `json:"allowed_media_types,omitempty"`
}

// Normalize lower-cases entries, strips a leading dot from extensions and
// drops blanks and duplicates while keeping first-seen order.
func (c TenantConfiguration) Normalize() TenantConfiguration {
	return TenantConfiguration{
		AllowedExtensions: normalizeList(c.AllowedExtensions, func(s string) string {
			return strings.TrimPrefix(s, ".")
		}),
		AllowedMediaTypes: normalizeList(c.AllowedMediaTypes, nil),
	}
}

func normalizeList(in []string, trim func(string) string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if trim != nil {
			v = trim(v)
		}
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// UnmarshalJSON accepts the legacy form where allowed_extensions is a single
// comma separated string.
func (c *TenantConfiguration) UnmarshalJSON(b []byte) error {
	var raw struct {
		AllowedExtensions json.RawMessage `json:"allowed_extensions"`
		AllowedMediaTypes []string        `json:"allowed_media_types"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c.AllowedMediaTypes = raw.AllowedMediaTypes
	c.AllowedExtensions = nil
	if len(raw.AllowedExtensions) == 0 || string(raw.AllowedExtensions) == "null" {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw.AllowedExtensions, &list); err == nil {
		c.AllowedExtensions = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(raw.AllowedExtensions, &joined); err != nil {
		return err
	}
	c.AllowedExtensions = strings.Split(joined, ",")
	return nil
}

// MaxTagLength bounds a file tag in characters; every store must accept
// tags up to this length.
const MaxTagLength = 255

// FileRecord is the metadata row for one stored blob.
type FileRecord struct {
	ID           string         `json:"id"`
	TenantID     uuid.UUID      `json:"user_id"`
	Filename     string         `json:"filename"`
	Size         int64          `json:"size"`
	MediaType    string         `json:"media_type"`
	Tag          *string        `json:"tag"`
	RelativePath string         `json:"relative_path"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// TagValue returns the tag or "" when unset.
func (r FileRecord) TagValue() string {
	if r.Tag == nil {
		return ""
	}
	return *r.Tag
}

// Clone returns a copy that shares no mutable state with r.
func (r FileRecord) Clone() FileRecord {
	cp := r
	if r.Tag != nil {
		tag := *r.Tag
		cp.Tag = &tag
	}
	if r.Metadata != nil {
		cp.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// Clone returns a copy of t with its configuration slices duplicated.
func (t Tenant) Clone() Tenant {
	cp := t
	cp.Configuration.AllowedExtensions = append([]string(nil), t.Configuration.AllowedExtensions...)
	if t.Configuration.AllowedMediaTypes != nil {
		cp.Configuration.AllowedMediaTypes = append([]string(nil), t.Configuration.AllowedMediaTypes...)
	}
	return cp
}
