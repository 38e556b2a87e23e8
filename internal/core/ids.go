package core

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"

	"filevault/pkg/domain"
)

const (
	// FileIDPrefix marks file identifiers.
	FileIDPrefix = "fs_"
	// TenantCodeLength is the number of uuid characters used as a tenant code.
	TenantCodeLength = 8
	// MaxFilenameLength bounds client filenames in bytes.
	MaxFilenameLength = 255
)

// NewFileID returns a fresh file identifier. It is random and unrelated to
// the storage path.
func NewFileID() string {
	return FileIDPrefix + ksuid.New().String()
}

// NewTenantID returns a fresh tenant id and its short code.
func NewTenantID() (uuid.UUID, string) {
	return uuid.New(), uuid.NewString()[:TenantCodeLength]
}

// ValidateFilename rejects names that cannot be used as the last segment of a
// storage key.
func ValidateFilename(name string) error {
	invalid := func(format string, args ...any) error {
		return domain.NewError(domain.KindInvalidInput, "upload", nil, format, args...)
	}
	switch {
	case name == "":
		return invalid("filename is required")
	case len(name) > MaxFilenameLength:
		return invalid("filename longer than %d bytes", MaxFilenameLength)
	case name == "." || name == "..":
		return invalid("filename %q is reserved", name)
	case strings.ContainsAny(name, "/\\"):
		return invalid("filename %q contains a path separator", name)
	case !utf8.ValidString(name):
		return invalid("filename is not valid UTF-8")
	}
	for _, r := range name {
		if r == 0 || unicode.IsControl(r) {
			return invalid("filename contains control characters")
		}
	}
	return nil
}

// ValidateTag rejects tags the metadata stores cannot hold. A nil tag is valid.
func ValidateTag(tag *string) error {
	if tag == nil {
		return nil
	}
	if !utf8.ValidString(*tag) {
		return domain.NewError(domain.KindInvalidInput, "upload", nil, "tag is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(*tag); n > domain.MaxTagLength {
		return domain.NewError(domain.KindInvalidInput, "upload", nil,
			"tag is %d characters, limit is %d", n, domain.MaxTagLength)
	}
	return nil
}
