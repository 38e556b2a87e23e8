package core

import (
	"strings"

	"filevault/pkg/domain"
)

// Extension returns the lower-cased text after the last dot of filename, or
// "" when the name has no dot.
func Extension(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}

// CheckExtension enforces the tenant's extension allow list. An empty list
// admits nothing.
func CheckExtension(cfg domain.TenantConfiguration, filename string) error {
	ext := Extension(filename)
	if ext != "" && containsFold(cfg.AllowedExtensions, ext) {
		return nil
	}
	shown := ext
	if shown == "" {
		shown = "(none)"
	}
	return domain.NewError(domain.KindExtensionNotAllowed, "policy", nil,
		"extension %q is not allowed, allowed: %s", shown, strings.Join(cfg.AllowedExtensions, ","))
}

// CheckMediaType enforces the media type allow list when one is configured.
func CheckMediaType(cfg domain.TenantConfiguration, mediaType string) error {
	if len(cfg.AllowedMediaTypes) == 0 || containsFold(cfg.AllowedMediaTypes, mediaType) {
		return nil
	}
	return domain.NewError(domain.KindMediaTypeNotAllowed, "policy", nil,
		"media type %q is not allowed, allowed: %s", mediaType, strings.Join(cfg.AllowedMediaTypes, ","))
}

// EvaluatePolicy runs the extension gate and then the media type gate.
// It returns nil when the upload is acceptable.
func EvaluatePolicy(cfg domain.TenantConfiguration, filename, mediaType string) error {
	if err := CheckExtension(cfg, filename); err != nil {
		return err
	}
	return CheckMediaType(cfg, mediaType)
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimPrefix(strings.TrimSpace(item), "."), v) {
			return true
		}
	}
	return false
}
