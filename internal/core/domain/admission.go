package domain

import (
	"fmt"
	"strings"
)

// AdmissionPolicy gates documents before any quota-consuming port call.
// Declared type and size are checked against it pre-fetch; the fetcher
// re-checks sniffed content post-fetch.
type AdmissionPolicy struct {
	AllowedMIMETypes []string
	MaxSizeBytes     int64
}

// Admit rejects a declared MIME type outside the allow-list or a declared
// size above the ceiling. Rejections are ErrUnsupportedFile, permanent.
func (p AdmissionPolicy) Admit(mimeType string, sizeBytes int64) error {
	if p.MaxSizeBytes > 0 && sizeBytes > p.MaxSizeBytes {
		return WrapError(ErrUnsupportedFile, "admission",
			fmt.Errorf("declared size %d exceeds ceiling %d", sizeBytes, p.MaxSizeBytes))
	}
	normalized := NormalizeMIMEType(mimeType)
	for _, allowed := range p.AllowedMIMETypes {
		if NormalizeMIMEType(allowed) == normalized {
			return nil
		}
	}
	return WrapError(ErrUnsupportedFile, "admission",
		fmt.Errorf("declared type %q is not in the allow-list", mimeType))
}

// NormalizeMIMEType lowercases and strips parameters ("; charset=...").
func NormalizeMIMEType(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	return mimeType
}
