// Package blobstore implements the BlobStore collaborator's addressing
// rules: filename sanitization, canonical receipt paths, and presigned-URL
// host validation. The object-store I/O itself (upload/download/presign
// against a concrete backend, thumbnailing, HEIC/PDF rendering) is out of
// scope; this package only owns the naming and validation contract every
// backend must honor.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/expensecore/expense-engine/apperr"
)

// maxSafeNameLength caps the sanitized filename, extension included.
const maxSafeNameLength = 100

// safeNameChars is the sanitization allowlist: letters, digits, dot,
// underscore, hyphen. Anything else is replaced with an underscore in the
// base name (and dropped from the extension); runs of underscores are then
// collapsed to one.
var safeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
var repeatedUnderscores = regexp.MustCompile(`_{2,}`)

// Store is the upload/download/delete/presign contract a concrete
// object-storage backend implements.
type Store interface {
	Upload(ctx context.Context, stream io.Reader, path, contentType string) (string, error)
	Download(ctx context.Context, urlOrPath string) (io.ReadCloser, error)
	Delete(ctx context.Context, urlOrPath string) error
	Presign(ctx context.Context, urlOrPath string, ttl time.Duration) (string, error)
}

// SanitizeFilename reduces originalFilename to the allowlisted character
// set, collapses repeated underscores, and caps the result (extension
// preserved) at maxSafeNameLength characters.
func SanitizeFilename(originalFilename string) string {
	ext := ""
	base := originalFilename
	if i := strings.LastIndex(originalFilename, "."); i > 0 && i < len(originalFilename)-1 {
		base, ext = originalFilename[:i], originalFilename[i:]
	}

	safeBase := repeatedUnderscores.ReplaceAllString(safeNameChars.ReplaceAllString(base, "_"), "_")
	safeBase = strings.Trim(safeBase, "_")
	if safeBase == "" {
		safeBase = "file"
	}

	safeExt := safeNameChars.ReplaceAllString(ext, "")
	if len(safeExt) > 20 {
		safeExt = safeExt[:20]
	}

	budget := maxSafeNameLength - len(safeExt)
	if budget < 1 {
		budget = 1
	}
	if len(safeBase) > budget {
		safeBase = safeBase[:budget]
	}
	return safeBase + safeExt
}

// CanonicalPath builds a receipt's storage path:
// receipts/{user}/{YYYY}/{MM}/{uuid}_{safe_name}.
func CanonicalPath(userID uuid.UUID, uploadedAt time.Time, originalFilename string) string {
	safeName := SanitizeFilename(originalFilename)
	return fmt.Sprintf("receipts/%s/%04d/%02d/%s_%s",
		userID, uploadedAt.Year(), uploadedAt.Month(), uuid.New(), safeName)
}

// ValidateURLHost confirms rawURL's host matches the configured storage
// host, rejecting URLs a caller might have forged or a presign response
// that points somewhere unexpected.
func ValidateURLHost(rawURL, expectedHost string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return apperr.Validation("blob_url_invalid", "blob URL could not be parsed").WithCause(err)
	}
	if !strings.EqualFold(parsed.Host, expectedHost) {
		return apperr.Validation("blob_url_host_mismatch", "blob URL host does not match configured storage host").WithField("host")
	}
	return nil
}
