// Package errs defines the error taxonomy shared by the download and
// assembly pipeline. Errors are tagged with sentinel markers so callers can
// classify a failure without parsing its message.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNetwork marks a transient transport failure that may be retried.
	ErrNetwork = errors.New("network error")
	// ErrDownloadFailed marks a fetch that exhausted its retry budget or hit
	// a non-retryable response.
	ErrDownloadFailed = errors.New("download failed")
	// ErrDecryption marks a wrong key or corrupt ciphertext. Never retried.
	ErrDecryption = errors.New("decryption error")
	// ErrPathResolution marks an output template that produced an unsafe or
	// empty path. Raised before any network activity.
	ErrPathResolution = errors.New("path resolution error")
	// ErrCollisionExhausted marks a resolved path for which no free
	// disambiguated variant could be found.
	ErrCollisionExhausted = errors.New("path collision exhausted")
	// ErrMetadataWrite marks a malformed package descriptor. The original
	// archive is left untouched.
	ErrMetadataWrite = errors.New("metadata write error")
	// ErrOutputWrite marks a filesystem failure while staging or publishing
	// an assembled book.
	ErrOutputWrite = errors.New("output write error")
	// ErrUnsupportedFormat marks a book shape the requested output format
	// cannot represent.
	ErrUnsupportedFormat = errors.New("unsupported output format")
	// ErrValidation marks invalid caller input.
	ErrValidation = errors.New("validation error")
)

// Wrap builds an error message that includes pipeline context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrValidation
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Transient reports whether the error may succeed on retry.
func Transient(err error) bool {
	return errors.Is(err, ErrNetwork)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
