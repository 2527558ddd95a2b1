package errs_test

import (
	"errors"
	"strings"
	"testing"

	"grawlix/internal/errs"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := errs.Wrap(errs.ErrDownloadFailed, "fetch", "page 3", "status 500", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, errs.ErrDownloadFailed) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"fetch", "page 3", "status 500"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaults(t *testing.T) {
	err := errs.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("nil marker should default to validation, got %v", err)
	}
	if !strings.Contains(err.Error(), "pipeline failure") {
		t.Fatalf("empty detail should use placeholder, got %q", err.Error())
	}
}

func TestTransient(t *testing.T) {
	retryable := errs.Wrap(errs.ErrNetwork, "fetch", "cover", "timeout", nil)
	if !errs.Transient(retryable) {
		t.Fatalf("network errors must be transient: %v", retryable)
	}
	fatal := errs.Wrap(errs.ErrDecryption, "decrypt", "chapter 1", "bad padding", nil)
	if errs.Transient(fatal) {
		t.Fatalf("decryption errors must not be transient: %v", fatal)
	}
	if errs.Transient(nil) {
		t.Fatal("nil error is not transient")
	}
}
