package blobstore

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/expensecore/expense-engine/apperr"
)

func TestSanitizeFilenameDropsDisallowedChars(t *testing.T) {
	got := SanitizeFilename("my receipt #42!.pdf")
	if got != "my_receipt_42.pdf" {
		t.Fatalf("expected sanitized filename, got %q", got)
	}
}

func TestSanitizeFilenamePreservesExtension(t *testing.T) {
	got := SanitizeFilename("invoice.PDF")
	if !strings.HasSuffix(got, ".PDF") {
		t.Fatalf("expected extension preserved, got %q", got)
	}
}

func TestSanitizeFilenameCapsLength(t *testing.T) {
	long := strings.Repeat("a", 300) + ".png"
	got := SanitizeFilename(long)
	if len(got) > maxSafeNameLength {
		t.Fatalf("expected length <= %d, got %d", maxSafeNameLength, len(got))
	}
	if !strings.HasSuffix(got, ".png") {
		t.Fatalf("expected extension preserved after truncation, got %q", got)
	}
}

func TestSanitizeFilenameFallsBackWhenEmptyAfterStripping(t *testing.T) {
	got := SanitizeFilename("***.jpg")
	if got != "file.jpg" {
		t.Fatalf("expected fallback base name, got %q", got)
	}
}

func TestCanonicalPathShape(t *testing.T) {
	userID := uuid.New()
	when := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	path := CanonicalPath(userID, when, "receipt.pdf")

	want := "receipts/" + userID.String() + "/2026/03/"
	if !strings.HasPrefix(path, want) {
		t.Fatalf("expected prefix %q, got %q", want, path)
	}
	if !strings.HasSuffix(path, "_receipt.pdf") {
		t.Fatalf("expected safe name suffix, got %q", path)
	}
}

func TestValidateURLHostAccepts(t *testing.T) {
	if err := ValidateURLHost("https://storage.example.com/receipts/x", "storage.example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateURLHostRejectsMismatch(t *testing.T) {
	err := ValidateURLHost("https://evil.example.com/receipts/x", "storage.example.com")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected ValidationError for host mismatch, got %v", err)
	}
}
