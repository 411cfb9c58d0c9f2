package localfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
)

func TestStageAndDiscardRoundTrip(t *testing.T) {
	stager, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new stager: %v", err)
	}

	file := &domain.RawFile{Name: "acme.pdf", MIMEType: "application/pdf", Bytes: []byte("%PDF-fake")}
	key := "runs/Ev123/acme.pdf"
	if err := stager.Stage(context.Background(), key, file); err != nil {
		t.Fatalf("stage: %v", err)
	}

	staged := filepath.Join(stager.basePath, "runs", "Ev123", "acme.pdf")
	data, err := os.ReadFile(staged)
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(data) != "%PDF-fake" {
		t.Fatalf("staged content = %q", data)
	}

	if err := stager.Discard(context.Background(), key); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Fatalf("staged file should be gone, stat err = %v", err)
	}
}

func TestDiscardMissingKeyIsNoop(t *testing.T) {
	stager, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new stager: %v", err)
	}
	if err := stager.Discard(context.Background(), "runs/Ev999/none.pdf"); err != nil {
		t.Fatalf("discard missing: %v", err)
	}
}

func TestStageRejectsEscapingKey(t *testing.T) {
	stager, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new stager: %v", err)
	}
	file := &domain.RawFile{Name: "x", Bytes: []byte("data")}
	if err := stager.Stage(context.Background(), "../outside.pdf", file); err == nil {
		t.Fatal("expected error for escaping key")
	}
}
