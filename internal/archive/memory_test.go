package archive

import (
	"bytes"
	"context"
	"testing"
)

func TestMemoryStorePutAndGet(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	if err := store.PutObject(context.Background(), "doc.pdf", bytes.NewReader([]byte("%PDF-1.7"))); err != nil {
		t.Fatalf("put: %v", err)
	}

	data, ok := store.Object("doc.pdf")
	if !ok || string(data) != "%PDF-1.7" {
		t.Fatalf("object = %q, %v", data, ok)
	}

	if err := store.PutObject(context.Background(), "doc.pdf", bytes.NewReader([]byte("v2"))); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, _ = store.Object("doc.pdf")
	if string(data) != "v2" {
		t.Fatalf("replacement not stored, got %q", data)
	}
	if store.Len() != 1 {
		t.Fatalf("len = %d, want 1", store.Len())
	}
}
