// Package blob provides tests for the disk-backed blob cache tier.
package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestDiskRoundTrip tests storing and retrieving a document.
func TestDiskRoundTrip(t *testing.T) {
	d := NewDisk(t.TempDir())
	ctx := context.Background()

	doc := []byte(`{"properties":{}}`)
	key := Key("https://example.com/schema.json")

	if err := d.Put(ctx, key, doc); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := d.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != string(doc) {
		t.Errorf("Get() = %s, want %s", got, doc)
	}
}

// TestDiskMissing tests that an absent key yields ErrNotFound.
func TestDiskMissing(t *testing.T) {
	d := NewDisk(t.TempDir())

	_, err := d.Get(context.Background(), Key("https://example.com/none.json"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

// TestDiskPurge tests that Purge removes every cached document.
func TestDiskPurge(t *testing.T) {
	dir := t.TempDir()
	d := NewDisk(dir)
	ctx := context.Background()

	for _, url := range []string{"https://a.example/1", "https://a.example/2"} {
		if err := d.Put(ctx, Key(url), []byte("{}")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	if err := d.Purge(ctx); err != nil {
		t.Fatalf("Purge() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("cache dir has %d entries after Purge, want 0", len(entries))
	}
}

// TestDiskPurgeMissingDir tests that purging a never-written store is a no-op.
func TestDiskPurgeMissingDir(t *testing.T) {
	d := NewDisk(filepath.Join(t.TempDir(), "never-created"))
	if err := d.Purge(context.Background()); err != nil {
		t.Errorf("Purge() error = %v, want nil", err)
	}
}

// TestKeyStable tests that the key derivation is deterministic and
// distinguishes URLs.
func TestKeyStable(t *testing.T) {
	a := Key("https://example.com/schema.json")
	b := Key("https://example.com/schema.json")
	c := Key("https://example.com/other.json")

	if a != b {
		t.Errorf("Key() not deterministic: %s != %s", a, b)
	}
	if a == c {
		t.Error("Key() collision for distinct URLs")
	}
}
