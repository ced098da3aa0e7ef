package utils

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func TestCompressDirRoundTrip(t *testing.T) {
	src := t.TempDir()
	files := map[string]string{
		"1700000000000-aa": "first",
		"1700000000001-bb": "second",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(src, name), []byte(content), 0600); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(src, "nested"), 0700); err != nil {
		t.Fatalf("Failed to create nested dir: %v", err)
	}

	archive := filepath.Join(t.TempDir(), "export.tar.gz")
	n, err := CompressDir(src, archive)
	if err != nil {
		t.Fatalf("CompressDir failed: %v", err)
	}
	if n != len(files) {
		t.Fatalf("Expected %d files archived, got %d", len(files), n)
	}

	dst := t.TempDir()
	if err := os.WriteFile(filepath.Join(dst, "1700000000000-aa"), []byte("kept"), 0600); err != nil {
		t.Fatalf("Failed to seed destination: %v", err)
	}

	n, err = DecompressFlat(archive, dst)
	if err != nil {
		t.Fatalf("DecompressFlat failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 new file, got %d", n)
	}

	kept, _ := os.ReadFile(filepath.Join(dst, "1700000000000-aa"))
	if string(kept) != "kept" {
		t.Errorf("Existing file was overwritten: %q", kept)
	}
	second, _ := os.ReadFile(filepath.Join(dst, "1700000000001-bb"))
	if string(second) != "second" {
		t.Errorf("Unexpected content: %q", second)
	}
}

func TestDecompressFlatRejectsPaths(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "bad.tar.gz")
	f, err := os.Create(archive)
	if err != nil {
		t.Fatalf("Failed to create archive: %v", err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	content := []byte("x")
	tw.WriteHeader(&tar.Header{Name: "../escape", Mode: 0600, Size: int64(len(content)), Typeflag: tar.TypeReg})
	tw.Write(content)
	tw.Close()
	gz.Close()
	f.Close()

	if _, err := DecompressFlat(archive, t.TempDir()); err == nil {
		t.Fatal("Expected an error for a path-traversing entry")
	}
}
