package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestComputeBLAKE3(t *testing.T) {
	// BLAKE3-256 of the empty input
	const empty = "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
	if got := ComputeBLAKE3(nil); got != empty {
		t.Errorf("empty digest = %s", got)
	}

	data := []byte("geoip database bytes")
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	fromFile, err := ComputeBLAKE3File(path)
	if err != nil {
		t.Fatal(err)
	}
	if fromFile != ComputeBLAKE3(data) {
		t.Errorf("file digest %s != memory digest %s", fromFile, ComputeBLAKE3(data))
	}

	if _, err := ComputeBLAKE3File(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMapFile(t *testing.T) {
	data := []byte("\x00\x01mapped content\xff")
	path := filepath.Join(t.TempDir(), "db")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	buf, err := MapFile(path)
	if err != nil {
		t.Fatalf("MapFile: %v", err)
	}
	if !buf.Mapped() {
		t.Error("expected mapped buffer")
	}
	if string(buf.Data()) != string(data) {
		t.Errorf("mapped data = %q", buf.Data())
	}
	if err := buf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if buf.Data() != nil || buf.Mapped() {
		t.Error("buffer still holds the mapping after Close")
	}
	if err := buf.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestMapEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	buf, err := MapFile(path)
	if err != nil {
		t.Fatalf("MapFile: %v", err)
	}
	if len(buf.Data()) != 0 || buf.Mapped() {
		t.Errorf("empty file: len=%d mapped=%v", len(buf.Data()), buf.Mapped())
	}
	if err := buf.Close(); err != nil {
		t.Error(err)
	}

	if _, err := MapFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReadFileAndWrap(t *testing.T) {
	data := []byte("heap content")
	path := filepath.Join(t.TempDir(), "db")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	buf, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Mapped() || string(buf.Data()) != string(data) {
		t.Errorf("ReadFile: mapped=%v data=%q", buf.Mapped(), buf.Data())
	}
	if err := buf.Close(); err != nil {
		t.Error(err)
	}

	owned := []byte("caller owned")
	w := WrapBytes(owned)
	if &w.Data()[0] != &owned[0] {
		t.Error("WrapBytes copied the slice")
	}
	if err := w.Close(); err != nil {
		t.Error(err)
	}
	if string(owned) != "caller owned" {
		t.Error("Close modified caller bytes")
	}
}
