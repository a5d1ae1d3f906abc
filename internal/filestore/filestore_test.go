package filestore

import "testing"

var testKey = []byte("0123456789abcdef0123456789abcdef") // 32 bytes

func TestUploadDownloadRoundTrip(t *testing.T) {
	s := New(testKey)

	plaintext := []byte("File uploaded")
	if err := s.Upload("/docs/report.txt", "text/plain", plaintext, false); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	got, mime, err := s.Download("/docs/report.txt")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("Download() = %q, want %q", got, plaintext)
	}
	if mime != "text/plain" {
		t.Errorf("mime = %q, want text/plain", mime)
	}
}

func TestUpload_RejectsOverwriteWithoutForce(t *testing.T) {
	s := New(testKey)
	_ = s.Upload("/a.txt", "text/plain", []byte("v1"), false)

	if err := s.Upload("/a.txt", "text/plain", []byte("v2"), false); err != ErrExists {
		t.Errorf("error = %v, want ErrExists", err)
	}
	if err := s.Upload("/a.txt", "text/plain", []byte("v2"), true); err != nil {
		t.Fatalf("force upload error = %v", err)
	}
	got, _, _ := s.Download("/a.txt")
	if string(got) != "v2" {
		t.Errorf("Download() = %q, want v2 after force overwrite", got)
	}
}

func TestMkdirAndList(t *testing.T) {
	s := New(testKey)

	if err := s.Mkdir("/docs"); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if err := s.Upload("/docs/a.txt", "text/plain", []byte("a"), false); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if err := s.Upload("/docs/b.txt", "text/plain", []byte("b"), false); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	entries, err := s.List("/docs")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
}

func TestUpload_CreatesMissingParents(t *testing.T) {
	s := New(testKey)
	if err := s.Upload("/a/b/c/file.txt", "text/plain", []byte("x"), false); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	exists, isDir := s.Check("/a/b/c")
	if !exists || !isDir {
		t.Error("expected intermediate directories to be created")
	}
}

func TestDelete(t *testing.T) {
	s := New(testKey)
	_ = s.Upload("/a.txt", "text/plain", []byte("x"), false)

	if err := s.Delete("/a.txt"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, _, err := s.Download("/a.txt"); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound after delete", err)
	}
}

func TestRename(t *testing.T) {
	s := New(testKey)
	_ = s.Upload("/a.txt", "text/plain", []byte("x"), false)

	if err := s.Rename("/a.txt", "b.txt"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if _, _, err := s.Download("/a.txt"); err != ErrNotFound {
		t.Error("expected old path to be gone after rename")
	}
	got, _, err := s.Download("/b.txt")
	if err != nil || string(got) != "x" {
		t.Errorf("Download(/b.txt) = %q, %v", got, err)
	}
}

func TestCheck_ReportsFileVsDirectory(t *testing.T) {
	s := New(testKey)
	_ = s.Mkdir("/docs")
	_ = s.Upload("/docs/a.txt", "text/plain", []byte("x"), false)

	exists, isDir := s.Check("/docs")
	if !exists || !isDir {
		t.Error("expected /docs to exist and be a directory")
	}
	exists, isDir = s.Check("/docs/a.txt")
	if !exists || isDir {
		t.Error("expected /docs/a.txt to exist and be a file")
	}
	exists, _ = s.Check("/nope")
	if exists {
		t.Error("expected /nope to not exist")
	}
}

func TestDownload_DirectoryIsRejected(t *testing.T) {
	s := New(testKey)
	_ = s.Mkdir("/docs")

	if _, _, err := s.Download("/docs"); err != ErrIsDirectory {
		t.Errorf("error = %v, want ErrIsDirectory", err)
	}
}
