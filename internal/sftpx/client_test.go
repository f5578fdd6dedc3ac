package sftpx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/webssh2/webssh2/internal/gwerrors"
)

func TestClient_ListIncludesDotFilesAndTypes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".hidden"), []byte("h"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(dir, ".hidden"), filepath.Join(dir, "link")); err != nil {
		t.Fatal(err)
	}
	c := newLocalClient(t)

	entries, err := c.List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	types := make(map[string]string, len(entries))
	for _, e := range entries {
		types[e.Name] = e.Type
		if e.Path != filepath.Join(dir, e.Name) {
			t.Errorf("entry path = %q", e.Path)
		}
	}
	if types[".hidden"] != "file" {
		t.Errorf(".hidden type = %q", types[".hidden"])
	}
	if types["sub"] != "dir" {
		t.Errorf("sub type = %q", types["sub"])
	}
	if types["link"] != "symlink" {
		t.Errorf("link type = %q", types["link"])
	}
}

func TestClient_Stat(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("abc"), 0o600); err != nil {
		t.Fatal(err)
	}
	c := newLocalClient(t)

	e, err := c.Stat(filepath.Join(dir, "f.txt"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if e.Name != "f.txt" || e.Type != "file" || e.Size != 3 {
		t.Errorf("entry = %+v", e)
	}
	if _, err := c.Stat(filepath.Join(dir, "absent")); gwerrors.CodeOf(err) != "sftp_stat" {
		t.Errorf("missing path error = %v", err)
	}
}

func TestClient_MkdirAndDelete(t *testing.T) {
	dir := t.TempDir()
	c := newLocalClient(t)

	sub := filepath.Join(dir, "newdir")
	if err := c.Mkdir(sub); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	fi, err := os.Stat(sub)
	if err != nil || !fi.IsDir() {
		t.Fatalf("created dir = (%v, %v)", fi, err)
	}

	if err := c.Delete(sub); err != nil {
		t.Fatalf("Delete dir: %v", err)
	}
	if _, err := os.Stat(sub); !os.IsNotExist(err) {
		t.Error("directory not removed")
	}

	file := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(file); err != nil {
		t.Fatalf("Delete file: %v", err)
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Error("file not removed")
	}
}

func TestClient_DeleteNonEmptyDirectoryFails(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "full")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "f"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	c := newLocalClient(t)
	if err := c.Delete(sub); gwerrors.CodeOf(err) != "sftp_rmdir" {
		t.Errorf("error = %v, want sftp_rmdir", err)
	}
}
