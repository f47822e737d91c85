package authfiles

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/easycli/proxyctl/internal/config"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("port: 8317\nauth-dir: ./auths\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return NewStore(config.New(cfgPath)), filepath.Join(dir, "auths")
}

func writeCred(t *testing.T, dir, name, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestListEmptyWhenDirMissing(t *testing.T) {
	s, _ := newStore(t)
	files, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("files = %v, want none", files)
	}
}

func TestImportListTypeSniffing(t *testing.T) {
	s, authDir := newStore(t)
	src := writeCred(t, t.TempDir(), "gemini.json", `{"type":"gemini","token":"x"}`)

	f, err := s.Import(src)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if f.Name != "gemini.json" || f.Type != "gemini" {
		t.Fatalf("imported = %+v", f)
	}
	if _, err := os.Stat(filepath.Join(authDir, "gemini.json")); err != nil {
		t.Fatalf("file not in auth dir: %v", err)
	}

	writeCred(t, authDir, "opaque.json", `{"token":"y"}`)
	writeCred(t, authDir, "notes.txt", "ignored")

	files, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("len = %d, want 2 (txt excluded)", len(files))
	}
	if files[0].Name != "gemini.json" || files[1].Name != "opaque.json" {
		t.Fatalf("order = %v, %v", files[0].Name, files[1].Name)
	}
	if files[1].Type != "unknown" {
		t.Fatalf("type without field = %q, want unknown", files[1].Type)
	}
}

func TestImportNeverOverwrites(t *testing.T) {
	s, _ := newStore(t)
	src := writeCred(t, t.TempDir(), "a.json", `{"type":"codex"}`)

	if _, err := s.Import(src); err != nil {
		t.Fatalf("first Import: %v", err)
	}
	if _, err := s.Import(src); !errors.Is(err, ErrExists) {
		t.Fatalf("err = %v, want ErrExists", err)
	}
}

func TestImportRejectsInvalidJSON(t *testing.T) {
	s, _ := newStore(t)
	src := writeCred(t, t.TempDir(), "bad.json", "{not json")
	if _, err := s.Import(src); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}

func TestExportAndDelete(t *testing.T) {
	s, authDir := newStore(t)
	writeCred(t, authDir, "a.json", `{"type":"codex"}`)

	out := t.TempDir()
	dst, err := s.Export("a.json", out)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if dst != filepath.Join(out, "a.json") {
		t.Fatalf("dst = %q", dst)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("exported file missing: %v", err)
	}

	if err := s.Delete("a.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(authDir, "a.json")); !os.IsNotExist(err) {
		t.Fatalf("file survived delete: %v", err)
	}
}

func TestDeleteRejectsTraversal(t *testing.T) {
	s, _ := newStore(t)
	for _, name := range []string{"", "../x.json", "a/b.json", ".."} {
		if err := s.Delete(name); err == nil {
			t.Fatalf("Delete(%q) accepted", name)
		}
	}
}
