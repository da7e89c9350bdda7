package variant

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCatalogListsAndResolves(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "full.md", "# full docs")
	writeFile(t, dir, "minimal.txt", "short")
	writeFile(t, dir, "notes.json", "{}") // not a doc extension
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	c, err := NewCatalog(dir, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	infos := c.List()
	if len(infos) != 2 {
		t.Fatalf("variants = %v", infos)
	}
	if infos[0].Name != "full" || infos[1].Name != "minimal" {
		t.Fatalf("order = %v", infos)
	}
	if infos[0].Size != int64(len("# full docs")) {
		t.Errorf("size = %d", infos[0].Size)
	}

	doc, err := c.Resolve("full")
	if err != nil || doc != "# full docs" {
		t.Fatalf("doc=%q err=%v", doc, err)
	}
	if !c.Has("minimal") || c.Has("notes") {
		t.Error("Has misreports")
	}
	if _, err := c.Resolve("missing"); err == nil {
		t.Error("unknown variant resolved")
	}
}

func TestCatalogRejectsEmptyDir(t *testing.T) {
	if _, err := NewCatalog(t.TempDir(), zaptest.NewLogger(t)); err == nil {
		t.Fatal("empty dir accepted")
	}
}

func TestCatalogRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "full.md", "a")
	writeFile(t, dir, "full.txt", "b")
	if _, err := NewCatalog(dir, zaptest.NewLogger(t)); err == nil {
		t.Fatal("duplicate variant names accepted")
	}
}
