package infra

import (
	"os"
	"path/filepath"
	"testing"

	"auction_go/internal/domain"
)

func writeItemTable(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write item table: %v", err)
	}
	return path
}

func TestLoadTemplates(t *testing.T) {
	path := writeItemTable(t, `
items:
  - id: 2589
    class: 4
    quality: 1
    max_stack_size: 200
    names:
      enUS: Linen Cloth
      deDE: Leinenstoff
  - id: 19019
    class: 2
    quality: 5
    item_level: 80
    required_level: 60
`)
	store, err := LoadTemplates(path)
	if err != nil {
		t.Fatalf("LoadTemplates failed: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("loaded %d templates", store.Len())
	}

	cloth := store.Lookup(2589)
	if cloth == nil {
		t.Fatal("expected template 2589")
	}
	if cloth.MaxStackSize != 200 || cloth.Name(domain.LocaleDeDE) != "Leinenstoff" {
		t.Errorf("cloth = %+v", cloth)
	}

	// Unset stack size defaults to a single unit.
	sword := store.Lookup(19019)
	if sword == nil || sword.MaxStackSize != 1 {
		t.Errorf("sword = %+v", sword)
	}

	if store.Lookup(9999) != nil {
		t.Error("unknown id should resolve to nil")
	}
}

func TestLoadTemplates_RejectsMissingID(t *testing.T) {
	path := writeItemTable(t, `
items:
  - class: 4
    quality: 1
`)
	if _, err := LoadTemplates(path); err == nil {
		t.Fatal("expected an error for a template without an id")
	}
}
