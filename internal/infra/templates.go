package infra

import (
	"fmt"
	"os"

	"auction_go/internal/domain"

	"gopkg.in/yaml.v3"
)

// templateFile is the YAML shape of the static item table. The live
// deployment feeds this from the world server's item export.
type templateFile struct {
	Items []struct {
		ID             uint32            `yaml:"id"`
		Class          uint8             `yaml:"class"`
		SubClass       uint8             `yaml:"sub_class"`
		InventoryType  uint8             `yaml:"inventory_type"`
		Quality        uint8             `yaml:"quality"`
		ItemLevel      uint16            `yaml:"item_level"`
		RequiredLevel  uint8             `yaml:"required_level"`
		MaxStackSize   uint32            `yaml:"max_stack_size"`
		ContainerSlots uint8             `yaml:"container_slots"`
		RecipeRank     uint8             `yaml:"recipe_rank"`
		Expansion      uint8             `yaml:"expansion"`
		IsToy          bool              `yaml:"is_toy"`
		Names          map[string]string `yaml:"names"`
	} `yaml:"items"`
}

// TemplateStore holds the static item table. Templates never change
// at runtime, so lookups are lock-free.
type TemplateStore struct {
	byID map[domain.ItemID]*domain.ItemTemplate
}

// LoadTemplates reads the item table from a YAML export.
func LoadTemplates(path string) (*TemplateStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse item table: %w", err)
	}

	s := &TemplateStore{byID: make(map[domain.ItemID]*domain.ItemTemplate, len(file.Items))}
	for _, it := range file.Items {
		if it.ID == 0 {
			return nil, fmt.Errorf("item table entry without id")
		}
		if it.MaxStackSize == 0 {
			it.MaxStackSize = 1
		}
		names := make(map[domain.Locale]string, len(it.Names))
		for loc, n := range it.Names {
			names[domain.Locale(loc)] = n
		}
		s.byID[domain.ItemID(it.ID)] = &domain.ItemTemplate{
			ID:             domain.ItemID(it.ID),
			Class:          domain.ItemClass(it.Class),
			SubClass:       it.SubClass,
			InventoryType:  it.InventoryType,
			Quality:        domain.Quality(it.Quality),
			ItemLevel:      it.ItemLevel,
			RequiredLevel:  it.RequiredLevel,
			MaxStackSize:   it.MaxStackSize,
			ContainerSlots: it.ContainerSlots,
			RecipeRank:     it.RecipeRank,
			Expansion:      it.Expansion,
			IsToy:          it.IsToy,
			Names:          names,
		}
	}
	return s, nil
}

// Lookup resolves a template by id, nil when unknown.
func (s *TemplateStore) Lookup(id domain.ItemID) *domain.ItemTemplate {
	return s.byID[id]
}

// Len reports the number of loaded templates.
func (s *TemplateStore) Len() int { return len(s.byID) }
