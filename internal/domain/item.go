package domain

// Identifier types shared across the engine. Money is integral copper
// throughout; rates (house cut, deposit) live in config as decimals.
type (
	AccountID   uint32
	CharacterID uint64
	HouseID     uint32
	ItemID      uint32
)

// Locale selects which localized display name a search matches against.
type Locale string

const (
	LocaleEnUS Locale = "enUS"
	LocaleKoKR Locale = "koKR"
	LocaleFrFR Locale = "frFR"
	LocaleDeDE Locale = "deDE"
	LocaleZhCN Locale = "zhCN"
)

// ItemClass is the coarse item category used by search filtering and
// by the bucket sort level.
type ItemClass uint8

const (
	ClassConsumable ItemClass = iota
	ClassContainer
	ClassWeapon
	ClassArmor
	ClassTradeGoods
	ClassRecipe
	ClassCompanion
	ClassMiscellaneous
)

// Quality is the item rarity tier. QualityCount bounds the per-bucket
// quality count array.
type Quality uint8

const (
	QualityPoor Quality = iota
	QualityCommon
	QualityUncommon
	QualityRare
	QualityEpic
	QualityLegendary
	QualityArtifact

	QualityCount = 7
)

// ItemTemplate is the static definition an item instance points at.
// Templates are loaded by an external collaborator; the engine only
// reads them.
type ItemTemplate struct {
	ID            ItemID
	Class         ItemClass
	SubClass      uint8
	InventoryType uint8
	Quality       Quality
	ItemLevel     uint16
	RequiredLevel uint8
	MaxStackSize  uint32
	ContainerSlots uint8
	RecipeRank    uint8
	Expansion     uint8
	IsToy         bool
	Names         map[Locale]string
}

// Name returns the localized display name, falling back to enUS.
func (t *ItemTemplate) Name(loc Locale) string {
	if n, ok := t.Names[loc]; ok && n != "" {
		return n
	}
	return t.Names[LocaleEnUS]
}

// SortLevel is the class-dependent level statistic buckets sort by:
// slot count for bags, recipe rank for recipes, item level otherwise.
func (t *ItemTemplate) SortLevel() uint32 {
	switch t.Class {
	case ClassContainer:
		return uint32(t.ContainerSlots)
	case ClassRecipe:
		return uint32(t.RecipeRank)
	default:
		return uint32(t.ItemLevel)
	}
}

// Item is one item stack handle as held by a posting. The inventory
// subsystem owns item lifecycles; the engine moves handles around.
type Item struct {
	Guid           uint64
	Template       *ItemTemplate
	Count          uint32
	SuffixID       uint16
	AppearanceID   uint32
	SpeciesID      uint16
	CompanionLevel uint8
}

// Clone returns a detached copy carrying count units, used when a
// commodity purchase splits a seller stack. The caller assigns a fresh
// guid.
func (i *Item) Clone(guid uint64, count uint32) *Item {
	c := *i
	c.Guid = guid
	c.Count = count
	return &c
}

// BucketKey is the item identity key: two postings are interchangeable
// for search iff their keys are equal.
type BucketKey struct {
	ItemID    ItemID
	ItemLevel uint16
	SpeciesID uint16
	SuffixID  uint16
}

// KeyFor derives the bucket key for an item instance.
func KeyFor(it *Item) BucketKey {
	return BucketKey{
		ItemID:    it.Template.ID,
		ItemLevel: it.Template.ItemLevel,
		SpeciesID: it.SpeciesID,
		SuffixID:  it.SuffixID,
	}
}

// Cmp orders keys for the deterministic bucket index scan and as the
// stable tertiary search sort key.
func (k BucketKey) Cmp(o BucketKey) int {
	switch {
	case k.ItemID != o.ItemID:
		return diff(uint32(k.ItemID), uint32(o.ItemID))
	case k.ItemLevel != o.ItemLevel:
		return diff(uint32(k.ItemLevel), uint32(o.ItemLevel))
	case k.SpeciesID != o.SpeciesID:
		return diff(uint32(k.SpeciesID), uint32(o.SpeciesID))
	default:
		return diff(uint32(k.SuffixID), uint32(o.SuffixID))
	}
}

func diff(a, b uint32) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
