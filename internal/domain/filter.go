package domain

// Sort selects the search result ordering. Every order falls back to
// the bucket key as a stable tertiary comparison so identical queries
// return identical pages.
type Sort uint8

const (
	SortPrice Sort = iota
	SortName
	SortLevel
)

// SubClassFilter narrows one item subclass; a zero InventoryMask
// accepts every inventory type of the subclass.
type SubClassFilter struct {
	SubClass      uint8
	InventoryMask uint64
}

// ClassFilter is the three-state class predicate: an empty SubClasses
// slice accepts the whole class, otherwise each listed subclass is
// checked against its inventory-type bitmask.
type ClassFilter struct {
	Class      ItemClass
	SubClasses []SubClassFilter
}

// Viewer identifies the searching account for the usable/uncollected
// oracles and for response redaction.
type Viewer struct {
	Account   AccountID
	Character CharacterID
	Level     uint8
	Locale    Locale
}

// BucketFilter is the full per-bucket search predicate. Fields are
// evaluated cheapest first; the zero value matches everything.
type BucketFilter struct {
	Viewer Viewer

	Name       string
	ExactMatch bool

	MinLevel uint8 // required character level bounds, 0 = unbounded
	MaxLevel uint8

	QualityMask uint32 // bit i accepts Quality(i); 0 = any

	Classes []ClassFilter // empty = any class

	UncollectedOnly      bool
	UsableOnly           bool
	CurrentExpansionOnly bool

	// KnownCompanions is the caller-supplied species-known bitmap used
	// by the uncollected filter; bit (id % 64) of word (id / 64).
	KnownCompanions []uint64

	MaxCompanionLevel uint8 // usable-only ceiling, 0 = unbounded
	Expansion         uint8 // current expansion for CurrentExpansionOnly
}

// KnowsSpecies reads the companion-known bitmap.
func (f *BucketFilter) KnowsSpecies(species uint16) bool {
	word := int(species) / 64
	if word >= len(f.KnownCompanions) {
		return false
	}
	return f.KnownCompanions[word]&(1<<(uint(species)%64)) != 0
}

// MatchesClass applies the three-state class/subclass/inventory-type
// predicate.
func (f *BucketFilter) MatchesClass(class ItemClass, subClass uint8, invType uint8) bool {
	if len(f.Classes) == 0 {
		return true
	}
	for _, cf := range f.Classes {
		if cf.Class != class {
			continue
		}
		if len(cf.SubClasses) == 0 {
			return true
		}
		for _, sf := range cf.SubClasses {
			if sf.SubClass != subClass {
				continue
			}
			if sf.InventoryMask == 0 || sf.InventoryMask&(1<<uint(invType)) != 0 {
				return true
			}
		}
		return false
	}
	return false
}
