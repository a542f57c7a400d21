package infra

import "auction_go/internal/domain"

// OpenCollection is the permissive collection oracle: nothing is
// collected yet and every item is usable at the required level. The
// world-server bridge replaces it where real collection state exists.
type OpenCollection struct{}

func (OpenCollection) KnowsAppearance(domain.AccountID, uint32) bool { return false }

func (OpenCollection) KnowsToy(domain.AccountID, domain.ItemID) bool { return false }

func (OpenCollection) CanUseItem(viewer domain.Viewer, tmpl *domain.ItemTemplate) bool {
	return viewer.Level >= tmpl.RequiredLevel
}
