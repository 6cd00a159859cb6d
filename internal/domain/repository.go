package domain

import "context"

// VideoCardRepository persists the storyboard card list. The list is loaded
// once on start and rewritten in full on every save.
type VideoCardRepository interface {
	LoadCards(ctx context.Context) ([]VideoCard, error)
	SaveCards(ctx context.Context, cards []VideoCard) error
}
