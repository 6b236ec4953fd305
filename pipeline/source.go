package pipeline

import (
	"context"

	"github.com/postersafari/postr-engine/document"
)

// Source is a backlog of items, possibly shared by several engines.
//
// TakeNext claims one item for this engine and returns it. It returns
// ErrNoItem when nothing is claimable, ErrClaimLost when another engine won
// the claim on the selected item, and ErrSourceClosed after Close.
//
// HandleResult writes a finished item back and ends the claim. HandleError
// releases the claim so another engine may take the item; releasing an
// item this engine does not own is a no-op.
type Source interface {
	TakeNext(ctx context.Context) (*document.Item, error)
	Count(ctx context.Context) (int, error)
	IsOpen() bool
	IsHealthy() bool
	Close() error
	HandleResult(ctx context.Context, item *document.Item) error
	HandleError(ctx context.Context, item *document.Item) error
}

// Getter is implemented by sources that can fetch a document by id without
// claiming it.
type Getter interface {
	Get(ctx context.Context, id string) (*document.Item, error)
}

// Claimer is implemented by sources that can claim a specific document,
// whether or not it is currently claimable. Claim returns ErrClaimLost
// while another engine holds the document.
type Claimer interface {
	Claim(ctx context.Context, id string) (*document.Item, error)
}
