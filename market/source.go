package market

import "context"

// DataSource supplies time-ordered bars for a symbol. GetBars returns at
// most n of the most recent closed bars, oldest first.
type DataSource interface {
	GetBars(ctx context.Context, symbol string, n int) ([]Bar, error)
}

// Subscriber is implemented by sources that can push bars as they close.
// The channel is closed when ctx is done or the source is exhausted.
type Subscriber interface {
	Subscribe(ctx context.Context, symbol string) (<-chan Bar, error)
}
