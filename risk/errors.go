package risk

import "errors"

var (
	ErrHalted        = errors.New("daily loss limit reached")
	ErrFeeEdge       = errors.New("expected profit does not clear fees")
	ErrSpreadTooWide = errors.New("spread too wide")
	ErrLossStreak    = errors.New("consecutive loss limit reached")
	ErrNoQuote       = errors.New("no valid quote")
)
