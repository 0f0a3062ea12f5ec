package gateway

import (
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

// CombinedMessage 对应 binance combined stream 包装。
type CombinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// BookTickerUpdate 提取 bookTicker 消息的核心字段。
type BookTickerUpdate struct {
	UpdateID int64           `json:"u"`
	Symbol   string          `json:"s"`
	Bid      decimal.Decimal `json:"b"`
	BidQty   decimal.Decimal `json:"B"`
	Ask      decimal.Decimal `json:"a"`
	AskQty   decimal.Decimal `json:"A"`
}

var errNotBookTicker = errors.New("not a bookTicker message")

// ParseBookTicker 解析单流或 combined stream 的 bookTicker 消息。
func ParseBookTicker(raw []byte) (Quote, error) {
	payload := raw
	var msg CombinedMessage
	if err := json.Unmarshal(raw, &msg); err == nil && len(msg.Data) > 0 {
		payload = msg.Data
	}
	var bt BookTickerUpdate
	if err := json.Unmarshal(payload, &bt); err != nil {
		return Quote{}, err
	}
	if bt.Symbol == "" {
		return Quote{}, errNotBookTicker
	}
	return Quote{
		Symbol: bt.Symbol,
		Bid:    bt.Bid.InexactFloat64(),
		Ask:    bt.Ask.InexactFloat64(),
	}, nil
}
