package logger

import (
	"fmt"
	"sort"
	"strings"
)

// Schema 定义每个日志消息所需的关键字段，便于集中校验。
type Schema struct {
	Message  string
	Required []string
}

var schemas = map[string]Schema{
	"order_event": {
		Message:  "order_event",
		Required: []string{"ts", "event", "order_id"},
	},
	"trade_event": {
		Message:  "trade_event",
		Required: []string{"ts", "event"},
	},
	"state_transition": {
		Message:  "state_transition",
		Required: []string{"ts", "from", "to", "symbol", "side", "qty", "entry_vwap"},
	},
	"error_event": {
		Message:  "error_event",
		Required: []string{"ts", "action"},
	},
	"risk_event": {
		Message:  "risk_event",
		Required: []string{"ts", "event"},
	},
	"ledger_trade": {
		Message:  "ledger_trade",
		Required: []string{"symbol", "side", "entry_price", "exit_price", "qty", "fees", "realized_pnl", "equity_after", "exit_reason"},
	},
}

// Known 返回所有消息名，便于外部生成文档。
func Known() []string {
	names := make([]string, 0, len(schemas))
	for k := range schemas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ValidateFields 检查日志字段是否包含 schema 中要求的 key；未登记的消息不校验。
func ValidateFields(message string, fields map[string]interface{}) error {
	s, ok := schemas[message]
	if !ok {
		return nil
	}
	var missing []string
	for _, key := range s.Required {
		if _, exists := fields[key]; !exists {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s missing fields: %s", message, strings.Join(missing, ","))
	}
	return nil
}
