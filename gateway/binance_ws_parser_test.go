package gateway

import "testing"

func TestParseBookTicker(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"单流", `{"u":400900217,"s":"BTCUSDT","b":"100.1","B":"31.21","a":"100.2","A":"40.66"}`},
		{"combined", `{"stream":"btcusdt@bookTicker","data":{"u":1,"s":"BTCUSDT","b":"100.1","B":"1","a":"100.2","A":"2"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ParseBookTicker([]byte(tt.raw))
			if err != nil {
				t.Fatalf("parse err: %v", err)
			}
			if q.Symbol != "BTCUSDT" || q.Bid != 100.1 || q.Ask != 100.2 {
				t.Fatalf("unexpected parse result: %s %.3f %.3f", q.Symbol, q.Bid, q.Ask)
			}
		})
	}
	if _, err := ParseBookTicker([]byte(`{"result":null,"id":1}`)); err == nil {
		t.Fatalf("expected error for subscription ack")
	}
}
