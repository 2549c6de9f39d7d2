package models

import "testing"

func TestTradeStatus_Terminal(t *testing.T) {
	tests := []struct {
		status TradeStatus
		want   bool
	}{
		{TradePending, false},
		{TradeAccepted, true},
		{TradeRejected, true},
		{TradeCanceled, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
