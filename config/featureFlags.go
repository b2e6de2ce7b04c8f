package config

import (
	"os"
	"strings"
)

// InlineStockSync controls whether order-status reconciliation runs inline in
// the request after the status update commits. When disabled, the outbox
// dispatcher is the only executor (useful while debugging reconciliation).
//
// Set via env:
// - INLINE_STOCK_SYNC=false
//
// Default is enabled.
func InlineStockSync() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("INLINE_STOCK_SYNC")))
	if v == "" {
		return true
	}
	return v != "0" && v != "false" && v != "no" && v != "n"
}
