package events

import (
	"math/big"
	"strings"
)

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
