package config

import (
	"os"
	"strings"
	"time"
)

// LowStockInclusive selects the low-stock comparison.
// true (default): available <= low_threshold is low. false: available < low_threshold.
//
// Set via env:
// - LOW_STOCK_INCLUSIVE=false
func LowStockInclusive() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("LOW_STOCK_INCLUSIVE")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// DistributedMaterialLocks enables redislock-based material locks on top of the
// in-process ones. Only meaningful when several API replicas share one database.
//
// Set via env:
// - DISTRIBUTED_MATERIAL_LOCKS=true
func DistributedMaterialLocks() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DISTRIBUTED_MATERIAL_LOCKS")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// MaterialLockTTL bounds how long a distributed material lock may be held.
//
// Set via env:
// - MATERIAL_LOCK_TTL_SECONDS (default 15)
func MaterialLockTTL() time.Duration {
	return time.Duration(intFromEnv("MATERIAL_LOCK_TTL_SECONDS", 15)) * time.Second
}
