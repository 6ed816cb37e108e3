// Package cache defines the versioned response partitions used by the
// offline gateway and the storage contract behind them.
package cache
