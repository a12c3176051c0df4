package redis

import "fmt"

const keyPrefix = "harvester:"

// SeenKey marks a product digest as enriched recently
func SeenKey(digest string) string {
	return keyPrefix + "seen:" + digest
}

// RunSummaryKey stores one run's summary JSON
func RunSummaryKey(runID string) string {
	return fmt.Sprintf("%srun:%s:summary", keyPrefix, runID)
}

// RunsIndexKey is the sorted set of run ids scored by start time
func RunsIndexKey() string {
	return keyPrefix + "runs"
}
