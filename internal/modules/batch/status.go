package batch

import (
	"time"

	"github.com/learnhub/core/internal/models"
)

// ResolveStatus derives the status a batch should have at now from its
// enrollment window.
func ResolveStatus(now, open, close time.Time) models.BatchStatus {
	switch {
	case now.Before(open):
		return models.BatchUpcoming
	case now.After(close):
		return models.BatchClosed
	default:
		return models.BatchActive
	}
}

// CanTransition reports whether a batch may move from one status to another.
// Statuses only move forward, one step at a time; keeping the same status is allowed.
func CanTransition(from, to models.BatchStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case models.BatchUpcoming:
		return to == models.BatchActive
	case models.BatchActive:
		return to == models.BatchClosed
	}
	return false
}

// IsOpen reports whether status accepts payments.
func IsOpen(status models.BatchStatus) bool {
	return status == models.BatchUpcoming || status == models.BatchActive
}
