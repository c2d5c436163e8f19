package crawler

// StatusCounts aggregates item statuses for status derivation and
// observability.
type StatusCounts struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	OK      int `json:"ok"`
	Error   int `json:"error"`
	Blocked int `json:"blocked"`
}

// GetStatusCounts tallies the items by status.
func GetStatusCounts(items []JobItem) StatusCounts {
	counts := StatusCounts{Total: len(items)}
	for _, item := range items {
		switch item.Status {
		case ItemStatusPending:
			counts.Pending++
		case ItemStatusOK:
			counts.OK++
		case ItemStatusError:
			counts.Error++
		case ItemStatusBlocked:
			counts.Blocked++
		}
	}
	return counts
}

// CalculateStatus derives the job status from its items. It is pure:
// any pending item means running; all ok means done; all error or
// blocked means failed; a mix of ok and error/blocked means partial.
// Blocked and error items count the same in the aggregate; re-running
// blocked URLs is an operator-level re-submission concern.
func CalculateStatus(items []JobItem) JobStatus {
	counts := GetStatusCounts(items)

	if counts.Pending > 0 {
		return JobStatusRunning
	}
	if counts.OK == counts.Total {
		return JobStatusDone
	}
	if counts.Error+counts.Blocked == counts.Total {
		return JobStatusFailed
	}
	return JobStatusPartial
}

// SuccessRate returns the percentage of processed items that ended ok.
// Pending items are excluded; a job with nothing processed reports 0.
func SuccessRate(items []JobItem) float64 {
	counts := GetStatusCounts(items)
	processed := counts.Total - counts.Pending
	if processed == 0 {
		return 0
	}
	return float64(counts.OK) / float64(processed) * 100
}
