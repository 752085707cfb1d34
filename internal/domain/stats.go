package domain

// EnqueueStats are the counters returned by one enqueue run.
type EnqueueStats struct {
	Scanned  int `json:"scanned"`
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"`
}

// DispatchStats are the counters returned by one dispatch run.
// Sent, Cancelled, Failed and Skipped count terminal transitions only.
// Requeued counts failed attempts sent back to pending by the retry policy;
// Deferred counts items released unattempted, over a channel cap or past
// the run's lease budget.
type DispatchStats struct {
	Claimed   int `json:"claimed"`
	Sent      int `json:"sent"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Requeued  int `json:"requeued"`
	Deferred  int `json:"deferred"`
}
