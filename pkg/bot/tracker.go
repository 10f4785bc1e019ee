package bot

// DefaultFailureThreshold is the consecutive failure count that aborts a session.
const DefaultFailureThreshold = 3

// FailureCounts is a snapshot of a FailureTracker.
type FailureCounts struct {
	Invalid         int `json:"invalid"`
	Failed          int `json:"failed"`
	TotalInvalid    int `json:"total_invalid"`
	TotalFailed     int `json:"total_failed"`
	TotalSuccessful int `json:"total_successful"`
}

// FailureTracker counts consecutive invalid decisions and consecutive rejected
// actions independently. Either streak reaching the threshold aborts the session.
// It is owned by one session and is not safe for concurrent use.
type FailureTracker struct {
	threshold int
	counts    FailureCounts
}

// NewFailureTracker creates a tracker. A threshold below 1 uses the default.
func NewFailureTracker(threshold int) *FailureTracker {
	if threshold < 1 {
		threshold = DefaultFailureThreshold
	}
	return &FailureTracker{threshold: threshold}
}

// RecordSuccess resets both streaks.
func (t *FailureTracker) RecordSuccess() {
	t.counts.Invalid = 0
	t.counts.Failed = 0
	t.counts.TotalSuccessful++
}

// RecordInvalidResponse extends the invalid-decision streak.
func (t *FailureTracker) RecordInvalidResponse() {
	t.counts.Invalid++
	t.counts.TotalInvalid++
}

// RecordExecutionFailure extends the rejected-action streak.
func (t *FailureTracker) RecordExecutionFailure() {
	t.counts.Failed++
	t.counts.TotalFailed++
}

// ShouldAbort reports whether either streak reached the threshold.
func (t *FailureTracker) ShouldAbort() bool {
	return t.counts.Invalid >= t.threshold || t.counts.Failed >= t.threshold
}

// Threshold returns the configured threshold.
func (t *FailureTracker) Threshold() int {
	return t.threshold
}

// Counts returns a snapshot of the counters.
func (t *FailureTracker) Counts() FailureCounts {
	return t.counts
}
