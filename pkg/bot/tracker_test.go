package bot

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailureTracker(t *testing.T) {
	t.Run("should abort when invalid responses reach the threshold", func(t *testing.T) {
		tr := NewFailureTracker(3)
		tr.RecordInvalidResponse()
		tr.RecordInvalidResponse()
		assert.False(t, tr.ShouldAbort())
		tr.RecordInvalidResponse()
		assert.True(t, tr.ShouldAbort())
	})

	t.Run("should abort when execution failures reach the threshold", func(t *testing.T) {
		tr := NewFailureTracker(2)
		tr.RecordExecutionFailure()
		assert.False(t, tr.ShouldAbort())
		tr.RecordExecutionFailure()
		assert.True(t, tr.ShouldAbort())
	})

	t.Run("should not combine the two streaks", func(t *testing.T) {
		tr := NewFailureTracker(3)
		tr.RecordInvalidResponse()
		tr.RecordInvalidResponse()
		tr.RecordExecutionFailure()
		tr.RecordExecutionFailure()
		assert.False(t, tr.ShouldAbort())
	})

	t.Run("should reset both streaks on success", func(t *testing.T) {
		tr := NewFailureTracker(3)
		tr.RecordInvalidResponse()
		tr.RecordInvalidResponse()
		tr.RecordExecutionFailure()
		tr.RecordExecutionFailure()
		tr.RecordSuccess()

		c := tr.Counts()
		assert.Zero(t, c.Invalid)
		assert.Zero(t, c.Failed)
		assert.Equal(t, 2, c.TotalInvalid)
		assert.Equal(t, 2, c.TotalFailed)

		tr.RecordInvalidResponse()
		tr.RecordInvalidResponse()
		assert.False(t, tr.ShouldAbort())
	})

	t.Run("should use the default threshold for invalid values", func(t *testing.T) {
		assert.Equal(t, DefaultFailureThreshold, NewFailureTracker(0).Threshold())
	})

	t.Run("should match a reference model under random interleavings", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))
		for run := 0; run < 200; run++ {
			threshold := 1 + rng.Intn(4)
			tr := NewFailureTracker(threshold)
			invalid, failed := 0, 0

			for i := 0; i < 50; i++ {
				switch rng.Intn(3) {
				case 0:
					tr.RecordSuccess()
					invalid, failed = 0, 0
				case 1:
					tr.RecordInvalidResponse()
					invalid++
				case 2:
					tr.RecordExecutionFailure()
					failed++
				}
				want := invalid >= threshold || failed >= threshold
				if !assert.Equal(t, want, tr.ShouldAbort(), "run %d step %d", run, i) {
					return
				}
				assert.GreaterOrEqual(t, tr.Counts().Invalid, 0)
				assert.GreaterOrEqual(t, tr.Counts().Failed, 0)
			}
		}
	})
}

func TestHistory(t *testing.T) {
	t.Run("should keep only the most recent entries", func(t *testing.T) {
		h := NewHistory(3)
		for i := 1; i <= 5; i++ {
			h.Add(entry(i))
		}

		got := h.Entries()
		assert.Len(t, got, 3)
		assert.Equal(t, 3, got[0].Step)
		assert.Equal(t, 5, got[2].Step)

		last, ok := h.Last()
		assert.True(t, ok)
		assert.Equal(t, 5, last.Step)
	})

	t.Run("should return a copy", func(t *testing.T) {
		h := NewHistory(2)
		h.Add(entry(1))
		got := h.Entries()
		got[0].Step = 99
		assert.Equal(t, 1, h.Entries()[0].Step)
	})
}
