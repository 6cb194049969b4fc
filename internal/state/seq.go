package state

// SeqTracker detects gaps in an 8-bit wrapping sequence.
type SeqTracker struct {
	last   uint8
	primed bool
	missed uint64
}

// Observe records seq and returns how many values were skipped since the
// previous one. 255 followed by 0 is contiguous. A repeated value counts as
// no gap.
func (t *SeqTracker) Observe(seq uint8) int {
	if !t.primed {
		t.primed = true
		t.last = seq
		return 0
	}
	gap := int(seq-t.last) - 1
	t.last = seq
	if gap <= 0 {
		return 0
	}
	t.missed += uint64(gap)
	return gap
}

func (t *SeqTracker) Missed() uint64 {
	return t.missed
}

// Reset forgets the last sequence so the next Observe starts fresh.
func (t *SeqTracker) Reset() {
	t.primed = false
}
