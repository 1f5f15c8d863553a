package rtmp

// Realigner - converts source timestamps to the RTMP clock starting from zero.
// The first timestamp is the baseline, later timestamps add their positive offset.
// Older timestamps don't move the clock back.
type Realigner struct {
	started bool
	prev    uint32
	ts      uint32
}

func (r *Realigner) Next(src uint32) uint32 {
	if !r.started {
		r.started = true
		r.prev = src
		return r.ts
	}

	// signed difference handles source wrap
	if offset := int32(src - r.prev); offset > 0 {
		r.ts += uint32(offset)
		r.prev += uint32(offset)
	}

	return r.ts
}

// Current - RTMP timestamp of the last unit
func (r *Realigner) Current() uint32 {
	return r.ts
}
