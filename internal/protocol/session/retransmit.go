package session

// Action is what a Retransmitter asks its owner to do after a reliability event.
type Action int

const (
	// Nothing is returned when there is no frame to resend yet.
	Nothing Action = iota
	Resend
	Evict
)

func (a Action) String() string {
	switch a {
	case Resend:
		return "resend"
	case Evict:
		return "evict"
	default:
		return "nothing"
	}
}

// Retransmitter caches the last frame sent on a session and bounds how often
// it may be repeated. Duplicates and timeouts share one counter: after max
// resends the next event of either kind evicts the session.
type Retransmitter struct {
	max   int
	count int
	last  []byte
}

func NewRetransmitter(max int) *Retransmitter {
	if max < 0 {
		max = 0
	}
	return &Retransmitter{max: max}
}

// Remember stores a verbatim copy of a frame that advanced the ladder.
func (r *Retransmitter) Remember(b []byte) {
	r.last = append(r.last[:0], b...)
}

// Last returns the cached frame, or nil when nothing was sent.
func (r *Retransmitter) Last() []byte {
	if len(r.last) == 0 {
		return nil
	}
	out := make([]byte, len(r.last))
	copy(out, r.last)
	return out
}

func (r *Retransmitter) Count() int {
	return r.count
}

func (r *Retransmitter) Max() int {
	return r.max
}

func (r *Retransmitter) OnDuplicate() Action {
	return r.event()
}

// OnTimeout is the idle-sweep counterpart of OnDuplicate. With nothing cached
// there is no reply the peer could be missing, so the session is evicted.
func (r *Retransmitter) OnTimeout() Action {
	if len(r.last) == 0 {
		return Evict
	}
	return r.event()
}

// Reset clears the counter after a progressing exchange. The cached frame stays.
func (r *Retransmitter) Reset() {
	r.count = 0
}

// Clear drops the cached frame and the counter.
func (r *Retransmitter) Clear() {
	r.count = 0
	r.last = r.last[:0]
}

func (r *Retransmitter) event() Action {
	if r.count >= r.max {
		return Evict
	}
	if len(r.last) == 0 {
		r.count++
		return Nothing
	}
	r.count++
	return Resend
}
