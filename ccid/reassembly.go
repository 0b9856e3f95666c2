package ccid

import "time"

// Reassembler accumulates a response that spans several notifications.
// The first chunk carries the header; continuation chunks are raw payload bytes.
type Reassembler struct {
	frame   *InboundFrame
	started time.Time
}

// Feed adds a chunk. It returns the frame once the declared length is reached,
// nil while the answer is still incomplete.
func (r *Reassembler) Feed(b []byte, now time.Time) (*InboundFrame, error) {
	if r.frame == nil {
		f, err := ParseResponse(b)
		if err != nil {
			return nil, err
		}
		if f.Long {
			r.frame = f
			r.started = now
			return nil, nil
		}
		return f, nil
	}

	r.frame.Payload = append(r.frame.Payload, b...)
	if uint32(len(r.frame.Payload)) > r.frame.Header.Length {
		r.Reset()
		return nil, ErrOverflow
	}
	if !r.frame.Complete() {
		return nil, nil
	}

	f := r.frame
	f.Long = false
	r.Reset()
	return f, nil
}

// Pending reports whether a long answer is in progress.
func (r *Reassembler) Pending() bool {
	return r.frame != nil
}

// Started returns when the first chunk of the pending answer arrived.
func (r *Reassembler) Started() time.Time {
	return r.started
}

// Received returns the number of payload bytes accumulated so far.
func (r *Reassembler) Received() int {
	if r.frame == nil {
		return 0
	}
	return len(r.frame.Payload)
}

func (r *Reassembler) Reset() {
	r.frame = nil
	r.started = time.Time{}
}
