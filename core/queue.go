package core

// SendFunc hands one serialized frame to an open transport.
type SendFunc func(frame []byte) error

// OutboundQueue buffers serialized frames that could not be written yet.
// It is not safe for concurrent use; ConnectionManager guards it with its
// own mutex so queue state and transport state change together.
type OutboundQueue struct {
	frames [][]byte
}

func NewOutboundQueue() *OutboundQueue {
	return &OutboundQueue{}
}

// Enqueue writes frame through send when send is non-nil and nothing is
// waiting ahead of it; otherwise, or if the write fails, frame is appended.
// It reports whether the frame was written.
func (q *OutboundQueue) Enqueue(frame []byte, send SendFunc) bool {
	if send != nil && len(q.frames) == 0 {
		if err := send(frame); err == nil {
			return true
		}
	}
	q.frames = append(q.frames, frame)
	return false
}

// Flush drains frames head to tail and stops at the first failed write.
// The failed frame and everything behind it stay queued in order.
func (q *OutboundQueue) Flush(send SendFunc) (int, error) {
	sent := 0
	for len(q.frames) > 0 {
		if err := send(q.frames[0]); err != nil {
			return sent, err
		}
		q.frames[0] = nil
		q.frames = q.frames[1:]
		sent++
	}
	q.frames = nil
	return sent, nil
}

func (q *OutboundQueue) Len() int {
	return len(q.frames)
}

// Snapshot returns a copy of the pending frames, oldest first.
func (q *OutboundQueue) Snapshot() [][]byte {
	out := make([][]byte, len(q.frames))
	copy(out, q.frames)
	return out
}
