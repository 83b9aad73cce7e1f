// Package frame implements the write-coalescing buffer between the
// command encoder and the adapter transport (spec §4.2). It guarantees
// every read transaction is preceded by at least one outgoing byte in
// the same state-tagged transfer.
package frame

import (
	"dwdbg/internal/adapter"
	"dwdbg/internal/dwerr"
)

// MaxBuf is the coalescing buffer's capacity (spec §3 invariant
// out_buf_len ∈ [0, 128]).
const MaxBuf = 128

// Buffer coalesces outgoing debugWIRE bytes before flushing them to the
// adapter with a transaction state tag.
type Buffer struct {
	a   *adapter.Adapter
	out []byte
}

// New creates a frame buffer over the given adapter.
func New(a *adapter.Adapter) *Buffer {
	return &Buffer{a: a, out: make([]byte, 0, MaxBuf)}
}

// Push appends bytes to the outgoing buffer. If the accumulated length
// would exceed MaxBuf, the first MaxBuf bytes are flushed send-only
// before the remainder is appended (spec §4.2 push).
func (b *Buffer) Push(data []byte) error {
	for len(data) > 0 {
		room := MaxBuf - len(b.out)
		if room <= 0 {
			if err := b.Flush(adapter.StateSend); err != nil {
				return err
			}
			room = MaxBuf
		}
		n := room
		if n > len(data) {
			n = len(data)
		}
		b.out = append(b.out, data[:n]...)
		data = data[n:]
	}
	return nil
}

// Flush issues one USB OUT of the given state tag carrying the
// accumulated bytes, then clears the buffer. A flush of an empty buffer
// is a no-op (spec §4.2 flush).
func (b *Buffer) Flush(state uint16) error {
	if len(b.out) == 0 {
		return nil
	}
	if len(b.out) > MaxBuf {
		return dwerr.New(dwerr.Protocol, "out_buf overflow", nil)
	}
	if err := b.a.Send(state, b.out); err != nil {
		return err
	}
	b.out = b.out[:0]
	return nil
}

// Receive stages the outgoing bytes together with the pending read
// (flush state 0x14: send+read), then pulls n bytes back from the
// adapter, retrying internally via the adapter's own retry policy until
// n bytes have arrived (spec §4.2 receive).
func (b *Buffer) Receive(n int) ([]byte, error) {
	if len(b.out) == 0 {
		return nil, dwerr.New(dwerr.Protocol, "receive with no preceding outgoing bytes", nil)
	}
	if err := b.Flush(adapter.StateSendRead); err != nil {
		return nil, err
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		buf := make([]byte, n-len(out))
		got, err := b.a.Read(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, buf[:got]...)
	}
	return out, nil
}

// Sync flushes with the capture state (0x24) and recalibrates baud from
// the resulting 0x55 sync pulses (spec §4.2 sync).
func (b *Buffer) Sync() error {
	if err := b.Flush(adapter.StateSendCapture); err != nil {
		return err
	}
	return b.a.SetBaud()
}

// Wait flushes with state 0x0C (send+wait) so the adapter sends the
// staged bytes and then polls the wire for a level transition — used
// after a "go" (spec §4.2 wait). The exact wake condition is an opaque
// barrier (spec §9 open question); callers only observe that Wait
// returns.
func (b *Buffer) Wait() error {
	return b.Flush(adapter.StateSendWait)
}

// Len reports the number of bytes currently buffered (for tests and
// invariant checks).
func (b *Buffer) Len() int {
	return len(b.out)
}
