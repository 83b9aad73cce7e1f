package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwdbg/internal/adapter"
	"dwdbg/internal/dwerr"
)

// fakeCapability is a minimal adapter.Capability double scoped to this
// package's tests, independent of the adapter package's own internal
// mock.
type fakeCapability struct {
	sent     []sentCall
	inData   [][]byte
	inErrs   []error
}

type sentCall struct {
	state uint16
	data  []byte
}

func (f *fakeCapability) ControlOut(state uint16, data []byte) (int, error) {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, sentCall{state: state, data: cp})
	return len(data), nil
}

func (f *fakeCapability) ControlIn(buf []byte) (int, error) {
	if len(f.inErrs) > 0 {
		err := f.inErrs[0]
		f.inErrs = f.inErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(f.inData) == 0 {
		return 0, nil
	}
	d := f.inData[0]
	f.inData = f.inData[1:]
	n := copy(buf, d)
	return n, nil
}

func (f *fakeCapability) Close() error { return nil }

func TestPushCoalescesUntilFlush(t *testing.T) {
	fc := &fakeCapability{}
	a := adapter.New(fc)
	b := New(a)

	require.NoError(t, b.Push([]byte{1, 2, 3}))
	assert.Equal(t, 3, b.Len())
	assert.Empty(t, fc.sent)

	require.NoError(t, b.Flush(adapter.StateSend))
	assert.Equal(t, 0, b.Len())
	require.Len(t, fc.sent, 1)
	assert.Equal(t, []byte{1, 2, 3}, fc.sent[0].data)
	assert.Equal(t, uint16(adapter.StateSend), fc.sent[0].state)
}

func TestFlushOfEmptyBufferIsNoop(t *testing.T) {
	fc := &fakeCapability{}
	a := adapter.New(fc)
	b := New(a)

	require.NoError(t, b.Flush(adapter.StateSend))
	assert.Empty(t, fc.sent)
}

func TestPushAutoFlushesAtCapacity(t *testing.T) {
	fc := &fakeCapability{}
	a := adapter.New(fc)
	b := New(a)

	big := make([]byte, MaxBuf+10)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, b.Push(big))
	require.Len(t, fc.sent, 1)
	assert.Equal(t, MaxBuf, len(fc.sent[0].data))
	assert.Equal(t, 10, b.Len())
}

func TestReceiveRequiresPendingOutgoingBytes(t *testing.T) {
	fc := &fakeCapability{}
	a := adapter.New(fc)
	b := New(a)

	_, err := b.Receive(2)
	require.Error(t, err)
	var derr *dwerr.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, dwerr.Protocol, derr.Kind)
}

func TestReceiveFlushesSendReadThenCollectsN(t *testing.T) {
	fc := &fakeCapability{inData: [][]byte{{0xAA}, {0xBB, 0xCC}}}
	a := adapter.New(fc)
	b := New(a)

	require.NoError(t, b.Push([]byte{0xF3}))
	data, err := b.Receive(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, data)
	require.Len(t, fc.sent, 1)
	assert.Equal(t, uint16(adapter.StateSendRead), fc.sent[0].state)
}

func TestSyncFlushesCaptureStateAndRecalibrates(t *testing.T) {
	samples := make([]byte, 64*2)
	for i := 0; i < 64; i++ {
		samples[2*i] = 100
	}
	fc := &fakeCapability{inData: [][]byte{samples}}
	a := adapter.New(fc)
	b := New(a)

	require.NoError(t, b.Push([]byte{0x07}))
	require.NoError(t, b.Sync())
	require.Len(t, fc.sent, 2) // the sync-state send, then set-timing from SetBaud
	assert.Equal(t, uint16(adapter.StateSendCapture), fc.sent[0].state)
	assert.Equal(t, uint16(adapter.StateSetTiming), fc.sent[1].state)
	assert.NotZero(t, a.CyclesPerPulse)
}

func TestWaitFlushesSendWaitState(t *testing.T) {
	fc := &fakeCapability{}
	a := adapter.New(fc)
	b := New(a)

	require.NoError(t, b.Push([]byte{0x30}))
	require.NoError(t, b.Wait())
	require.Len(t, fc.sent, 1)
	assert.Equal(t, uint16(adapter.StateSendWait), fc.sent[0].state)
}
