package adapter

import "errors"

// mockCapability is a fake Capability for exercising the adapter without
// real USB hardware. Scripted responses are consumed in order; a nil
// entry in inData, or an exhausted inData, means "succeed with no data".
type mockCapability struct {
	closed bool

	outCalls []mockOut
	inData   [][]byte // successive ControlIn responses
	inErr    []error

	outErrUntil int // ControlOut fails for attempts < outErrUntil, then succeeds
	outAttempts int
}

type mockOut struct {
	state uint16
	data  []byte
}

func (m *mockCapability) ControlOut(state uint16, data []byte) (int, error) {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.outCalls = append(m.outCalls, mockOut{state: state, data: cp})
	if m.outAttempts < m.outErrUntil {
		m.outAttempts++
		return 0, errors.New("mock: simulated transfer failure")
	}
	m.outAttempts++
	return len(data), nil
}

func (m *mockCapability) ControlIn(buf []byte) (int, error) {
	if len(m.inErr) > 0 {
		err := m.inErr[0]
		m.inErr = m.inErr[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(m.inData) == 0 {
		return 0, nil
	}
	data := m.inData[0]
	m.inData = m.inData[1:]
	n := copy(buf, data)
	return n, nil
}

func (m *mockCapability) Close() error {
	m.closed = true
	return nil
}

// calibrationSamples builds a 64-sample capture buffer (spec's capture
// size) whose last 9 samples are all equal to cyclesPerPulse, the
// simplest input that makes SetBaud's averaging deterministic.
func calibrationSamples(cyclesPerPulse uint16) []byte {
	n := 64
	buf := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		buf = append(buf, byte(cyclesPerPulse), byte(cyclesPerPulse>>8))
	}
	return buf
}
