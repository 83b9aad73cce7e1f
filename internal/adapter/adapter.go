// Package adapter drives the USB-attached LittleWire/Digispark gateway
// that bit-bangs debugWIRE on the target's single wire (spec §4.1, §6).
//
// The only true polymorphism in the core is over the USB library
// (gousb vs. a test double), so the transport is expressed against a
// small Capability interface the session and frame buffer never see
// directly — they depend on *Adapter, which wraps it.
package adapter

import (
	"fmt"
	"time"

	"github.com/google/gousb"

	"dwdbg/internal/dwerr"
	"dwdbg/internal/retry"
)

// Vendor interface constants, bit-exact per spec §6.
const (
	VendorID  = gousb.ID(0x1781)
	ProductID = gousb.ID(0x0c9f)

	vendorRequest = 60

	// Adapter clock, used to convert cycles-per-pulse into a baud rate.
	adapterClockHz = 16_500_000
)

// Command-state bitmask (spec §4.1).
const (
	StateBreak       = 0x01
	StateSetTiming   = 0x02
	StateSend        = 0x04
	StateWait        = 0x08
	StateRead        = 0x10
	StateCapture     = 0x20
	StateBreakCap    = StateBreak | StateCapture         // 0x21
	StateSendRead    = StateSend | StateRead             // 0x14
	StateSendWait    = StateSend | StateWait             // 0x0C, used by frame.Wait
	StateSendWaitRd  = StateSend | StateWait | StateRead // 0x1C, a valid but currently unused combo
	StateSendCapture = StateSend | StateCapture          // 0x24
)

// Capability is the USB transport surface the adapter needs. A real
// implementation wraps a *gousb.Device; tests supply a fake.
type Capability interface {
	// ControlOut issues a vendor OUT control transfer carrying the
	// command-state byte in wValue and payload (spec §4.1 "send
	// command"/"set timing" shapes).
	ControlOut(state uint16, data []byte) (int, error)
	// ControlIn issues a vendor IN control transfer with wValue=0,
	// reading up to len(buf) bytes (spec §4.1 "read"/"capture" shapes
	// both use value field 0 — the state was already set by the
	// preceding ControlOut).
	ControlIn(buf []byte) (int, error)
	Close() error
}

// Adapter is the host-side handle to the USB gateway plus its measured
// target timing.
type Adapter struct {
	dev Capability

	// CyclesPerPulse is the measured target cycles-per-bit (baud),
	// session state per spec §3.
	CyclesPerPulse int
}

// Open finds the first gousb device matching the vendor interface and
// wraps it in an Adapter. Callers own the returned Adapter and must
// Close it.
func Open() (*Adapter, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(VendorID, ProductID)
	if err != nil {
		ctx.Close()
		return nil, dwerr.New(dwerr.Transport, "open USB device", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, dwerr.New(dwerr.Transport, fmt.Sprintf("device not found (VID:%#04x PID:%#04x)", uint16(VendorID), uint16(ProductID)), nil)
	}
	return &Adapter{dev: &gousbCapability{ctx: ctx, dev: dev}}, nil
}

// New wraps an already-open Capability, used by tests with a mock.
func New(dev Capability) *Adapter {
	return &Adapter{dev: dev}
}

// Close releases the underlying USB handle.
func (a *Adapter) Close() error {
	if a.dev == nil {
		return nil
	}
	return a.dev.Close()
}

// Send issues an OUT transfer tagged with the given command state, with
// the standard byte-transfer retry policy.
func (a *Adapter) Send(state uint16, data []byte) error {
	err := retry.Transfer.Do(func(int) error {
		_, e := a.dev.ControlOut(state, data)
		return e
	})
	if err != nil {
		return dwerr.New(dwerr.Transport, fmt.Sprintf("send (state %#02x)", state), err)
	}
	time.Sleep(3 * time.Millisecond) // quiescent delay, spec §4.1
	return nil
}

// Read issues an IN transfer for up to len(buf) bytes, with the
// standard byte-transfer retry policy. It returns the actual count; a
// short read that still returns >=1 byte is not itself an error.
func (a *Adapter) Read(buf []byte) (int, error) {
	var n int
	err := retry.Transfer.Do(func(int) error {
		got, e := a.dev.ControlIn(buf)
		n = got
		return e
	})
	if err != nil {
		return 0, dwerr.New(dwerr.Transport, "read", err)
	}
	return n, nil
}

// SetTiming sends the "set timing" transfer (state 0x02) programming the
// adapter's bit_time.
func (a *Adapter) SetTiming(bitTime uint16) error {
	data := []byte{byte(bitTime), byte(bitTime >> 8)}
	return a.Send(StateSetTiming, data)
}

// Capture reads back up to 64 u16 pulse widths from the adapter's
// capture buffer (spec §4.1 step 1).
func (a *Adapter) Capture() ([]uint16, error) {
	buf := make([]byte, 128)
	n, err := a.Read(buf)
	if err != nil {
		return nil, err
	}
	if n < 18 {
		return nil, dwerr.New(dwerr.Calibration, fmt.Sprintf("capture returned %d bytes, need >=18", n), nil)
	}
	samples := make([]uint16, n/2)
	for i := range samples {
		samples[i] = uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
	}
	return samples, nil
}

// SetBaud performs one round of baud calibration (spec §4.1): read the
// capture buffer, keep the last 9 samples, derive cycles-per-pulse and
// program the adapter's bit timing.
func (a *Adapter) SetBaud() error {
	var samples []uint16
	err := retry.Calibration.Do(func(int) error {
		s, e := a.Capture()
		samples = s
		return e
	})
	if err != nil {
		return dwerr.New(dwerr.Calibration, "pulse-width readback failed", err)
	}
	if len(samples) < 9 {
		return dwerr.New(dwerr.Calibration, fmt.Sprintf("only %d pulse samples captured, need 9", len(samples)), nil)
	}
	last9 := samples[len(samples)-9:]
	var sum int
	for _, s := range last9 {
		sum += int(s)
	}
	cpp := (6*sum)/9 + 8
	bitTime := uint16((cpp - 8) / 4)
	if err := a.SetTiming(bitTime); err != nil {
		return err
	}
	a.CyclesPerPulse = cpp
	return nil
}

// BaudRate reports the measured target baud in bits per second.
func (a *Adapter) BaudRate() int {
	if a.CyclesPerPulse == 0 {
		return 0
	}
	return adapterClockHz / a.CyclesPerPulse
}

// BreakAndSync drives a break pulse, waits for the target's 0x55 sync
// pulses, and calibrates from them, retrying up to 25 times (spec §4.1).
func (a *Adapter) BreakAndSync() error {
	err := retry.BreakSync.Do(func(int) error {
		if _, sendErr := a.dev.ControlOut(StateBreakCap, nil); sendErr != nil {
			return sendErr
		}
		time.Sleep(120 * time.Millisecond)
		return a.SetBaud()
	})
	if err != nil {
		return dwerr.New(dwerr.Calibration, "break+sync exhausted retries", err)
	}
	return nil
}

// gousbCapability adapts a real *gousb.Device to Capability.
type gousbCapability struct {
	ctx *gousb.Context
	dev *gousb.Device
}

func (g *gousbCapability) ControlOut(state uint16, data []byte) (int, error) {
	return g.dev.Control(gousb.RequestTypeVendor|gousb.RequestRecipientDevice|gousb.ControlOut, vendorRequest, state, 0, data)
}

func (g *gousbCapability) ControlIn(buf []byte) (int, error) {
	return g.dev.Control(gousb.RequestTypeVendor|gousb.RequestRecipientDevice|gousb.ControlIn, vendorRequest, 0, 0, buf)
}

func (g *gousbCapability) Close() error {
	err := g.dev.Close()
	g.ctx.Close()
	return err
}
