// Package session implements the target-side state management for a
// debugWIRE debug session: connect/reset/trace/go/disable, device
// signature lookup, cached high registers r28-r31, PC accounting, and
// breakpoint application (spec §4.4).
//
// The source this spec was distilled from kept adapter handle, PC, BP,
// register cache, and the outgoing buffer as process-wide globals; this
// package bundles them into one owned Session value passed explicitly
// to every operation, so the single-ownership discipline of spec §5 is
// enforced by the type system rather than by convention (spec §9).
package session

import (
	"dwdbg/internal/adapter"
	"dwdbg/internal/catalog"
	"dwdbg/internal/dwerr"
	"dwdbg/internal/dwire"
	"dwdbg/internal/frame"
)

// Session is a single live debug session. It exclusively owns its
// adapter; the catalog is read-only shared state.
type Session struct {
	adapter *adapter.Adapter
	frame   *frame.Buffer

	hasDevice bool
	device    catalog.Entry

	pc          uint16 // byte-addressed, always even
	bp          *uint16 // byte-addressed, nil means unarmed
	timerEnable bool

	// regsCache shadows r28 (Y-lo), r29 (Y-hi), r30 (Z-lo), r31 (Z-hi).
	regsCache [4]byte
}

// New wraps an already-open adapter in a new session. timerEnable is
// the session's initial default for go/step.
func New(a *adapter.Adapter, timerEnable bool) *Session {
	return &Session{
		adapter:     a,
		frame:       frame.New(a),
		timerEnable: timerEnable,
	}
}

// PC returns the current byte-addressed program counter.
func (s *Session) PC() uint16 { return s.pc }

// SetPCValue sets the session's intended byte PC for the next go/trace,
// without touching the device (the device is updated lazily by Go/Trace).
func (s *Session) SetPCValue(pc uint16) { s.pc = pc }

// BP returns the armed breakpoint address, or (0, false) if none.
func (s *Session) BP() (uint16, bool) {
	if s.bp == nil {
		return 0, false
	}
	return *s.bp, true
}

// SetBPValue arms a breakpoint at the given byte address.
func (s *Session) SetBPValue(bp uint16) { v := bp; s.bp = &v }

// ClearBP disarms the breakpoint.
func (s *Session) ClearBP() { s.bp = nil }

// TimerEnable reports whether device timers run during go/step.
func (s *Session) TimerEnable() bool { return s.timerEnable }

// SetTimerEnable sets whether device timers run during go/step.
func (s *Session) SetTimerEnable(on bool) { s.timerEnable = on }

// Device returns the connected device's catalog entry.
func (s *Session) Device() (catalog.Entry, bool) { return s.device, s.hasDevice }

func (s *Session) sendOnly(data []byte) error {
	if err := s.frame.Push(data); err != nil {
		return err
	}
	return s.frame.Flush(adapter.StateSend)
}

func (s *Session) sendReceive(data []byte, n int) ([]byte, error) {
	if err := s.frame.Push(data); err != nil {
		return nil, err
	}
	return s.frame.Receive(n)
}

// Connect opens a session on the target: break+sync+calibrate, read the
// device signature, select the catalog entry, then Reconnect (spec
// §4.4 connect).
func (s *Session) Connect() error {
	if err := s.adapter.BreakAndSync(); err != nil {
		return err
	}
	sig, err := s.sendReceive([]byte{dwire.CmdSignature}, 2)
	if err != nil {
		return err
	}
	signature := uint16(sig[0])<<8 | uint16(sig[1])
	entry, err := catalog.Lookup(signature)
	if err != nil {
		return dwerr.New(dwerr.UnknownSignature, "connect", err)
	}
	s.device = entry
	s.hasDevice = true
	return s.Reconnect()
}

// Reconnect reads the device's word PC (the value after the instruction
// that stopped it) and recomputes the host's byte PC, then refreshes the
// r28-r31 cache (spec §4.4 reconnect).
func (s *Session) Reconnect() error {
	raw, err := s.sendReceive([]byte{dwire.CmdReadPC}, 2)
	if err != nil {
		return err
	}
	pcWord := uint16(raw[0])<<8 | uint16(raw[1])
	flashWords := uint16(1)
	if s.hasDevice {
		flashWords = uint16(s.device.FlashWords())
	}
	s.pc = 2 * wrapWord(pcWord-1, flashWords)

	regs, err := s.GetRegs(28, 4)
	if err != nil {
		return err
	}
	copy(s.regsCache[:], regs)
	return nil
}

func wrapWord(v, mod uint16) uint16 {
	if mod == 0 {
		return v
	}
	return v % mod
}

// Reset pulses the device reset line, recalibrates baud, and reconnects
// (spec §4.4 reset).
func (s *Session) Reset() error {
	if err := s.frame.Push([]byte{dwire.CmdReset}); err != nil {
		return err
	}
	if err := s.frame.Sync(); err != nil {
		return err
	}
	return s.Reconnect()
}

// Disable takes the device out of debugWIRE mode; it re-enters ISP on
// the next power cycle (spec §4.4 disable).
func (s *Session) Disable() error {
	return s.sendOnly([]byte{dwire.CmdDisable})
}

// Trace executes a single instruction (spec §4.4 trace): restore the
// cached high registers, set PC, step, resync, and reconnect.
func (s *Session) Trace() error {
	if err := s.restoreRegsCache(); err != nil {
		return err
	}
	if err := s.frame.Push(dwire.SetPC(s.pc / 2)); err != nil {
		return err
	}
	if err := s.frame.Push([]byte{0x60, 0x31}); err != nil {
		return err
	}
	if err := s.frame.Sync(); err != nil {
		return err
	}
	return s.Reconnect()
}

// Go resumes execution, optionally to a single armed breakpoint, and
// flushes the command with the frame buffer's send+wait state (spec
// §4.4 go). It returns once that transfer is done, not when the target
// stops; ReachedBreakpoint reports whether the target has stopped.
func (s *Session) Go() error {
	if err := s.restoreRegsCache(); err != nil {
		return err
	}
	if err := s.frame.Push(dwire.SetPC(s.pc / 2)); err != nil {
		return err
	}
	if bp, ok := s.BP(); ok {
		if err := s.frame.Push(dwire.SetBP(bp / 2)); err != nil {
			return err
		}
		if err := s.frame.Push([]byte{dwire.GoBPState(s.timerEnable)}); err != nil {
			return err
		}
	} else {
		if err := s.frame.Push([]byte{dwire.GoState(s.timerEnable)}); err != nil {
			return err
		}
	}
	if err := s.frame.Push([]byte{dwire.CmdContinue}); err != nil {
		return err
	}
	return s.frame.Wait()
}

// ReachedBreakpoint issues a one-byte IN transfer: a non-zero byte means
// the device has stopped; an empty read or a zero byte means it has not
// (spec §4.4).
func (s *Session) ReachedBreakpoint() (bool, error) {
	buf := make([]byte, 1)
	n, err := s.adapter.Read(buf)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	return buf[0] != 0, nil
}

func (s *Session) restoreRegsCache() error {
	return s.SetRegs(28, s.regsCache[:])
}

// GetRegs reads count registers starting at first. A single register
// uses the fast DWDR path that avoids disturbing PC/BP; multiple
// registers use the register-read bulk micro-program (spec §4.4
// "Register access").
func (s *Session) GetRegs(first uint8, count int) ([]byte, error) {
	if count == 1 {
		dwdr, err := s.dwdrIOReg()
		if err != nil {
			return nil, err
		}
		return s.sendReceive(dwire.AvrOut(dwdr, first), 1)
	}

	if err := s.frame.Push(dwire.SetPC(uint16(first))); err != nil {
		return nil, err
	}
	if err := s.frame.Push(dwire.SetBP(uint16(first) + uint16(count))); err != nil {
		return nil, err
	}
	seq := bulkSequence(dwire.CtlBulkOff, dwire.ModeRegRead)
	return s.sendReceive(seq, count)
}

// SetReg writes a single register via the DWDR virtual-instruction
// trick: avr_in(reg, dwdr) followed by the literal value byte.
func (s *Session) SetReg(reg uint8, val byte) error {
	dwdr, err := s.dwdrIOReg()
	if err != nil {
		return err
	}
	data := append(dwire.AvrIn(reg, dwdr), val)
	return s.sendOnly(data)
}

// SetRegs writes count registers starting at first from vals. Up to 3
// registers are written individually; more use the register-write bulk
// micro-program (spec §4.4).
func (s *Session) SetRegs(first uint8, vals []byte) error {
	count := len(vals)
	if count <= 3 {
		for i, v := range vals {
			if err := s.SetReg(first+uint8(i), v); err != nil {
				return err
			}
		}
		return nil
	}

	if err := s.frame.Push(dwire.SetPC(uint16(first))); err != nil {
		return err
	}
	if err := s.frame.Push(dwire.SetBP(uint16(first) + uint16(count))); err != nil {
		return err
	}
	seq := bulkSequence(dwire.CtlBulkOff, dwire.ModeRegWrite)
	if err := s.frame.Push(seq); err != nil {
		return err
	}
	return s.sendOnly(vals)
}

// SetZ writes the Z pointer (r30 low byte, r31 high byte) via SetRegs.
func (s *Session) SetZ(addr uint16) error {
	return s.SetRegs(30, []byte{byte(addr), byte(addr >> 8)})
}

func bulkSequence(ctl byte, mode byte) []byte {
	out := make([]byte, 0, 4)
	out = append(out, ctl)
	out = append(out, dwire.BulkProgram(mode)...)
	out = append(out, dwire.CmdBulkStep)
	return out
}

func (s *Session) dwdrIOReg() (uint8, error) {
	if !s.hasDevice {
		return 0, dwerr.New(dwerr.Protocol, "no device connected", nil)
	}
	return s.device.DWDRIOReg, nil
}
