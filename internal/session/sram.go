package session

import (
	"dwdbg/internal/adapter"
	"dwdbg/internal/dwire"
)

// directRead issues one Z-post-increment bulk SRAM read: set_z(addr),
// set_pc(0), set_bp(2*len), send 0x66,0xC2,0x00,0x20, receive len bytes
// (spec §4.4 SRAM read).
func (s *Session) directRead(addr uint16, length int) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	if err := s.SetZ(addr); err != nil {
		return nil, err
	}
	if err := s.frame.Push(dwire.SetPC(0)); err != nil {
		return nil, err
	}
	if err := s.frame.Push(dwire.SetBP(uint16(2 * length))); err != nil {
		return nil, err
	}
	seq := bulkSequence(dwire.CtlBulkOff, dwire.ModeSRAMRead)
	return s.sendReceive(seq, length)
}

const directReadChunk = 128

// ReadAddr reads length bytes starting at addr (spec §4.4 SRAM read).
// Registers r28-r31 are served from the cache and the DWDR byte is
// synthesized as 0, never touching the bus there — both are used *by*
// the bulk micro-program itself, so reading them from memory would
// corrupt the very registers the program depends on (spec §4.4
// "critical rule").
func (s *Session) ReadAddr(addr uint16, length int) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	var dwdr uint16
	if s.hasDevice {
		dwdr = uint16(s.device.DWDRAddr)
	}
	out := make([]byte, 0, length)
	cur := addr
	end := addr + uint16(length)

	// [addr, min(end,28)) direct.
	seg1 := minU16(end, 28)
	if cur < seg1 {
		data, err := s.directRead(cur, int(seg1-cur))
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
		cur = seg1
	}

	// [28,32) from the register cache.
	seg2 := minU16(end, 32)
	for cur >= 28 && cur < seg2 {
		out = append(out, s.regsCache[cur-28])
		cur++
	}

	// [32, dwdr) direct.
	seg3 := minU16(end, dwdr)
	if cur >= 32 && cur < seg3 {
		data, err := s.directRead(cur, int(seg3-cur))
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
		cur = seg3
	}

	// dwdr itself: synthesized 0, no transfer.
	if s.hasDevice && cur == dwdr && cur < end {
		out = append(out, 0)
		cur++
	}

	// beyond dwdr: direct, chunked to <=128 bytes per transfer.
	for cur < end {
		n := int(end - cur)
		if n > directReadChunk {
			n = directReadChunk
		}
		data, err := s.directRead(cur, n)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
		cur += uint16(n)
	}

	return out, nil
}

// WriteAddr writes data starting at addr using the Z-post-increment
// bulk SRAM write micro-program. Writes that land on r28-r31 or on the
// DWDR address never touch the bus: r28-r31 update the cache instead
// (so a later resume restores the intended Y/Z); DWDR is skipped
// entirely since it is the channel the micro-program itself uses
// (spec §4.4 SRAM write).
func (s *Session) WriteAddr(addr uint16, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := s.SetZ(addr); err != nil {
		return err
	}
	if err := s.frame.Push(dwire.SetBP(3)); err != nil {
		return err
	}
	if err := s.frame.Push([]byte{dwire.CtlBulkOff, dwire.CmdModeSelect, dwire.ModeSRAMWrite}); err != nil {
		return err
	}
	if err := s.frame.Flush(adapter.StateSend); err != nil {
		return err
	}

	var dwdr uint16
	if s.hasDevice {
		dwdr = uint16(s.device.DWDRAddr)
	}

	for i, b := range data {
		a := addr + uint16(i)
		switch {
		case a < 28 || (a > 31 && a != dwdr):
			// Safe-zone byte: the armed micro-program stores it via its
			// own `st Z+` and advances Z in hardware. Resyncing Z here
			// would tear out of mode 4 for no reason.
			if err := s.frame.Push(dwire.SetPC(1)); err != nil {
				return err
			}
			if err := s.frame.Push([]byte{dwire.CmdBulkStep, b}); err != nil {
				return err
			}
			if err := s.frame.Flush(adapter.StateSend); err != nil {
				return err
			}
		case a >= 28 && a <= 31:
			// No bus store happened, so Z didn't auto-advance: resync it.
			s.regsCache[a-28] = b
			if err := s.SetZ(a + 1); err != nil {
				return err
			}
		default:
			// a == dwdr: the micro-program's own channel, skipped. No
			// bus store happened here either, so Z needs the same resync.
			if err := s.SetZ(a + 1); err != nil {
				return err
			}
		}
	}
	return nil
}

func minU16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}
