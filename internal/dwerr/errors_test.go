package dwerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesWrappedErr(t *testing.T) {
	inner := errors.New("usb stall")
	e := New(Transport, "send", inner)
	assert.Contains(t, e.Error(), "transport")
	assert.Contains(t, e.Error(), "send")
	assert.Contains(t, e.Error(), "usb stall")
}

func TestErrorMessageWithoutWrappedErr(t *testing.T) {
	e := New(Protocol, "out_buf overflow", nil)
	assert.Equal(t, "protocol: out_buf overflow", e.Error())
}

func TestUnwrapReturnsInner(t *testing.T) {
	inner := errors.New("boom")
	e := New(Calibration, "capture", inner)
	assert.Equal(t, inner, errors.Unwrap(e))
}

func TestIsMatchesByKindOnly(t *testing.T) {
	e := New(UnknownSignature, "connect", errors.New("whatever"))
	assert.True(t, errors.Is(e, ErrUnknownSignature))
	assert.False(t, errors.Is(e, ErrTransport))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "transport", Transport.String())
	assert.Equal(t, "calibration", Calibration.String())
	assert.Equal(t, "unknown_signature", UnknownSignature.String())
	assert.Equal(t, "protocol", Protocol.String())
}
