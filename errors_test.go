package antidebug

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDenialErrorIs(t *testing.T) {
	err := fmt.Errorf("startup: %w", denialError(KindDebuggerAttached, "tracer check", nil))

	assert.ErrorIs(t, err, ErrDebuggerAttached)
	assert.NotErrorIs(t, err, ErrAlreadyDenied)
	assert.NotErrorIs(t, err, ErrUnsupported)

	var de *DenialError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "tracer check", de.Op)
}

func TestDenialErrorCarriesOSCode(t *testing.T) {
	err := denialError(KindOS, "ptrace seize", syscall.ESRCH)

	assert.ErrorIs(t, err, syscall.ESRCH)
	code, ok := OSCode(err)
	require.True(t, ok)
	assert.Equal(t, uintptr(syscall.ESRCH), code)
	assert.Contains(t, err.Error(), "ptrace seize")
}

func TestOSCodeAbsent(t *testing.T) {
	_, ok := OSCode(errors.New("plain"))
	assert.False(t, ok)
	_, ok = OSCode(&DenialError{Kind: KindAlreadyDenied})
	assert.False(t, ok)
}

func TestDenialErrorMessage(t *testing.T) {
	tests := []struct {
		err  *DenialError
		want string
	}{
		{&DenialError{Kind: KindAlreadyDenied}, "antidebug: deny attach: already denied"},
		{&DenialError{Kind: KindUnsupported, Op: "sentinel", Err: errors.New("no")}, "antidebug: deny attach: unsupported: sentinel: no"},
		{&DenialError{Kind: KindOS, Op: "x", Code: 5}, "antidebug: deny attach: os error: x: code 0x5"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestErrorKindText(t *testing.T) {
	for _, kind := range []ErrorKind{KindOS, KindAlreadyDenied, KindDebuggerAttached, KindUnsupported} {
		text, err := kind.MarshalText()
		require.NoError(t, err)

		var got ErrorKind
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, kind, got)
	}

	var k ErrorKind
	assert.Error(t, k.UnmarshalText([]byte("bogus")))
}
