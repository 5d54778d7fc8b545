package xerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	// nil 错误应返回 nil
	require.NoError(t, Wrap(nil, "context"))
	require.NoError(t, Wrapf(nil, "namespace %s", "prod"))

	base := errors.New("base error")
	wrapped := Wrap(base, "context")
	require.EqualError(t, wrapped, "context: base error")
	require.ErrorIs(t, wrapped, base)

	wrapped = Wrapf(base, "list services of %s", "ns-1")
	require.EqualError(t, wrapped, "list services of ns-1: base error")
}

func TestWithCode(t *testing.T) {
	require.NoError(t, WithCode(nil, "CODE"))

	base := errors.New("access denied")
	coded := WithCode(base, "CLOUDMAP_AUTH")
	require.EqualError(t, coded, "[CLOUDMAP_AUTH] access denied")
	require.Equal(t, "CLOUDMAP_AUTH", GetCode(coded))
	require.ErrorIs(t, coded, base)

	// 包装后依然能取到错误码
	wrapped := Wrap(coded, "discover")
	require.Equal(t, "CLOUDMAP_AUTH", GetCode(wrapped))

	require.Equal(t, "", GetCode(base))
	require.Equal(t, "[EMPTY]", (&CodedError{Code: "EMPTY"}).Error())
}

func TestCombine(t *testing.T) {
	require.NoError(t, Combine())
	require.NoError(t, Combine(nil, nil))

	err1 := errors.New("error 1")
	require.Same(t, err1, Combine(nil, err1, nil))

	err2 := errors.New("error 2")
	combined := Combine(err1, err2)
	var multi *MultiError
	require.True(t, errors.As(combined, &multi))
	require.Len(t, multi.Errors, 2)
	require.EqualError(t, combined, "error 1 (and 1 more errors)")
	require.ErrorIs(t, combined, err1)
	require.ErrorIs(t, combined, err2)

	require.Equal(t, "no errors", (&MultiError{}).Error())
}

func TestSentinelErrors(t *testing.T) {
	err := fmt.Errorf("list instances: %w", ErrUnavailable)
	require.True(t, Is(err, ErrUnavailable))
	require.False(t, Is(err, ErrUnauthorized))

	joined := Join(ErrTimeout, ErrCanceled)
	require.True(t, Is(joined, ErrTimeout))
	require.True(t, Is(joined, ErrCanceled))
}
