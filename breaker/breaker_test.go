package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ceyewan/cloudmap-sd/clog"
	"github.com/ceyewan/cloudmap-sd/xerrors"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func newTestBreaker(t *testing.T, cfg *Config, opts ...Option) Breaker {
	t.Helper()
	opts = append([]Option{WithLogger(clog.Discard())}, opts...)
	brk, err := New(cfg, opts...)
	require.NoError(t, err)
	return brk
}

func failing() (any, error) { return nil, errUpstream }

func TestNewNilConfig(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrConfigNil)
	require.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestDisabledIsPassthrough(t *testing.T) {
	brk := newTestBreaker(t, &Config{Enabled: false})

	for i := 0; i < 20; i++ {
		_, err := brk.Execute(context.Background(), "ListInstances", failing)
		require.ErrorIs(t, err, errUpstream)
	}
	require.Equal(t, StateClosed, brk.State("ListInstances"))
}

func TestExecuteSuccess(t *testing.T) {
	brk := newTestBreaker(t, &Config{Enabled: true, MinimumRequests: 3})

	got, err := brk.Execute(context.Background(), "ListServices", func() (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, StateClosed, brk.State("ListServices"))
}

func TestExecuteEmptyKey(t *testing.T) {
	brk := newTestBreaker(t, &Config{Enabled: true})
	_, err := brk.Execute(context.Background(), "", failing)
	require.ErrorIs(t, err, ErrKeyEmpty)
}

func TestTripsAfterFailures(t *testing.T) {
	brk := newTestBreaker(t, &Config{
		Enabled:         true,
		Timeout:         time.Minute,
		FailureRatio:    0.5,
		MinimumRequests: 3,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := brk.Execute(ctx, "ListInstances", failing)
		require.ErrorIs(t, err, errUpstream)
	}
	require.Equal(t, StateOpen, brk.State("ListInstances"))

	called := false
	_, err := brk.Execute(ctx, "ListInstances", func() (any, error) {
		called = true
		return nil, nil
	})
	require.ErrorIs(t, err, ErrOpenState)
	require.ErrorIs(t, err, xerrors.ErrUnavailable)
	require.False(t, called)

	// 其他键互不影响
	require.Equal(t, StateClosed, brk.State("ListNamespaces"))
	_, err = brk.Execute(ctx, "ListNamespaces", func() (any, error) { return nil, nil })
	require.NoError(t, err)
}

func TestHalfOpenRecovers(t *testing.T) {
	brk := newTestBreaker(t, &Config{
		Enabled:         true,
		MaxRequests:     1,
		Timeout:         50 * time.Millisecond,
		FailureRatio:    0.5,
		MinimumRequests: 2,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = brk.Execute(ctx, "ListServices", failing)
	}
	require.Equal(t, StateOpen, brk.State("ListServices"))

	require.Eventually(t, func() bool {
		return brk.State("ListServices") == StateHalfOpen
	}, time.Second, 10*time.Millisecond)

	_, err := brk.Execute(ctx, "ListServices", func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, StateClosed, brk.State("ListServices"))
}

func TestHalfOpenSaturationIsDistinct(t *testing.T) {
	brk := newTestBreaker(t, &Config{
		Enabled:         true,
		MaxRequests:     1,
		Timeout:         50 * time.Millisecond,
		FailureRatio:    0.5,
		MinimumRequests: 2,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = brk.Execute(ctx, "ListInstances", failing)
	}
	require.Eventually(t, func() bool {
		return brk.State("ListInstances") == StateHalfOpen
	}, time.Second, 10*time.Millisecond)

	entered, release := make(chan struct{}), make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := brk.Execute(ctx, "ListInstances", func() (any, error) {
			close(entered)
			<-release
			return "ok", nil
		})
		done <- err
	}()
	<-entered

	// 唯一的试探名额被占用
	_, err := brk.Execute(ctx, "ListInstances", func() (any, error) { return "ok", nil })
	require.ErrorIs(t, err, ErrTooManyRequests)
	require.NotErrorIs(t, err, ErrOpenState)
	require.ErrorIs(t, err, xerrors.ErrUnavailable)

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, StateClosed, brk.State("ListInstances"))
}

func TestIsSuccessfulErrorsDoNotTrip(t *testing.T) {
	errAuth := errors.New("access denied")
	brk := newTestBreaker(t, &Config{Enabled: true, FailureRatio: 0.5, MinimumRequests: 2},
		WithIsSuccessful(func(err error) bool {
			return err == nil || errors.Is(err, errAuth)
		}),
	)

	for i := 0; i < 10; i++ {
		_, err := brk.Execute(context.Background(), "ListNamespaces", func() (any, error) {
			return nil, errAuth
		})
		require.ErrorIs(t, err, errAuth)
	}
	require.Equal(t, StateClosed, brk.State("ListNamespaces"))
}

func TestStateString(t *testing.T) {
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "half_open", StateHalfOpen.String())
	require.Equal(t, "open", StateOpen.String())
	require.Equal(t, "unknown", State(42).String())
}
