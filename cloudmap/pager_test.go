package cloudmap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// slicePager 把二维切片当成分页数据
func slicePager(pages [][]int, failAt int) (*Pager[int], *int) {
	i := 0
	fetched := 0
	return NewPager(
		func() bool { return i < len(pages) },
		func(context.Context) ([]int, error) {
			fetched++
			if i == failAt {
				return nil, errors.New("page failed")
			}
			p := pages[i]
			i++
			return p, nil
		},
	), &fetched
}

func TestPagerDrain(t *testing.T) {
	p, fetched := slicePager([][]int{{1, 2}, {3}, {4, 5}}, -1)
	require.Equal(t, 0, *fetched, "创建 Pager 不应触发请求")

	all, err := Drain(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4, 5}, all)
	require.Equal(t, 3, p.Pages())
	require.False(t, p.HasMorePages())

	_, err = p.Next(context.Background())
	require.ErrorIs(t, err, ErrPagerExhausted)
}

func TestPagerFailureIsTerminal(t *testing.T) {
	p, fetched := slicePager([][]int{{1}, {2}, {3}}, 1)

	_, err := Drain(context.Background(), p)
	require.EqualError(t, err, "page failed")
	require.False(t, p.HasMorePages())
	require.Equal(t, 2, *fetched)

	_, err = p.Next(context.Background())
	require.ErrorIs(t, err, ErrPagerExhausted)
	require.Equal(t, 2, *fetched)
}

func TestPagerEmpty(t *testing.T) {
	p, _ := slicePager(nil, -1)
	all, err := Drain(context.Background(), p)
	require.NoError(t, err)
	require.Empty(t, all)
	require.Equal(t, 0, p.Pages())
}

func TestDrainCanceledContext(t *testing.T) {
	p, fetched := slicePager([][]int{{1}}, -1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Drain(ctx, p)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, *fetched)
	require.False(t, p.HasMorePages())
}
