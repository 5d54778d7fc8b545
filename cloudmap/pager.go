package cloudmap

import (
	"context"
)

// Pager 惰性、一次性的分页序列
//
// 每次 Next 拉取一页。最后一页返回后或任意一页失败后 Pager 即耗尽，
// 不能重新开始，需要再次遍历时应创建新的 Pager。Pager 不是并发安全的。
type Pager[T any] struct {
	hasMore func() bool
	fetch   func(ctx context.Context) ([]T, error)

	pages int
	done  bool
}

// NewPager 创建 Pager
//
// hasMore 报告上游是否还有下一页，fetch 拉取下一页并推进续页令牌。
func NewPager[T any](hasMore func() bool, fetch func(ctx context.Context) ([]T, error)) *Pager[T] {
	return &Pager[T]{hasMore: hasMore, fetch: fetch}
}

// HasMorePages 是否还能继续调用 Next
func (p *Pager[T]) HasMorePages() bool {
	if p.done {
		return false
	}
	if !p.hasMore() {
		p.done = true
	}
	return !p.done
}

// Next 拉取下一页
func (p *Pager[T]) Next(ctx context.Context) ([]T, error) {
	if !p.HasMorePages() {
		return nil, ErrPagerExhausted
	}
	items, err := p.fetch(ctx)
	if err != nil {
		p.done = true
		return nil, err
	}
	p.pages++
	return items, nil
}

// Pages 已成功拉取的页数
func (p *Pager[T]) Pages() int {
	return p.pages
}

// Drain 拉取剩余的全部页并拼接结果
//
// 任意一页失败时返回该错误并丢弃已拉取的数据。
func Drain[T any](ctx context.Context, p *Pager[T]) ([]T, error) {
	var all []T
	for p.HasMorePages() {
		if err := ctx.Err(); err != nil {
			p.done = true
			return nil, err
		}
		items, err := p.Next(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	return all, nil
}
