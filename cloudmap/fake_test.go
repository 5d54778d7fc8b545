package cloudmap

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/servicediscovery"
	"github.com/aws/aws-sdk-go-v2/service/servicediscovery/types"

	"github.com/ceyewan/cloudmap-sd/ratelimit"
)

// fakeAPI 按 MaxResults 切页的内存 Cloud Map
type fakeAPI struct {
	mu sync.Mutex

	namespaces []types.NamespaceSummary
	services   map[string][]types.ServiceSummary  // namespaceID -> services
	instances  map[string][]types.InstanceSummary // serviceID -> instances

	errs    map[string]error // op -> 注入的错误
	calls   map[string]int
	filters [][]types.ServiceFilter
	delay   time.Duration // 每次调用的延迟，用于制造并发重叠
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		services:  map[string][]types.ServiceSummary{},
		instances: map[string][]types.InstanceSummary{},
		errs:      map[string]error{},
		calls:     map[string]int{},
	}
}

func (f *fakeAPI) record(op string) error {
	f.mu.Lock()
	f.calls[op]++
	err, delay := f.errs[op], f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (f *fakeAPI) setErr(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

func (f *fakeAPI) setDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *fakeAPI) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func paginate[T any](items []T, token *string, max *int32) ([]T, *string) {
	start := 0
	if token != nil {
		start, _ = strconv.Atoi(*token)
	}
	size := len(items)
	if max != nil && *max > 0 {
		size = int(*max)
	}
	end := start + size
	if end >= len(items) {
		return items[start:], nil
	}
	return items[start:end], aws.String(strconv.Itoa(end))
}

func (f *fakeAPI) ListNamespaces(_ context.Context, in *servicediscovery.ListNamespacesInput, _ ...func(*servicediscovery.Options)) (*servicediscovery.ListNamespacesOutput, error) {
	if err := f.record(OpListNamespaces); err != nil {
		return nil, err
	}
	items, next := paginate(f.namespaces, in.NextToken, in.MaxResults)
	return &servicediscovery.ListNamespacesOutput{Namespaces: items, NextToken: next}, nil
}

func (f *fakeAPI) ListServices(_ context.Context, in *servicediscovery.ListServicesInput, _ ...func(*servicediscovery.Options)) (*servicediscovery.ListServicesOutput, error) {
	if err := f.record(OpListServices); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.filters = append(f.filters, in.Filters)
	f.mu.Unlock()

	var nsID string
	for _, flt := range in.Filters {
		if flt.Name == types.ServiceFilterNameNamespaceId && len(flt.Values) > 0 {
			nsID = flt.Values[0]
		}
	}
	items, next := paginate(f.services[nsID], in.NextToken, in.MaxResults)
	return &servicediscovery.ListServicesOutput{Services: items, NextToken: next}, nil
}

func (f *fakeAPI) ListInstances(_ context.Context, in *servicediscovery.ListInstancesInput, _ ...func(*servicediscovery.Options)) (*servicediscovery.ListInstancesOutput, error) {
	if err := f.record(OpListInstances); err != nil {
		return nil, err
	}
	items, next := paginate(f.instances[aws.ToString(in.ServiceId)], in.NextToken, in.MaxResults)
	return &servicediscovery.ListInstancesOutput{Instances: items, NextToken: next}, nil
}

// countingLimiter 记录每个键的 Wait 次数
type countingLimiter struct {
	mu    sync.Mutex
	waits map[string]int
	err   error
}

func (l *countingLimiter) Allow(ctx context.Context, key string, limit ratelimit.Limit) (bool, error) {
	return l.AllowN(ctx, key, limit, 1)
}

func (l *countingLimiter) AllowN(context.Context, string, ratelimit.Limit, int) (bool, error) {
	return true, nil
}

func (l *countingLimiter) Wait(_ context.Context, key string, _ ratelimit.Limit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.waits == nil {
		l.waits = map[string]int{}
	}
	l.waits[key]++
	return l.err
}

func (l *countingLimiter) Close() error { return nil }
