package testkit

import (
	"context"
	"sync"
	"time"

	"github.com/ceyewan/cloudmap-sd/cloudmap"
	"github.com/ceyewan/cloudmap-sd/xerrors"
)

// FakeRegistry 内存中的 Cloud Map 快照，并发安全
//
// 实现与 *cloudmap.Client 相同的三个列表方法，返回顺序即添加顺序。
type FakeRegistry struct {
	mu sync.Mutex

	namespaces []cloudmap.Namespace
	services   map[string][]cloudmap.Service  // namespaceID -> services
	instances  map[string][]cloudmap.Instance // serviceID -> instances

	failures map[string]error // op 或 op/id -> 错误
	calls    map[string]int
	delay    time.Duration

	inFlight    int
	maxInFlight int
}

// NewFakeRegistry 创建空的 FakeRegistry
func NewFakeRegistry() *FakeRegistry {
	return &FakeRegistry{
		services:  map[string][]cloudmap.Service{},
		instances: map[string][]cloudmap.Instance{},
		failures:  map[string]error{},
		calls:     map[string]int{},
	}
}

// AddNamespace 添加命名空间
func (f *FakeRegistry) AddNamespace(id, name string) *FakeRegistry {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.namespaces = append(f.namespaces, cloudmap.Namespace{ID: id, Name: name, Type: "DNS_PRIVATE"})
	return f
}

// AddService 在命名空间下添加服务
func (f *FakeRegistry) AddService(namespaceID, id, name string) *FakeRegistry {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[namespaceID] = append(f.services[namespaceID], cloudmap.Service{ID: id, Name: name, NamespaceID: namespaceID})
	return f
}

// AddInstance 在服务下添加实例
func (f *FakeRegistry) AddInstance(serviceID, id string, attrs map[string]string) *FakeRegistry {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[serviceID] = append(f.instances[serviceID], cloudmap.Instance{ID: id, ServiceID: serviceID, Attributes: attrs})
	return f
}

// AddIPv4 添加只带 AWS_INSTANCE_IPV4 属性的实例，实例 ID 与地址相同
func (f *FakeRegistry) AddIPv4(serviceID string, ips ...string) *FakeRegistry {
	for _, ip := range ips {
		f.AddInstance(serviceID, ip, map[string]string{"AWS_INSTANCE_IPV4": ip})
	}
	return f
}

// FailOn 让操作返回 err；id 为空时对该操作的所有调用生效，
// 否则只对指定的 namespaceID / serviceID 生效
func (f *FakeRegistry) FailOn(op, id string, err error) *FakeRegistry {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[failureKey(op, id)] = err
	return f
}

// SetDelay 每次调用在返回前等待 d，用于观察并发度
func (f *FakeRegistry) SetDelay(d time.Duration) *FakeRegistry {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
	return f
}

// Calls 返回操作被调用的次数
func (f *FakeRegistry) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls 返回全部操作的调用次数
func (f *FakeRegistry) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// MaxInFlight 返回观察到的最大并发调用数
func (f *FakeRegistry) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// ListNamespaces 实现 discovery.Registry
func (f *FakeRegistry) ListNamespaces(ctx context.Context) ([]cloudmap.Namespace, error) {
	if err := f.enter(ctx, cloudmap.OpListNamespaces, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cloudmap.Namespace(nil), f.namespaces...), nil
}

// ListServices 实现 discovery.Registry
func (f *FakeRegistry) ListServices(ctx context.Context, namespaceID string) ([]cloudmap.Service, error) {
	if err := f.enter(ctx, cloudmap.OpListServices, namespaceID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cloudmap.Service(nil), f.services[namespaceID]...), nil
}

// ListInstances 实现 discovery.Registry
func (f *FakeRegistry) ListInstances(ctx context.Context, serviceID string) ([]cloudmap.Instance, error) {
	if err := f.enter(ctx, cloudmap.OpListInstances, serviceID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cloudmap.Instance(nil), f.instances[serviceID]...), nil
}

// enter 记录调用、模拟延迟并返回注入的错误
func (f *FakeRegistry) enter(ctx context.Context, op, id string) error {
	f.mu.Lock()
	f.calls[op]++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.delay
	err, ok := f.failures[failureKey(op, id)]
	if !ok {
		err = f.failures[failureKey(op, "")]
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return &cloudmap.Error{Op: op, Kind: cloudmap.KindUnavailable, Err: ctx.Err()}
		}
	}
	return err
}

func failureKey(op, id string) string {
	if id == "" {
		return op
	}
	return op + "/" + id
}

// AuthError 构造鉴权失败的 *cloudmap.Error
func AuthError(op string) error {
	return &cloudmap.Error{Op: op, Kind: cloudmap.KindAuth,
		Err: xerrors.Wrap(xerrors.ErrUnauthorized, "AccessDeniedException: not authorized to perform servicediscovery:"+op)}
}

// UnavailableError 构造上游不可用的 *cloudmap.Error
func UnavailableError(op string) error {
	return &cloudmap.Error{Op: op, Kind: cloudmap.KindUnavailable,
		Err: xerrors.Wrap(xerrors.ErrUnavailable, "ServiceUnavailable")}
}

// ProdLocal 返回经典场景：命名空间 prod.local 下 frontend 有 10.0.0.1，
// backend 有 10.0.0.2 和 10.0.0.3
func ProdLocal() *FakeRegistry {
	return NewFakeRegistry().
		AddNamespace("ns-prod", "prod.local").
		AddService("ns-prod", "srv-frontend", "frontend").
		AddService("ns-prod", "srv-backend", "backend").
		AddIPv4("srv-frontend", "10.0.0.1").
		AddIPv4("srv-backend", "10.0.0.3", "10.0.0.2")
}
