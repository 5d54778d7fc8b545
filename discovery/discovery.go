// Package discovery 把 Cloud Map 注册信息聚合成 Prometheus HTTP SD 的目标组。
//
// 一次发现流程分三个阶段：列出命名空间并按名称精确过滤，并发列出每个命名空间
// 的服务，再并发列出每个服务的实例。两个并发阶段共用 Config.Concurrency 上限，
// 阶段之间完全排空，因此任意时刻进行中的注册中心调用不会超过该上限。
// 实例按 (命名空间名, 服务名) 分组、去重、排序，同一快照两次输出逐字节一致。
//
// 基本使用：
//
//	agg, err := discovery.New(client, &cfg.Discovery, discovery.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	groups, err := agg.Discover(ctx)
//	switch {
//	case discovery.IsTotalFailure(err):
//	    // 没有可用数据
//	case err != nil:
//	    // 部分结果，groups 仍可用
//	}
package discovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/ceyewan/cloudmap-sd/clog"
	"github.com/ceyewan/cloudmap-sd/cloudmap"
	"github.com/ceyewan/cloudmap-sd/metrics"
	"github.com/ceyewan/cloudmap-sd/trace"
	"github.com/ceyewan/cloudmap-sd/xerrors"
)

// Registry 注册中心的三个完整翻页的列表操作，*cloudmap.Client 满足该接口
type Registry interface {
	ListNamespaces(ctx context.Context) ([]cloudmap.Namespace, error)
	ListServices(ctx context.Context, namespaceID string) ([]cloudmap.Service, error)
	ListInstances(ctx context.Context, serviceID string) ([]cloudmap.Instance, error)
}

// 目标组标签
const (
	LabelNamespaceName = "__meta_cloudmap_namespace_name"
	LabelServiceName   = "__meta_cloudmap_service_name"

	// 以下仅在 Config.ExtraLabels 开启时输出
	LabelNamespaceID   = "__meta_cloudmap_namespace_id"
	LabelNamespaceType = "__meta_cloudmap_namespace_type"
	LabelServiceID     = "__meta_cloudmap_service_id"
)

// TargetGroup Prometheus HTTP SD 的目标组
type TargetGroup struct {
	Targets []string          `json:"targets"`
	Labels  map[string]string `json:"labels"`
}

// ErrRegistryNil 未提供注册中心
var ErrRegistryNil = xerrors.Wrap(xerrors.ErrInvalidInput, "discovery: registry is nil")

// Aggregator 发现流程的入口，并发安全，请求之间不共享可变状态
type Aggregator struct {
	registry Registry
	cfg      Config
	logger   clog.Logger

	duration metrics.Histogram
	passes   metrics.Counter
	groups   metrics.Gauge
	targets  metrics.Gauge
	skipped  metrics.Counter
	noAddr   metrics.Counter
}

// New 创建 Aggregator，cfg 会被复制
func New(registry Registry, cfg *Config, opts ...Option) (*Aggregator, error) {
	if registry == nil {
		return nil, ErrRegistryNil
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}
	opt.applyDefaults()

	a := &Aggregator{
		registry: registry,
		cfg:      cfg.normalized(),
		logger:   opt.logger,
	}

	m := opt.meter
	a.duration, _ = m.Histogram(MetricDiscoveryDuration, "Duration of discovery passes.",
		metrics.WithUnit("s"),
		metrics.WithBuckets([]float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25}))
	a.passes, _ = m.Counter(MetricDiscoveryTotal, "Discovery passes by outcome.")
	a.groups, _ = m.Gauge(MetricTargetGroups, "Target groups returned by the last discovery pass.")
	a.targets, _ = m.Gauge(MetricTargets, "Targets returned by the last discovery pass.")
	a.skipped, _ = m.Counter(MetricSkippedListings, "Registry listings skipped under the partial failure policy.")
	a.noAddr, _ = m.Counter(MetricInstancesWithoutAddress, "Instances skipped because no usable address attribute was found.")

	a.logger.Info("discovery aggregator created",
		clog.String("namespace_filter", a.cfg.Namespace),
		clog.Int("concurrency", a.cfg.Concurrency),
		clog.String("failure_policy", string(a.cfg.FailurePolicy)),
		clog.Duration("timeout", a.cfg.Timeout))
	return a, nil
}

// Config 返回生效的配置副本
func (a *Aggregator) Config() Config {
	c := a.cfg
	c.AddressKeys = append([]string(nil), a.cfg.AddressKeys...)
	c.PortKeys = append([]string(nil), a.cfg.PortKeys...)
	return c
}

// Discover 执行一次完整的发现流程
//
// 成功时 err 为 nil；partial 策略下有调用被跳过时同时返回已获得的目标组和
// *PartialResultError；其余错误返回 nil 目标组。结果永远不为 nil 切片。
func (a *Aggregator) Discover(ctx context.Context) ([]TargetGroup, error) {
	start := time.Now()
	ctx, span := trace.StartDiscoverySpan(ctx,
		attribute.String(trace.AttrNamespaceName, a.cfg.Namespace),
		attribute.String("cloudmap_sd.failure_policy", string(a.cfg.FailurePolicy)),
	)

	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	groups, err := a.discover(ctx)
	elapsed := time.Since(start)

	outcome := metrics.OutcomeSuccess
	switch {
	case IsTotalFailure(err):
		outcome = metrics.OutcomeError
		a.logger.ErrorContext(ctx, "discovery pass failed",
			clog.Duration("duration", elapsed), clog.Error(err))
	case err != nil:
		outcome = metrics.OutcomePartial
		a.logger.WarnContext(ctx, "discovery pass returned partial result",
			clog.Int("groups", len(groups)),
			clog.Int("skipped", SkippedCount(err)),
			clog.Duration("duration", elapsed),
			clog.Error(err))
	default:
		a.logger.InfoContext(ctx, "discovery pass completed",
			clog.Int("groups", len(groups)),
			clog.Int("targets", countTargets(groups)),
			clog.Duration("duration", elapsed))
	}

	a.record(ctx, outcome, groups, elapsed)

	span.SetAttributes(
		attribute.Int("cloudmap_sd.target_groups", len(groups)),
		attribute.Int("cloudmap_sd.skipped", SkippedCount(err)),
	)
	if IsTotalFailure(err) {
		trace.End(span, err)
		return nil, err
	}
	trace.End(span, nil)
	return groups, err
}

// serviceRef 阶段三的工作单元
type serviceRef struct {
	ns  cloudmap.Namespace
	svc cloudmap.Service
}

// pass 单次发现流程的临时状态
type pass struct {
	policy FailurePolicy

	mu      sync.Mutex
	skipped []SkippedListing
}

// fail 处理一次失败的列表调用：返回非 nil 表示终止整个流程
func (p *pass) fail(ctx context.Context, s SkippedListing) error {
	if p.policy == FailurePolicyStrict || isFatal(s.Err) || ctx.Err() != nil {
		return s.Err
	}
	p.mu.Lock()
	p.skipped = append(p.skipped, s)
	p.mu.Unlock()
	return nil
}

func (p *pass) skippedIn(stage string) []SkippedListing {
	var out []SkippedListing
	for _, s := range p.skipped {
		if s.Stage == stage {
			out = append(out, s)
		}
	}
	return out
}

func (a *Aggregator) discover(ctx context.Context) ([]TargetGroup, error) {
	all, err := a.registry.ListNamespaces(ctx)
	if err != nil {
		return nil, classify(err)
	}

	namespaces := filterNamespaces(all, a.cfg.Namespace)
	if len(namespaces) == 0 {
		a.logger.DebugContext(ctx, "no namespace matched",
			clog.String("namespace_filter", a.cfg.Namespace),
			clog.Int("namespaces", len(all)))
		return []TargetGroup{}, nil
	}

	p := &pass{policy: a.cfg.FailurePolicy}

	services := make([][]cloudmap.Service, len(namespaces))
	err = a.fanOut(ctx, len(namespaces), func(ctx context.Context, i int) error {
		ns := namespaces[i]
		svcs, err := a.registry.ListServices(ctx, ns.ID)
		if err != nil {
			return p.fail(ctx, SkippedListing{Stage: StageServices, Namespace: ns.Name, ID: ns.ID, Err: err})
		}
		services[i] = svcs
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if s := p.skippedIn(StageServices); len(s) == len(namespaces) {
		return nil, classify(s[0].Err)
	}

	var refs []serviceRef
	for i, ns := range namespaces {
		for _, svc := range services[i] {
			refs = append(refs, serviceRef{ns: ns, svc: svc})
		}
	}

	instances := make([][]cloudmap.Instance, len(refs))
	err = a.fanOut(ctx, len(refs), func(ctx context.Context, i int) error {
		ref := refs[i]
		insts, err := a.registry.ListInstances(ctx, ref.svc.ID)
		if err != nil {
			return p.fail(ctx, SkippedListing{
				Stage:     StageInstances,
				Namespace: ref.ns.Name,
				Service:   ref.svc.Name,
				ID:        ref.svc.ID,
				Err:       err,
			})
		}
		instances[i] = insts
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if s := p.skippedIn(StageInstances); len(refs) > 0 && len(s) == len(refs) {
		return nil, classify(s[0].Err)
	}

	groups := a.group(ctx, refs, instances)

	if len(p.skipped) > 0 {
		sortSkipped(p.skipped)
		for _, s := range p.skipped {
			a.logger.WarnContext(ctx, "registry listing skipped",
				clog.String("stage", s.Stage),
				clog.String("namespace_name", s.Namespace),
				clog.String("service_name", s.Service),
				clog.String("id", s.ID),
				clog.Error(s.Err))
			if a.skipped != nil {
				a.skipped.Inc(ctx, metrics.L(metrics.LabelStage, s.Stage))
			}
		}
		return groups, &PartialResultError{Skipped: p.skipped}
	}
	return groups, nil
}

// fanOut 以 Concurrency 为上限并发执行 fn(0..n-1) 并等待全部完成
func (a *Aggregator) fanOut(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

type groupKey struct {
	namespace string
	service   string
}

type groupBuilder struct {
	targets  map[string]struct{}
	sourceID string
	labels   map[string]string
}

// group 按 (命名空间名, 服务名) 聚合实例地址
func (a *Aggregator) group(ctx context.Context, refs []serviceRef, instances [][]cloudmap.Instance) []TargetGroup {
	builders := make(map[groupKey]*groupBuilder)

	for i, ref := range refs {
		for _, inst := range instances[i] {
			res, ok := extractTarget(inst.Attributes, a.cfg.AddressKeys, a.cfg.PortKeys)
			if !ok {
				a.logger.WarnContext(ctx, "instance has no usable address",
					clog.String("namespace_name", ref.ns.Name),
					clog.String("service_name", ref.svc.Name),
					clog.String("instance_id", inst.ID))
				if a.noAddr != nil {
					a.noAddr.Inc(ctx)
				}
				continue
			}
			if res.badPort != "" {
				a.logger.WarnContext(ctx, "instance port is invalid, using host only",
					clog.String("namespace_name", ref.ns.Name),
					clog.String("service_name", ref.svc.Name),
					clog.String("instance_id", inst.ID),
					clog.String("port", res.badPort))
			}

			key := groupKey{namespace: ref.ns.Name, service: ref.svc.Name}
			b, ok := builders[key]
			if !ok {
				b = &groupBuilder{targets: make(map[string]struct{})}
				builders[key] = b
			}
			b.targets[res.target] = struct{}{}

			// 同名合并时取最小的服务 ID，保证额外标签稳定
			if b.sourceID == "" || ref.svc.ID < b.sourceID {
				b.sourceID = ref.svc.ID
				b.labels = a.labels(ref)
			}
		}
	}

	keys := make([]groupKey, 0, len(builders))
	for k := range builders {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].namespace != keys[j].namespace {
			return keys[i].namespace < keys[j].namespace
		}
		return keys[i].service < keys[j].service
	})

	groups := make([]TargetGroup, 0, len(keys))
	for _, k := range keys {
		b := builders[k]
		targets := make([]string, 0, len(b.targets))
		for t := range b.targets {
			targets = append(targets, t)
		}
		sort.Strings(targets)
		groups = append(groups, TargetGroup{Targets: targets, Labels: b.labels})
	}
	return groups
}

func (a *Aggregator) labels(ref serviceRef) map[string]string {
	labels := map[string]string{
		LabelNamespaceName: ref.ns.Name,
		LabelServiceName:   ref.svc.Name,
	}
	if a.cfg.ExtraLabels {
		labels[LabelNamespaceID] = ref.ns.ID
		labels[LabelServiceID] = ref.svc.ID
		if ref.ns.Type != "" {
			labels[LabelNamespaceType] = ref.ns.Type
		}
	}
	return labels
}

func (a *Aggregator) record(ctx context.Context, outcome string, groups []TargetGroup, elapsed time.Duration) {
	if a.duration != nil {
		a.duration.Record(ctx, elapsed.Seconds(), metrics.L(metrics.LabelOutcome, outcome))
	}
	if a.passes != nil {
		a.passes.Inc(ctx, metrics.L(metrics.LabelOutcome, outcome))
	}
	if outcome == metrics.OutcomeError {
		return
	}
	if a.groups != nil {
		a.groups.Set(ctx, float64(len(groups)))
	}
	if a.targets != nil {
		a.targets.Set(ctx, float64(countTargets(groups)))
	}
}

// filterNamespaces 精确匹配名称，filter 为空时保留全部
func filterNamespaces(all []cloudmap.Namespace, filter string) []cloudmap.Namespace {
	if filter == "" {
		return all
	}
	var out []cloudmap.Namespace
	for _, ns := range all {
		if ns.Name == filter {
			out = append(out, ns)
		}
	}
	return out
}

func sortSkipped(s []SkippedListing) {
	sort.Slice(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.Service != b.Service {
			return a.Service < b.Service
		}
		return a.ID < b.ID
	})
}

func countTargets(groups []TargetGroup) int {
	n := 0
	for _, g := range groups {
		n += len(g.Targets)
	}
	return n
}
