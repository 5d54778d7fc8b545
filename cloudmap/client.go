package cloudmap

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/servicediscovery"
	"github.com/aws/aws-sdk-go-v2/service/servicediscovery/types"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/cloudmap-sd/breaker"
	"github.com/ceyewan/cloudmap-sd/clog"
	"github.com/ceyewan/cloudmap-sd/metrics"
	"github.com/ceyewan/cloudmap-sd/ratelimit"
	"github.com/ceyewan/cloudmap-sd/trace"
	"github.com/ceyewan/cloudmap-sd/xerrors"
)

// Client Cloud Map 列表客户端，并发安全
type Client struct {
	api     API
	cfg     Config
	logger  clog.Logger
	limiter ratelimit.Limiter
	limit   ratelimit.Limit
	breaker breaker.Breaker

	calls    metrics.Counter
	duration metrics.Histogram
}

// New 通过 SDK 默认凭证链创建 Client
func New(ctx context.Context, cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	c.setDefaults()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = c.MaxAttempts
				o.MaxBackoff = c.MaxBackoff
			})
		}),
	}
	if c.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(c.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, xerrors.Combine(ErrConfig, err)
	}

	api := servicediscovery.NewFromConfig(awsCfg, func(o *servicediscovery.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	})

	client := NewWithAPI(api, &c, opts...)
	if awsCfg.Region == "" {
		client.logger.Warn("no aws region resolved, registry calls will fail until one is configured")
	}
	client.logger.Info("cloudmap client created",
		clog.String("region", awsCfg.Region),
		clog.String("endpoint", c.Endpoint),
		clog.Int("max_attempts", c.MaxAttempts))
	return client, nil
}

// NewWithAPI 基于给定的 API 实现创建 Client
func NewWithAPI(api API, cfg *Config, opts ...Option) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}
	opt.applyDefaults()

	client := &Client{
		api:     api,
		cfg:     c,
		logger:  opt.logger,
		limiter: opt.limiter,
		limit:   opt.limit,
		breaker: opt.breaker,
	}
	client.calls, _ = opt.meter.Counter(MetricRegistryCalls, "Cloud Map page requests by operation and outcome.")
	client.duration, _ = opt.meter.Histogram(MetricRegistryCallDuration, "Cloud Map page request latency.",
		metrics.WithUnit("s"),
		metrics.WithBuckets([]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}))
	return client
}

// ListNamespaces 列出全部命名空间
func (c *Client) ListNamespaces(ctx context.Context) ([]Namespace, error) {
	ctx, span := trace.StartRegistrySpan(ctx, OpListNamespaces)
	p := c.NamespacePager()
	items, err := Drain(ctx, p)
	c.finish(ctx, span, OpListNamespaces, p.Pages(), len(items), err)
	if err != nil {
		return nil, newError(OpListNamespaces, err)
	}
	return items, nil
}

// ListServices 列出命名空间下的全部服务
func (c *Client) ListServices(ctx context.Context, namespaceID string) ([]Service, error) {
	ctx, span := trace.StartRegistrySpan(ctx, OpListServices,
		attribute.String(trace.AttrNamespaceID, namespaceID))
	p := c.ServicePager(namespaceID)
	items, err := Drain(ctx, p)
	c.finish(ctx, span, OpListServices, p.Pages(), len(items), err)
	if err != nil {
		return nil, newError(OpListServices, err)
	}
	return items, nil
}

// ListInstances 列出服务下的全部实例
func (c *Client) ListInstances(ctx context.Context, serviceID string) ([]Instance, error) {
	ctx, span := trace.StartRegistrySpan(ctx, OpListInstances,
		attribute.String(trace.AttrServiceID, serviceID))
	p := c.InstancePager(serviceID)
	items, err := Drain(ctx, p)
	c.finish(ctx, span, OpListInstances, p.Pages(), len(items), err)
	if err != nil {
		return nil, newError(OpListInstances, err)
	}
	return items, nil
}

// NamespacePager 返回命名空间的分页序列，首次 Next 时才发起请求
func (c *Client) NamespacePager() *Pager[Namespace] {
	sdk := servicediscovery.NewListNamespacesPaginator(c.api, &servicediscovery.ListNamespacesInput{},
		func(o *servicediscovery.ListNamespacesPaginatorOptions) { o.Limit = c.cfg.PageSize })

	return NewPager(sdk.HasMorePages, func(ctx context.Context) ([]Namespace, error) {
		out, err := doPage(ctx, c, OpListNamespaces, sdk.NextPage)
		if err != nil {
			return nil, err
		}
		items := make([]Namespace, 0, len(out.Namespaces))
		for _, ns := range out.Namespaces {
			items = append(items, Namespace{
				ID:   aws.ToString(ns.Id),
				Name: nameOrUnknown(ns.Name),
				Type: string(ns.Type),
			})
		}
		return items, nil
	})
}

// ServicePager 返回指定命名空间下服务的分页序列
func (c *Client) ServicePager(namespaceID string) *Pager[Service] {
	input := &servicediscovery.ListServicesInput{
		Filters: []types.ServiceFilter{{
			Name:      types.ServiceFilterNameNamespaceId,
			Values:    []string{namespaceID},
			Condition: types.FilterConditionEq,
		}},
	}
	sdk := servicediscovery.NewListServicesPaginator(c.api, input,
		func(o *servicediscovery.ListServicesPaginatorOptions) { o.Limit = c.cfg.PageSize })

	return NewPager(sdk.HasMorePages, func(ctx context.Context) ([]Service, error) {
		out, err := doPage(ctx, c, OpListServices, sdk.NextPage)
		if err != nil {
			return nil, err
		}
		items := make([]Service, 0, len(out.Services))
		for _, svc := range out.Services {
			items = append(items, Service{
				ID:          aws.ToString(svc.Id),
				Name:        nameOrUnknown(svc.Name),
				NamespaceID: namespaceID,
			})
		}
		return items, nil
	})
}

// InstancePager 返回指定服务下实例的分页序列
func (c *Client) InstancePager(serviceID string) *Pager[Instance] {
	input := &servicediscovery.ListInstancesInput{ServiceId: aws.String(serviceID)}
	sdk := servicediscovery.NewListInstancesPaginator(c.api, input,
		func(o *servicediscovery.ListInstancesPaginatorOptions) { o.Limit = c.cfg.PageSize })

	return NewPager(sdk.HasMorePages, func(ctx context.Context) ([]Instance, error) {
		out, err := doPage(ctx, c, OpListInstances, sdk.NextPage)
		if err != nil {
			return nil, err
		}
		items := make([]Instance, 0, len(out.Instances))
		for _, inst := range out.Instances {
			attrs := make(map[string]string, len(inst.Attributes))
			for k, v := range inst.Attributes {
				attrs[k] = v
			}
			items = append(items, Instance{
				ID:         aws.ToString(inst.Id),
				ServiceID:  serviceID,
				Attributes: attrs,
			})
		}
		return items, nil
	})
}

// doPage 发起一页请求：限流等待，然后在熔断器内调用 SDK
func doPage[O any](ctx context.Context, c *Client, op string,
	next func(context.Context, ...func(*servicediscovery.Options)) (O, error),
) (O, error) {
	var zero O
	start := time.Now()

	if err := c.limiter.Wait(ctx, op, c.limit); err != nil {
		e := newError(op, err)
		c.observe(ctx, op, string(e.Kind), time.Since(start))
		return zero, e
	}

	res, err := c.executeSaturated(ctx, op, func() (any, error) {
		return next(ctx)
	})
	if err != nil {
		e := newError(op, err)
		c.observe(ctx, op, string(e.Kind), time.Since(start))
		return zero, e
	}

	c.observe(ctx, op, outcomeSuccess, time.Since(start))
	return res.(O), nil
}

// nameOrUnknown SDK 未返回名称时使用 UnknownName
func nameOrUnknown(name *string) string {
	if n := aws.ToString(name); n != "" {
		return n
	}
	return UnknownName
}

const (
	halfOpenRetryMin = 10 * time.Millisecond
	halfOpenRetryMax = 200 * time.Millisecond
)

// executeSaturated 在熔断器内执行 fn。半开状态下试探名额已满时退避重试，
// 直到试探结束（熔断关闭或重新打开）或 ctx 结束
func (c *Client) executeSaturated(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	delay := halfOpenRetryMin
	for {
		res, err := c.breaker.Execute(ctx, op, fn)
		if !xerrors.Is(err, breaker.ErrTooManyRequests) {
			return res, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, halfOpenRetryMax)
	}
}

func (c *Client) observe(ctx context.Context, op, outcome string, d time.Duration) {
	if c.calls != nil {
		c.calls.Inc(ctx, metrics.L(metrics.LabelOperation, op), metrics.L(metrics.LabelOutcome, outcome))
	}
	if c.duration != nil {
		c.duration.Record(ctx, d.Seconds(), metrics.L(metrics.LabelOperation, op))
	}
}

func (c *Client) finish(ctx context.Context, span oteltrace.Span, op string, pages, items int, err error) {
	span.SetAttributes(
		attribute.Int(trace.AttrPageCount, pages),
		attribute.Int(trace.AttrItemCount, items),
	)
	trace.End(span, err)

	if err != nil {
		c.logger.WarnContext(ctx, "registry listing failed",
			clog.String("operation", op),
			clog.String("kind", string(Classify(err))),
			clog.Error(err))
		return
	}
	c.logger.DebugContext(ctx, "registry listing drained",
		clog.String("operation", op),
		clog.Int("pages", pages),
		clog.Int("items", items))
}
