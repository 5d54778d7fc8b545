package breaker

import (
	"context"
	"sync"

	"github.com/ceyewan/cloudmap-sd/clog"
	"github.com/ceyewan/cloudmap-sd/metrics"
	"github.com/ceyewan/cloudmap-sd/xerrors"

	"github.com/sony/gobreaker/v2"
)

// circuitBreaker 按键维护 gobreaker 实例
type circuitBreaker struct {
	cfg          *Config
	logger       clog.Logger
	isSuccessful func(error) bool

	requests     metrics.Counter
	stateChanges metrics.Counter

	breakers sync.Map // map[string]*gobreaker.CircuitBreaker[any]
}

func newCircuitBreaker(cfg *Config, opt options) *circuitBreaker {
	cb := &circuitBreaker{
		cfg:          cfg,
		logger:       opt.logger,
		isSuccessful: opt.isSuccessful,
	}
	cb.requests, _ = opt.meter.Counter(MetricRequestsTotal, "Calls guarded by the circuit breaker.")
	cb.stateChanges, _ = opt.meter.Counter(MetricStateChanges, "Circuit breaker state transitions.")

	cb.logger.Info("circuit breaker created",
		clog.Int("max_requests", int(cfg.MaxRequests)),
		clog.Duration("timeout", cfg.Timeout),
		clog.Float64("failure_ratio", cfg.FailureRatio),
		clog.Int("minimum_requests", int(cfg.MinimumRequests)))
	return cb
}

// Execute 执行受熔断保护的函数
func (cb *circuitBreaker) Execute(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	result, err := cb.getOrCreate(key).Execute(fn)
	switch {
	case err == nil:
		cb.observe(ctx, key, resultSuccess)
	case xerrors.Is(err, gobreaker.ErrOpenState):
		cb.observe(ctx, key, resultRejected)
		cb.logger.Debug("circuit breaker rejected call", clog.String("key", key))
		return nil, ErrOpenState
	case xerrors.Is(err, gobreaker.ErrTooManyRequests):
		cb.observe(ctx, key, resultRejected)
		cb.logger.Debug("half-open breaker is saturated", clog.String("key", key))
		return nil, ErrTooManyRequests
	case cb.isSuccessful(err):
		cb.observe(ctx, key, resultSuccess)
	default:
		cb.observe(ctx, key, resultFailure)
	}
	return result, err
}

// State 获取指定键的熔断器状态
func (cb *circuitBreaker) State(key string) State {
	val, ok := cb.breakers.Load(key)
	if !ok {
		return StateClosed
	}
	return fromGobreaker(val.(*gobreaker.CircuitBreaker[any]).State())
}

func (cb *circuitBreaker) getOrCreate(key string) *gobreaker.CircuitBreaker[any] {
	if val, ok := cb.breakers.Load(key); ok {
		return val.(*gobreaker.CircuitBreaker[any])
	}

	settings := gobreaker.Settings{
		Name:          key,
		MaxRequests:   cb.cfg.MaxRequests,
		Interval:      cb.cfg.Interval,
		Timeout:       cb.cfg.Timeout,
		ReadyToTrip:   cb.readyToTrip,
		OnStateChange: cb.onStateChange,
		IsSuccessful:  cb.isSuccessful,
	}

	// 并发创建时以先写入者为准
	actual, _ := cb.breakers.LoadOrStore(key, gobreaker.NewCircuitBreaker[any](settings))
	return actual.(*gobreaker.CircuitBreaker[any])
}

func (cb *circuitBreaker) readyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < cb.cfg.MinimumRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= cb.cfg.FailureRatio
}

func (cb *circuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	f, t := fromGobreaker(from), fromGobreaker(to)

	if t == StateOpen {
		cb.logger.Warn("circuit breaker opened", clog.String("key", name), clog.String("from", f.String()))
	} else {
		cb.logger.Info("circuit breaker state changed",
			clog.String("key", name),
			clog.String("from", f.String()),
			clog.String("to", t.String()))
	}

	if cb.stateChanges != nil {
		cb.stateChanges.Inc(context.Background(),
			metrics.L(LabelKey, name),
			metrics.L(LabelFromState, f.String()),
			metrics.L(LabelToState, t.String()))
	}
}

func (cb *circuitBreaker) observe(ctx context.Context, key, result string) {
	if cb.requests != nil {
		cb.requests.Inc(ctx, metrics.L(LabelKey, key), metrics.L(LabelResult, result))
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
