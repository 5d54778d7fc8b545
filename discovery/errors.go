package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ceyewan/cloudmap-sd/cloudmap"
	"github.com/ceyewan/cloudmap-sd/xerrors"
)

var (
	// ErrAuth 注册中心拒绝了凭证或权限，对当前请求是致命错误
	ErrAuth = xerrors.Wrap(xerrors.ErrUnauthorized, "registry authorization failed")

	// ErrUpstreamUnavailable 网络、超时、限流重试耗尽或熔断打开
	ErrUpstreamUnavailable = xerrors.Wrap(xerrors.ErrUnavailable, "registry")

	// ErrPartialResult 部分列表调用被跳过，结果不完整
	ErrPartialResult = xerrors.New("partial result")
)

// 诊断输出中的错误码
const (
	CodeAuth        = "CLOUDMAP_AUTH"
	CodeUnavailable = "CLOUDMAP_UNAVAILABLE"
	CodeInternal    = "CLOUDMAP_ERROR"
)

// 被跳过的列表所处阶段
const (
	StageServices  = "services"
	StageInstances = "instances"
)

// SkippedListing 一次被跳过的列表调用
type SkippedListing struct {
	Stage     string // StageServices / StageInstances
	Namespace string // 命名空间名称
	Service   string // 服务名称，StageServices 时为空
	ID        string // 被列举对象的 ID
	Err       error
}

func (s SkippedListing) String() string {
	target := s.Namespace
	if s.Service != "" {
		target += "/" + s.Service
	}
	return fmt.Sprintf("%s %s: %v", s.Stage, target, s.Err)
}

// PartialResultError 伴随部分结果返回，列出全部被跳过的调用
type PartialResultError struct {
	Skipped []SkippedListing
}

func (e *PartialResultError) Error() string {
	parts := make([]string, 0, len(e.Skipped))
	for _, s := range e.Skipped {
		parts = append(parts, s.String())
	}
	return fmt.Sprintf("partial result: skipped %d listing(s): %s", len(e.Skipped), strings.Join(parts, "; "))
}

// Is 使 errors.Is(err, ErrPartialResult) 成立
func (e *PartialResultError) Is(target error) bool {
	return target == ErrPartialResult
}

// IsTotalFailure 判断 err 是否意味着没有拿到任何可用数据
//
// nil 和 *PartialResultError 返回 false。
func IsTotalFailure(err error) bool {
	return err != nil && !errors.Is(err, ErrPartialResult)
}

// SkippedCount 返回 err 中被跳过的列表数，非部分结果时为 0
func SkippedCount(err error) int {
	var pe *PartialResultError
	if errors.As(err, &pe) {
		return len(pe.Skipped)
	}
	return 0
}

// classify 把注册中心错误映射到发现层的错误分类
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAuth), errors.Is(err, ErrUpstreamUnavailable):
		return err
	case cloudmap.IsAuth(err), errors.Is(err, xerrors.ErrUnauthorized):
		return xerrors.WithCode(fmt.Errorf("%w: %w", ErrAuth, err), CodeAuth)
	case errors.Is(err, xerrors.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return xerrors.WithCode(fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err), CodeUnavailable)
	default:
		return xerrors.WithCode(xerrors.Wrap(err, "discovery failed"), CodeInternal)
	}
}

// isFatal 在 partial 策略下也不能跳过的错误
func isFatal(err error) bool {
	return cloudmap.IsAuth(err) || errors.Is(err, xerrors.ErrUnauthorized)
}
