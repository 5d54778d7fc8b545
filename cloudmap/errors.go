package cloudmap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/ceyewan/cloudmap-sd/breaker"
	"github.com/ceyewan/cloudmap-sd/xerrors"
)

// ErrPagerExhausted Pager 已耗尽
var ErrPagerExhausted = xerrors.New("cloudmap: pager exhausted")

// ErrConfig AWS 配置加载失败
var ErrConfig = xerrors.Wrap(xerrors.ErrInvalidInput, "cloudmap: load aws config")

// Kind 错误类别
type Kind string

const (
	KindAuth        Kind = "auth"        // 凭证缺失或权限不足，不重试
	KindThrottled   Kind = "throttled"   // 被上游限流，SDK 重试耗尽
	KindUnavailable Kind = "unavailable" // 网络、超时、5xx 或熔断打开
	KindUnknown     Kind = "unknown"
)

// Error 一次注册中心调用的最终失败
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cloudmap: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 让 *Error 可以直接与 xerrors 的哨兵错误比较
func (e *Error) Is(target error) bool {
	switch target {
	case xerrors.ErrUnauthorized:
		return e.Kind == KindAuth
	case xerrors.ErrUnavailable:
		return e.Kind == KindThrottled || e.Kind == KindUnavailable
	}
	return false
}

// IsAuth err 链上是否存在鉴权类 *Error
func IsAuth(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindAuth
}

var authCodes = map[string]struct{}{
	"AccessDenied":                {},
	"AccessDeniedException":       {},
	"UnrecognizedClientException": {},
	"InvalidClientTokenId":        {},
	"ExpiredToken":                {},
	"ExpiredTokenException":       {},
	"InvalidSignatureException":   {},
	"SignatureDoesNotMatch":       {},
	"MissingAuthenticationToken":  {},
	"IncompleteSignature":         {},
	"NotAuthorized":               {},
	"AuthFailure":                 {},
}

var throttleCodes = map[string]struct{}{
	"Throttling":                             {},
	"ThrottlingException":                    {},
	"ThrottledException":                     {},
	"RequestThrottledException":              {},
	"TooManyRequestsException":               {},
	"RequestLimitExceeded":                   {},
	"RequestThrottled":                       {},
	"ProvisionedThroughputExceededException": {},
}

var unavailableCodes = map[string]struct{}{
	"ServiceUnavailable":          {},
	"ServiceUnavailableException": {},
	"InternalFailure":             {},
	"InternalServerError":         {},
	"RequestTimeout":              {},
	"RequestTimeoutException":     {},
}

// Classify 判断错误类别
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	if errors.Is(err, breaker.ErrOpenState) || errors.Is(err, breaker.ErrTooManyRequests) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return KindUnavailable
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if _, ok := authCodes[code]; ok {
			return KindAuth
		}
		if _, ok := throttleCodes[code]; ok {
			return KindThrottled
		}
		if _, ok := unavailableCodes[code]; ok {
			return KindUnavailable
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch status := respErr.HTTPStatusCode(); {
		case status == 401 || status == 403:
			return KindAuth
		case status == 429:
			return KindThrottled
		case status >= 500:
			return KindUnavailable
		}
	}

	// 凭证链解析失败发生在签名阶段，没有结构化的错误类型
	if strings.Contains(err.Error(), "failed to retrieve credentials") {
		return KindAuth
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindUnavailable
	}

	return KindUnknown
}

// CountsAsBreakerSuccess 供 breaker.WithIsSuccessful 使用
//
// 鉴权失败与调用方取消不说明上游不健康，不应推动熔断器打开。
func CountsAsBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch Classify(err) {
	case KindAuth, KindUnknown:
		return true
	}
	return false
}

func newError(op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Op: op, Kind: Classify(err), Err: err}
}
