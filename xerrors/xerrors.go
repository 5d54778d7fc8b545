// Package xerrors 为 cloudmap-sd 提供统一的错误处理工具。
//
// 这是一个基础包，不依赖项目内的其他组件：
//   - 通用哨兵错误，供各组件包装后用 errors.Is 判别
//   - Wrap/Wrapf 在保留错误链的前提下追加上下文
//   - CodedError 携带机器可读的错误码，用于 HTTP 诊断输出和日志
//   - Combine 将并发阶段收集到的多个错误合并为一个
package xerrors

import (
	"errors"
	"fmt"
)

// ============================================================================
// 哨兵错误
// ============================================================================

var (
	// ErrInvalidInput 表示输入参数或配置无效。
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable 表示上游服务不可用（网络、超时、限流重试耗尽）。
	ErrUnavailable = errors.New("unavailable")

	// ErrUnauthorized 表示凭证缺失、过期或权限不足。
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTimeout 表示操作超时。
	ErrTimeout = errors.New("timeout")

	// ErrCanceled 表示操作被调用方取消。
	ErrCanceled = errors.New("canceled")

	// ErrInternal 表示内部错误。
	ErrInternal = errors.New("internal error")
)

// ============================================================================
// 错误包装
// ============================================================================

// Wrap 用额外的上下文信息包装错误，err 为 nil 时返回 nil。
//
// 示例：
//
//	if err != nil {
//	    return xerrors.Wrap(err, "list namespaces")
//	}
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 用格式化的上下文信息包装错误，err 为 nil 时返回 nil。
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// WithCode 用错误码包装错误，err 为 nil 时返回 nil。
//
// 示例：
//
//	return xerrors.WithCode(err, "CLOUDMAP_AUTH")
func WithCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Cause: err}
}

// CodedError 带有机器可读错误码的错误。
type CodedError struct {
	Code  string // 错误码，例如 "CLOUDMAP_UNAVAILABLE"
	Cause error  // 底层错误
}

func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("[%s]", e.Code)
}

// Unwrap 返回底层错误，支持 errors.Is/As。
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// GetCode 从错误链中提取最外层的错误码，未找到时返回空字符串。
func GetCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// ============================================================================
// MultiError
// ============================================================================

// MultiError 将多个错误合并为一个错误。
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	switch len(m.Errors) {
	case 0:
		return "no errors"
	case 1:
		return m.Errors[0].Error()
	default:
		return fmt.Sprintf("%v (and %d more errors)", m.Errors[0], len(m.Errors)-1)
	}
}

// Unwrap 返回错误列表，errors.Is/As 会逐个匹配。
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Combine 将多个错误合并为一个。
// 全为 nil 时返回 nil；只有一个非 nil 错误时原样返回；否则返回 *MultiError。
func Combine(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return &MultiError{Errors: nonNil}
	}
}

// 标准库函数再导出
var (
	New    = errors.New
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)
