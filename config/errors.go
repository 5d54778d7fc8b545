package config

import "github.com/ceyewan/cloudmap-sd/xerrors"

// ErrValidationFailed 配置校验失败
var ErrValidationFailed = xerrors.Wrap(xerrors.ErrInvalidInput, "configuration validation failed")

// IsInvalidInput 检查错误是否为配置格式无效或校验失败
func IsInvalidInput(err error) bool {
	return xerrors.Is(err, xerrors.ErrInvalidInput)
}

// validationError 包装校验错误，保留 ErrValidationFailed 以便 errors.Is 判别
func validationError(format string, args ...any) error {
	return xerrors.Wrapf(ErrValidationFailed, format, args...)
}
