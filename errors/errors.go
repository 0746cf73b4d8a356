package errors

import (
	stdErrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
)

// ErrorCode 错误代码类型
type ErrorCode string

// 预定义错误代码
const (
	// 通用错误代码
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeDuplicate    ErrorCode = "DUPLICATE_ERROR"

	// 修订追踪错误代码
	ErrCodeConfiguration   ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeMissingMetadata ErrorCode = "MISSING_METADATA"
	ErrCodeMissingActor    ErrorCode = "MISSING_ACTOR"
	ErrCodeRevisionState   ErrorCode = "REVISION_STATE_ERROR"

	// 基础设施错误代码
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeQueue    ErrorCode = "QUEUE_ERROR"
)

// IError 带错误码的应用错误
type IError interface {
	error

	Code() ErrorCode
	Message() string
	Cause() error
	Details() map[string]any

	// Location 错误创建位置（file:line）
	Location() string

	// WithContext 返回附加了一项详情的新错误，原错误不变
	WithContext(key string, value any) IError
}

// AppError IError 的默认实现
type AppError struct {
	code     ErrorCode
	message  string
	cause    error
	details  map[string]any
	location string
}

func newAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		code:     code,
		message:  message,
		cause:    cause,
		details:  make(map[string]any),
		location: callerLocation(3),
	}
}

// NewError 创建新错误
func NewError(code ErrorCode, message string) IError {
	return newAppError(code, message, nil)
}

// NewErrorf 使用格式化消息创建新错误
func NewErrorf(code ErrorCode, format string, args ...any) IError {
	return newAppError(code, fmt.Sprintf(format, args...), nil)
}

// WrapError 包装错误；err 为 nil 时返回 nil
func WrapError(err error, code ErrorCode, message string) IError {
	if err == nil {
		return nil
	}
	return newAppError(code, message, err)
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *AppError) Code() ErrorCode  { return e.code }
func (e *AppError) Message() string  { return e.message }
func (e *AppError) Cause() error     { return e.cause }
func (e *AppError) Location() string { return e.location }

func (e *AppError) Details() map[string]any {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	return e.details
}

// Is 同错误码的 AppError 视为相等，预定义哨兵（例如 revision.ErrMissingMetadata）可配合 errors.Is 使用
func (e *AppError) Is(target error) bool {
	appErr, ok := target.(*AppError)
	return ok && e.code == appErr.code
}

// Unwrap 支持 errors.Is / errors.As 穿透
func (e *AppError) Unwrap() error {
	return e.cause
}

func (e *AppError) WithContext(key string, value any) IError {
	details := make(map[string]any, len(e.details)+1)
	for k, v := range e.details {
		details[k] = v
	}
	details[key] = value

	return &AppError{
		code:     e.code,
		message:  e.message,
		cause:    e.cause,
		details:  details,
		location: e.location,
	}
}

// IsNotFound 检查是否为未找到错误
func IsNotFound(err error) bool {
	return IsErrorCode(err, ErrCodeNotFound)
}

// IsValidation 检查是否为验证错误
func IsValidation(err error) bool {
	return IsErrorCode(err, ErrCodeValidation)
}

// IsDuplicate 检查是否为唯一键冲突
func IsDuplicate(err error) bool {
	return IsErrorCode(err, ErrCodeDuplicate)
}

// IsErrorCode 检查错误链上是否存在指定错误代码
func IsErrorCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stdErrors.As(err, &appErr) {
			return false
		}
		if appErr.code == code {
			return true
		}
		err = appErr.cause
	}
	return false
}

// GetErrorCode 返回最外层 AppError 的错误码；非 AppError 视为内部错误
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code
	}
	return ErrCodeInternal
}

func callerLocation(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
