package errors

import (
	"context"

	"gorevision/logging"
)

// WrapWithLog 包装错误并以 Warn 级别记录一次
func WrapWithLog(ctx context.Context, err error, code ErrorCode, msg string, fields ...logging.Field) error {
	if err == nil {
		return nil
	}

	wrapped := newAppError(code, msg, err)
	logging.GetLogger().Warn(ctx, msg, append([]logging.Field{
		logging.Error(err),
		logging.String("error_code", string(code)),
		logging.String("location", wrapped.location),
	}, fields...)...)
	return wrapped
}

// WrapDatabaseError 包装持久层错误。
//
// 未找到与唯一键冲突保留各自错误码且不记日志；其余归为 DATABASE_ERROR 并记录警告。
func WrapDatabaseError(ctx context.Context, err error, operation string, fields ...logging.Field) error {
	if err == nil {
		return nil
	}

	normalized := Normalize(err)
	switch code := GetErrorCode(normalized); code {
	case ErrCodeNotFound, ErrCodeDuplicate:
		return newAppError(code, operation, normalized)
	}

	return WrapWithLog(ctx, err, ErrCodeDatabase, "数据库操作失败: "+operation,
		append([]logging.Field{logging.String("operation", operation)}, fields...)...)
}
