package errors

import (
	stdErrors "errors"

	"gorevision/data/db/dialect"
	"gorevision/data/orm"
)

// Normalize 将持久层错误规范化为 AppError。
//
// 注意：
//   - 如果传入的 err 已经是 IError，则原样返回；
//   - 未识别的错误保持原样，不强行包装，交由调用方决定是否 Wrap。
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(IError); ok {
		return err
	}

	if stdErrors.Is(err, orm.ErrNotFound) {
		return WrapError(err, ErrCodeNotFound, "记录未找到")
	}
	if stdErrors.Is(err, orm.ErrUnsupported) {
		return WrapError(err, ErrCodeInvalidInput, "ORM 适配器不支持该能力")
	}

	// 方言未知时做宽松匹配
	if dialect.New("").IsUniqueViolation(err) {
		return WrapError(err, ErrCodeDuplicate, "唯一键冲突")
	}

	return err
}
