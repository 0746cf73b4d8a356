package revision

import (
	"gorevision/errors"
)

// 修订追踪错误哨兵，配合 errors.Is 按错误码匹配
var (
	ErrConfiguration   = errors.NewError(errors.ErrCodeConfiguration, "修订追踪配置错误")
	ErrMissingMetadata = errors.NewError(errors.ErrCodeMissingMetadata, "缺少必需的修订元数据")
	ErrMissingActor    = errors.NewError(errors.ErrCodeMissingActor, "无法确定操作者")
	ErrRevisionState   = errors.NewError(errors.ErrCodeRevisionState, "修订计数状态异常")
)

func configurationError(format string, args ...any) error {
	return errors.NewErrorf(errors.ErrCodeConfiguration, format, args...)
}

func missingMetadataError(model, field string) error {
	return errors.NewErrorf(errors.ErrCodeMissingMetadata, "模型 %s 缺少必需的元数据字段 %s", model, field).
		WithContext("model", model).
		WithContext("field", field)
}

func missingActorError(model string) error {
	return errors.NewErrorf(errors.ErrCodeMissingActor, "模型 %s 的修订缺少操作者", model).
		WithContext("model", model)
}

func revisionStateError(model string) error {
	return errors.NewErrorf(errors.ErrCodeRevisionState, "模型 %s 更新时修订计数未设置", model).
		WithContext("model", model)
}
