package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"gorevision/data/orm"
)

// TestWrapError 测试基本错误包装
func TestWrapError(t *testing.T) {
	originalErr := errors.New("原始错误")

	wrapped := WrapError(originalErr, ErrCodeDatabase, "包装消息")
	if wrapped == nil {
		t.Fatal("包装后的错误为nil")
	}
	if !errors.Is(wrapped, originalErr) {
		t.Error("包装后的错误应能通过 errors.Is 找到原始错误")
	}
	if wrapped.Error() != "[DATABASE_ERROR] 包装消息: 原始错误" {
		t.Errorf("Error() = %s", wrapped.Error())
	}
	if !strings.HasPrefix(wrapped.Location(), "wrapper_test.go:") {
		t.Errorf("Location() = %s, 应指向创建位置", wrapped.Location())
	}
	if WrapError(nil, ErrCodeDatabase, "消息") != nil {
		t.Error("包装nil错误应该返回nil")
	}
}

// TestAppError_IsByCode 测试按错误码比较哨兵
func TestAppError_IsByCode(t *testing.T) {
	sentinel := NewError(ErrCodeMissingMetadata, "缺少必填元数据")
	err := NewErrorf(ErrCodeMissingMetadata, "缺少字段 %s", "reason")

	if !errors.Is(err, sentinel) {
		t.Error("同错误码的 AppError 应视为相等")
	}
	if errors.Is(err, NewError(ErrCodeMissingActor, "x")) {
		t.Error("不同错误码不应相等")
	}

	wrapped := fmt.Errorf("tracker: %w", err)
	if !IsErrorCode(wrapped, ErrCodeMissingMetadata) {
		t.Error("IsErrorCode 应穿透 fmt.Errorf 包装")
	}
	if GetErrorCode(wrapped) != ErrCodeMissingMetadata {
		t.Errorf("GetErrorCode = %s", GetErrorCode(wrapped))
	}
}

// TestIsErrorCode_Chain 测试错误链上的错误码识别
func TestIsErrorCode_Chain(t *testing.T) {
	inner := NewError(ErrCodeNotFound, "记录不存在")
	outer := WrapError(inner, ErrCodeDatabase, "查询失败")

	if !IsErrorCode(outer, ErrCodeDatabase) {
		t.Error("应识别外层错误码")
	}
	if !IsNotFound(outer) {
		t.Error("应识别内层 NotFound")
	}
	if IsValidation(outer) {
		t.Error("不应识别为验证错误")
	}
}

// TestWithContext 测试详情不可变
func TestWithContext(t *testing.T) {
	base := NewError(ErrCodeConfiguration, "配置错误")
	derived := base.WithContext("field", "PrimaryKeyType")

	if _, ok := base.Details()["field"]; ok {
		t.Error("WithContext 不应修改原错误")
	}
	if derived.Details()["field"] != "PrimaryKeyType" {
		t.Error("派生错误缺少详情")
	}
	if derived.Location() != base.Location() {
		t.Error("WithContext 应保留创建位置")
	}
}

// TestNormalize 测试持久层错误规范化
func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "未找到", err: fmt.Errorf("load: %w", orm.ErrNotFound), want: ErrCodeNotFound},
		{name: "不支持的能力", err: orm.ErrUnsupported, want: ErrCodeInvalidInput},
		{name: "唯一键冲突", err: errors.New("UNIQUE constraint failed: revisions.id (duplicate key)"), want: ErrCodeDuplicate},
		{name: "已是AppError", err: NewError(ErrCodeMissingActor, "x"), want: ErrCodeMissingActor},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(Normalize(tt.err)); got != tt.want {
				t.Errorf("Normalize() code = %s, 期望 %s", got, tt.want)
			}
		})
	}

	plain := errors.New("connection reset")
	if Normalize(plain) != plain {
		t.Error("未识别的错误应原样返回")
	}
}

// TestWrapDatabaseError 测试数据库错误包装
func TestWrapDatabaseError(t *testing.T) {
	ctx := context.Background()

	if WrapDatabaseError(ctx, nil, "保存修订") != nil {
		t.Error("包装nil错误应该返回nil")
	}
	if !IsNotFound(WrapDatabaseError(ctx, orm.ErrNotFound, "读取修订")) {
		t.Error("NotFound 应保持错误码")
	}
	dup := WrapDatabaseError(ctx, errors.New("UNIQUE constraint failed: revision_outbox.event_id"), "写入 outbox 记录")
	if !IsDuplicate(dup) || GetErrorCode(dup) != ErrCodeDuplicate {
		t.Errorf("唯一键冲突应保持错误码, got %s", GetErrorCode(dup))
	}
	if GetErrorCode(WrapDatabaseError(ctx, errors.New("disk I/O error"), "保存修订")) != ErrCodeDatabase {
		t.Error("其他错误应包装为数据库错误")
	}
}

// BenchmarkWrapError 基准测试：错误包装
func BenchmarkWrapError(b *testing.B) {
	err := errors.New("benchmark")
	for i := 0; i < b.N; i++ {
		_ = WrapError(err, ErrCodeDatabase, "bench")
	}
}
