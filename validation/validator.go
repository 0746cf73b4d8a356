package validation

import (
	stdErrors "errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"gorevision/errors"
)

var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IValidator 定义通用验证器接口
type IValidator interface {
	Validate(value any) error
}

// NoopValidator 默认验证器，实现为空操作
type NoopValidator struct{}

// Validate 实现 IValidator 接口
func (NoopValidator) Validate(value any) error {
	return nil
}

// StructValidator 基于 struct tag 的验证器
type StructValidator struct{}

// Validate 实现 IValidator 接口
func (StructValidator) Validate(value any) error {
	return Struct(value)
}

var (
	structValidate *validator.Validate
	validateOnce   sync.Once
)

// instance 返回共享的 validator 实例，首次调用时注册自定义规则
func instance() *validator.Validate {
	validateOnce.Do(func() {
		structValidate = validator.New(validator.WithRequiredStructEnabled())
		// identifier: 可安全拼接进 SQL 的表名/列名
		_ = structValidate.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
			return IsIdentifier(fl.Field().String())
		})
	})
	return structValidate
}

// Struct 按 validate tag 校验结构体，失败时返回 VALIDATION_ERROR
//
// 所有失败字段汇总在一条消息中，详情中的 fields 记录字段名到失败规则的映射。
func Struct(v any) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stdErrors.As(err, &fieldErrs) {
		return errors.WrapError(err, errors.ErrCodeValidation, "数据验证失败")
	}

	fields := make(map[string]string, len(fieldErrs))
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s(%s=%s)", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
		}
	}
	return errors.NewError(errors.ErrCodeValidation, "字段校验失败: "+strings.Join(parts, ", ")).
		WithContext("fields", fields)
}

// IsIdentifier 判断名称是否为安全的 SQL 标识符
func IsIdentifier(name string) bool {
	return identifierRegex.MatchString(name)
}

// ValidateIdentifier 验证标识符
func ValidateIdentifier(value, fieldName string) error {
	if !IsIdentifier(value) {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不是合法的标识符: %q", fieldName, value))
	}
	return nil
}

// ValidateRequired 验证必填字段
func ValidateRequired(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return errors.NewError(errors.ErrCodeValidation,
			fmt.Sprintf("%s不能为空", fieldName))
	}
	return nil
}

// ValidateEnum 验证枚举值
func ValidateEnum(value, fieldName string, validValues []string) error {
	for _, valid := range validValues {
		if value == valid {
			return nil
		}
	}
	return errors.NewError(errors.ErrCodeValidation,
		fmt.Sprintf("%s的值无效，必须是以下之一: %v", fieldName, validValues))
}
