package orm

import "errors"

var (
	// ErrNotFound 表示记录未找到。
	ErrNotFound = errors.New("orm: record not found")
	// ErrUnsupported 表示当前适配器不支持请求的能力。
	ErrUnsupported = errors.New("orm: capability unsupported")
	// ErrModelExists 表示同名模型已注册。
	ErrModelExists = errors.New("orm: model already defined")
	// ErrUnknownModel 表示模型未注册。
	ErrUnknownModel = errors.New("orm: model not defined")
)
