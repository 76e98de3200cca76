package domain

import "errors"

// 对外可见的错误分类，由 HTTP 层映射为状态码。
var (
	// ErrNotFound 实体 ID 格式错误或不存在（404）
	ErrNotFound = errors.New("not found")
	// ErrForbidden 调用方不拥有目标实体，或账户状态不允许该操作（403）
	ErrForbidden = errors.New("forbidden")
	// ErrGone 会话没有绑定有效账户（410）
	ErrGone = errors.New("gone")
	// ErrValidation 用户输入格式错误（400）
	ErrValidation = errors.New("validation failed")
)
