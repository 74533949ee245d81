package store

import "errors"

// 存储层哨兵错误，API 层据此映射 HTTP 状态码。
var (
	// ErrNotFound 记录不存在。
	ErrNotFound = errors.New("record not found")

	// ErrConflict 与既有记录冲突（唯一约束）。
	ErrConflict = errors.New("record conflict")

	// ErrInvalidOperation 操作在当前状态下不允许。
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrValidation 输入数据未通过校验。
	ErrValidation = errors.New("validation failed")

	// ErrForbidden 调用者无权执行该操作。
	ErrForbidden = errors.New("operation forbidden")

	// ErrUpstream 依赖的外部服务失败（邮件、对象存储）。
	ErrUpstream = errors.New("upstream service failed")
)
