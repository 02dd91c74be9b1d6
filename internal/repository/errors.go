package repository

import "errors"

// Repository层通用错误
// 上层通过errors.Is判断，避免依赖具体数据库驱动的错误类型
var (
	ErrNotFound      = errors.New("record not found")      // 记录不存在
	ErrDuplicateName = errors.New("duplicate name")        // 名称重复
	ErrInvalidInput  = errors.New("invalid input")         // 输入参数非法
)
