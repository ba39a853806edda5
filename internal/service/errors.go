package service

import "errors"

// 业务错误分类
// 服务层统一返回这些哨兵错误（可用 fmt.Errorf("...: %w") 附加上下文），
// handler 层据此映射为响应码；良性竞争（单聊重复创建、重复回应）
// 在服务层内部就地收敛为成功，不会对外抛出 ErrConflict
var (
	// ErrNotFound 会话/消息/用户不存在
	ErrNotFound = errors.New("not found")
	// ErrForbidden 调用者不是在会成员，或角色权限不足
	ErrForbidden = errors.New("forbidden")
	// ErrValidation 请求数据不合法
	ErrValidation = errors.New("validation failed")
	// ErrConflict 重复的在会成员关系等冲突
	ErrConflict = errors.New("conflict")
	// ErrInvalidOperation 操作与会话类型不兼容（如向单聊加人）
	ErrInvalidOperation = errors.New("invalid operation")
)
