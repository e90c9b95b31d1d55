package model

import "errors"

// 错误分类
var (
	// ErrValidation 分类器输出格式错误，本地回退处理，不向上抛出
	ErrValidation = errors.New("validation error")
	// ErrNotFound 引用了不存在的 id
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition 非法的状态机迁移
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvalidReference 纠正引用的决策不存在
	ErrInvalidReference = errors.New("invalid reference")
	// ErrClassifierTimeout 分类请求超时
	ErrClassifierTimeout = errors.New("classifier timeout")
	// ErrClassifierUnavailable 分类器不可用（5xx、熔断、网络）
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	// ErrPersistence 持久化失败，内存状态仍然权威
	ErrPersistence = errors.New("persistence error")
	// ErrEngineStopped 协调器已停止
	ErrEngineStopped = errors.New("engine stopped")
)
