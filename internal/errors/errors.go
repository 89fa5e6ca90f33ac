package errors

import (
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sort"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于日志分级。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeLauncherMissing       Code = "LAUNCHER_MISSING"
	CodeSpawnFailure          Code = "SPAWN_FAILURE"
	CodeQueryFailure          Code = "QUERY_FAILURE"
	CodeToolFailure           Code = "TOOL_FAILURE"
	CodeAgentFailure          Code = "AGENT_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// Attributes 为错误码提供默认描述与严重程度。
type Attributes struct {
	Message  string
	Severity Severity
}

var registry = map[Code]Attributes{
	CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical},
	CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo},
	CodeInitializationFailure: {Message: "component not initialized", Severity: SeverityWarning},
	CodeLauncherMissing:       {Message: "launcher executable not found", Severity: SeverityCritical},
	CodeSpawnFailure:          {Message: "failed to start child process", Severity: SeverityCritical},
	CodeQueryFailure:          {Message: "dataset query failed", Severity: SeverityWarning},
	CodeToolFailure:           {Message: "remote tool call failed", Severity: SeverityWarning},
	CodeAgentFailure:          {Message: "agent run failed", Severity: SeverityWarning},
	CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical},
	CodeQueueFailure:          {Message: "queue failure", Severity: SeverityCritical},
	CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning},
}

// AttributesOf 返回错误码对应的属性，未登记时退回 UNKNOWN。
func AttributesOf(code Code) Attributes {
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 按错误码比较。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// From 尝试从 error 链中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// IsCode 判断错误链中是否包含指定错误码。
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return AttributesOf(e.code).Severity
	}
	return AttributesOf(CodeUnknown).Severity
}

// LogLevel 把错误的严重程度映射为日志级别。
func LogLevel(err error) slog.Level {
	switch SeverityOf(err) {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// LogAttrs 返回错误码与附加信息，按 key 排序，可直接追加到 slog 参数后。
func LogAttrs(err error) []any {
	e, ok := From(err)
	if !ok {
		return []any{"code", string(CodeUnknown)}
	}
	attrs := []any{"code", string(e.Code())}
	meta := e.Metadata()
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, k, meta[k])
	}
	return attrs
}

// PublicMessage 返回可以暴露给调用方的错误描述，不包含底层原因。
func PublicMessage(err error) string {
	if e, ok := From(err); ok {
		return e.Message()
	}
	return AttributesOf(CodeUnknown).Message
}
