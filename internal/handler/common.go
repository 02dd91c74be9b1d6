// Package handler HTTP处理器层
// 只做参数绑定、服务编排和响应渲染，业务规则都在service与ai包内
package handler

import (
	"time"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 统一错误响应
type ErrorResponse struct {
	Code      string `json:"code"`              // 机器可读的错误码
	Message   string `json:"message"`           // 人类可读的错误描述
	Details   any    `json:"details,omitempty"` // 附加上下文
	Timestamp string `json:"timestamp"`
}

// respondError 渲染错误响应
func respondError(c *gin.Context, status int, code, message string, details any) {
	c.JSON(status, &ErrorResponse{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// 常用错误码
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeNotFound          = "NOT_FOUND"
	CodeDuplicateName     = "DUPLICATE_NAME"
	CodeIntrospectionFail = "INTROSPECTION_FAILED"
	CodeGenerationFail    = "GENERATION_FAILED"
	CodeExtractionFail    = "EXTRACTION_FAILED"
	CodeGuardrailDenied   = "GUARDRAIL_DENIED"
	CodeNeedsApproval     = "NEEDS_APPROVAL"
	CodeInternalError     = "INTERNAL_ERROR"
)
