// Package apierror carries the error payload shape of the cargo registry web
// API: a list of (title, detail) records so that several independent problems
// can be reported in one response. Cargo clients read errors from the body,
// therefore Render always answers with HTTP 200 on the registry surfaces.
package apierror

import (
	"github.com/gofiber/fiber/v3"
)

// 常用错误分类，作为 ErrorDetail.Title 使用。
const (
	TitleInvalidInput    = "invalid_input"
	TitleNotOwner        = "not_owner"
	TitleVersionConflict = "version_conflict"
	TitleNotFound        = "not_found"
	TitleUnauthorized    = "unauthorized"
	TitleInternal        = "internal"
)

// ErrorDetail 描述单个问题，detail 为面向用户的完整描述。
type ErrorDetail struct {
	Title  string `json:"title,omitempty"`
	Detail string `json:"detail"`
}

// APIError 以列表形式承载全部问题，与 cargo 协议的 errors 数组对齐。
type APIError struct {
	List []ErrorDetail `json:"errors"`
}

// New 构建只含一个问题的错误列表，覆盖绝大多数路径。
func New(title, detail string) *APIError {
	return &APIError{List: []ErrorDetail{{Title: title, Detail: detail}}}
}

// Append 追加一个问题记录，返回自身便于链式调用。
func (e *APIError) Append(title, detail string) *APIError {
	e.List = append(e.List, ErrorDetail{Title: title, Detail: detail})
	return e
}

func (e *APIError) Error() string {
	if len(e.List) == 0 {
		return "api error"
	}
	return e.List[0].Detail
}

// Render 将错误列表写回客户端。cargo 客户端约定通过 errors 数组识别失败，
// 因此状态码固定为 200。
func Render(c fiber.Ctx, e *APIError) error {
	return c.Status(fiber.StatusOK).JSON(e)
}
