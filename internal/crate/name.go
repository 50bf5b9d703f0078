package crate

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxNameLength 与 crates.io 一致的名称长度上限。
const MaxNameLength = 64

// namePattern 约束名称字符集：首字符必须是字母，其余允许字母/数字/“-”/“_”。
var namePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// OriginalName 是发布者提交的原始名称，通过校验后在 crate 的生命周期内不可变。
type OriginalName string

// NormalizedName 是大小写与分隔符不敏感的规范形式，所有查询以它为键。
// 原始展示名称需要单独存储，无法从规范形式还原。
type NormalizedName string

// NewOriginalName 校验名称的字符集与长度，非法输入在任何副作用前被拒绝。
func NewOriginalName(raw string) (OriginalName, error) {
	if raw == "" {
		return "", fmt.Errorf("crate name must not be empty")
	}
	if len(raw) > MaxNameLength {
		return "", fmt.Errorf("crate name exceeds %d characters: %s", MaxNameLength, raw)
	}
	if !namePattern.MatchString(raw) {
		return "", fmt.Errorf("invalid crate name: %s", raw)
	}
	return OriginalName(raw), nil
}

// Normalized 折叠大小写并把 “-” 归一为 “_”。
func (n OriginalName) Normalized() NormalizedName {
	return Normalize(string(n))
}

func (n OriginalName) String() string { return string(n) }

func (n NormalizedName) String() string { return string(n) }

// Normalize 对任意字符串执行与 OriginalName 相同的折叠规则，供搜索使用。
func Normalize(raw string) NormalizedName {
	return NormalizedName(strings.ReplaceAll(strings.ToLower(raw), "-", "_"))
}
