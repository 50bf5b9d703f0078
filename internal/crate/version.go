package crate

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version 是严格解析后的语义化版本，保证可比较且全序。
type Version struct {
	parsed *semver.Version
}

// NewVersion 按严格 SemVer 规则解析版本号，非法字符串在任何副作用前被拒绝。
func NewVersion(raw string) (Version, error) {
	parsed, err := semver.StrictNewVersion(raw)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", raw, err)
	}
	return Version{parsed: parsed}, nil
}

func (v Version) String() string { return v.parsed.String() }

// Less 报告 v 是否早于 other。
func (v Version) Less(other Version) bool {
	return v.parsed.LessThan(other.parsed)
}

// MaxRaw 返回两个版本字符串中较大的一个。两个入参都应当来自已校验的存量数据，
// 解析失败时保守地保留 current。
func MaxRaw(current, candidate string) string {
	cur, err := semver.StrictNewVersion(current)
	if err != nil {
		return current
	}
	cand, err := semver.StrictNewVersion(candidate)
	if err != nil {
		return current
	}
	if cand.GreaterThan(cur) {
		return candidate
	}
	return current
}
