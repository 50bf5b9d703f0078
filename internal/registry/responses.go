package registry

// PublishWarnings 是 cargo 期望的警告分组；本服务不产生警告，字段保持空。
type PublishWarnings struct {
	InvalidCategories []string `json:"invalid_categories"`
	InvalidBadges     []string `json:"invalid_badges"`
	Other             []string `json:"other"`
}

// PublishSuccess 的 warnings 字段序列化为 null，与 cargo 的宽容解析兼容。
type PublishSuccess struct {
	Warnings *PublishWarnings `json:"warnings"`
}

// YankResult 同时用于 yank 与 unyank 的成功响应。
type YankResult struct {
	OK bool `json:"ok"`
}

// OwnerRequest 是添加/移除所有者的请求体。
type OwnerRequest struct {
	Users []string `json:"users"`
}

// OwnerResponse 是所有者变更的成功响应。
type OwnerResponse struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg"`
}

// OwnerEntry 描述列表中的一名所有者；Name 始终为 null，本服务不存真实姓名。
type OwnerEntry struct {
	ID    int64   `json:"id"`
	Login string  `json:"login"`
	Name  *string `json:"name"`
}

// OwnerList 是 GET owners 的响应体。
type OwnerList struct {
	Users []OwnerEntry `json:"users"`
}

// SearchHit 是一条搜索结果。
type SearchHit struct {
	Name        string `json:"name"`
	MaxVersion  string `json:"max_version"`
	Description string `json:"description"`
}

// SearchMeta 携带截断前的命中总数。
type SearchMeta struct {
	Total int `json:"total"`
}

// SearchResult 是 GET /api/v1/crates 的响应体。
type SearchResult struct {
	Crates []SearchHit `json:"crates"`
	Meta   SearchMeta  `json:"meta"`
}
