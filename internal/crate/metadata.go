package crate

// Metadata 对应 cargo publish 载荷元数据块中本服务关心的字段。
// 未列出的字段在解析时被忽略，不会导致发布失败。
type Metadata struct {
	Name          string       `json:"name"`
	Vers          string       `json:"vers"`
	Deps          []Dependency `json:"deps"`
	Description   *string      `json:"description"`
	Documentation *string      `json:"documentation"`
	Homepage      *string      `json:"homepage"`
	Repository    *string      `json:"repository"`
	License       *string      `json:"license"`
	Keywords      []string     `json:"keywords"`
	Categories    []string     `json:"categories"`
	Authors       []string     `json:"authors"`
}

// Dependency 保留依赖的原始声明，供索引与展示使用。
type Dependency struct {
	Name            string   `json:"name"`
	VersionReq      string   `json:"version_req"`
	Features        []string `json:"features"`
	Optional        bool     `json:"optional"`
	DefaultFeatures bool     `json:"default_features"`
	Target          *string  `json:"target"`
	Kind            string   `json:"kind"`
}
