package db

import (
	"context"
	"errors"
	"time"

	"github.com/crates-hub/crates-hub/internal/crate"
)

var (
	// ErrNotFound 表示 crate 或版本不存在。
	ErrNotFound = errors.New("crate or version not found")
	// ErrVersionExists 表示 (crate, version) 唯一约束被违反。
	ErrVersionExists = errors.New("crate version already exists")
	// ErrLastOwner 表示删除操作会移除最后一名所有者，被拒绝。
	ErrLastOwner = errors.New("cannot remove the last owner")
	// ErrNoSuchUser 表示引用了不存在的用户。
	ErrNoSuchUser = errors.New("user does not exist")
	// ErrInvalidToken 表示令牌无法解析为任何已知身份。
	ErrInvalidToken = errors.New("invalid auth token")
)

// User 是已认证的身份；IsAdmin 在所有权检查上短路。
type User struct {
	ID      int64
	Name    string
	IsAdmin bool
}

// Owner 表示 crate 的一名所有者。
type Owner struct {
	ID    int64
	Login string
}

// CrateSummary 是一条搜索结果。
type CrateSummary struct {
	OriginalName string
	MaxVersion   string
	Description  string
}

// Provider 定义核心依赖的持久化契约。生产实现为 SQLite；
// 所有方法都接受 context，并在实现内部保证单语句或单事务的原子性。
type Provider interface {
	// GetCrateID 按规范名称查找 crate 行 ID，不存在时 found 为 false。
	GetCrateID(ctx context.Context, name crate.NormalizedName) (id int64, found bool, err error)

	// GetOriginalName 返回 crate 创建时存储的原始展示名称。
	GetOriginalName(ctx context.Context, name crate.NormalizedName) (original string, found bool, err error)

	// CrateVersionExists 报告 (crateID, version) 是否已发布过。
	CrateVersionExists(ctx context.Context, crateID int64, version string) (bool, error)

	// AddCrate 在一个事务内创建 crate（若不存在，发布者成为唯一初始所有者）、
	// 插入版本行并维护 max_version。重复版本返回 ErrVersionExists。
	AddCrate(ctx context.Context, meta *crate.Metadata, checksum string, created time.Time, publishedBy string) error

	IsOwner(ctx context.Context, name crate.NormalizedName, user string) (bool, error)
	AddOwner(ctx context.Context, name crate.NormalizedName, user string) error
	// DeleteOwner 拒绝移除最后一名所有者（ErrLastOwner）。
	DeleteOwner(ctx context.Context, name crate.NormalizedName, user string) error
	GetCrateOwners(ctx context.Context, name crate.NormalizedName) ([]Owner, error)

	// YankCrate/UnyankCrate 只翻转版本的可见性标记，版本不存在返回 ErrNotFound。
	YankCrate(ctx context.Context, name crate.NormalizedName, version string) error
	UnyankCrate(ctx context.Context, name crate.NormalizedName, version string) error

	SearchInCrateName(ctx context.Context, query string) ([]CrateSummary, error)

	IncreaseDownloadCounter(ctx context.Context, name crate.NormalizedName, version string) error
	// IncreaseCachedDownloadCounter 按上游原始名称计数，代理的 crate 没有本地版本行。
	IncreaseCachedDownloadCounter(ctx context.Context, name, version string) error

	AddDocQueue(ctx context.Context, name crate.NormalizedName, version, path string) error

	// UserFromToken 把外部已签发的令牌解析为身份，未知令牌返回 ErrInvalidToken。
	UserFromToken(ctx context.Context, token string) (User, error)
	AddUser(ctx context.Context, name string, isAdmin bool) error
	AddAuthToken(ctx context.Context, description, token, user string) error

	Close() error
}
