package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/crates-hub/crates-hub/internal/crate"
)

// sqliteProvider 基于单个 SQLite 文件实现 Provider。
// 版本唯一性与所有者集合的最终裁决都发生在这里。
type sqliteProvider struct {
	db *sql.DB
}

var _ Provider = (*sqliteProvider)(nil)

// Open 打开（必要时创建）SQLite 数据库并应用 schema。
func Open(path string) (Provider, error) {
	if path == "" {
		return nil, errors.New("db path required")
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := sqldb.Exec(schema); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &sqliteProvider{db: sqldb}, nil
}

func (p *sqliteProvider) Close() error {
	return p.db.Close()
}

func (p *sqliteProvider) GetCrateID(ctx context.Context, name crate.NormalizedName) (int64, bool, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `SELECT id FROM crates WHERE name = ?`, name.String()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query crate id: %w", err)
	}
	return id, true, nil
}

func (p *sqliteProvider) GetOriginalName(ctx context.Context, name crate.NormalizedName) (string, bool, error) {
	var original string
	err := p.db.QueryRowContext(ctx, `SELECT original_name FROM crates WHERE name = ?`, name.String()).Scan(&original)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query original name: %w", err)
	}
	return original, true, nil
}

func (p *sqliteProvider) CrateVersionExists(ctx context.Context, crateID int64, version string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM crate_versions WHERE crate_id = ? AND version = ?`, crateID, version).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query crate version: %w", err)
	}
	return true, nil
}

// AddCrate 在单个事务内完成 crate 行、所有者行与版本行的写入。
// 并发发布同一版本时，后到者以 ErrVersionExists 暴露唯一约束冲突。
func (p *sqliteProvider) AddCrate(ctx context.Context, meta *crate.Metadata, checksum string, created time.Time, publishedBy string) error {
	normalized := crate.Normalize(meta.Name)
	now := created.UTC().Format(time.RFC3339)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var crateID int64
	var maxVersion string
	err = tx.QueryRowContext(ctx,
		`SELECT id, max_version FROM crates WHERE name = ?`, normalized.String()).Scan(&crateID, &maxVersion)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		userID, err := ensureUser(ctx, tx, publishedBy)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO crates (name, original_name, description, max_version, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			normalized.String(), meta.Name, meta.Description, meta.Vers, now, now)
		if err != nil {
			return fmt.Errorf("insert crate: %w", err)
		}
		crateID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("crate insert id: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO crate_owners (crate_id, user_id) VALUES (?, ?)`, crateID, userID); err != nil {
			return fmt.Errorf("insert initial owner: %w", err)
		}
	case err != nil:
		return fmt.Errorf("query crate: %w", err)
	default:
		newMax := crate.MaxRaw(maxVersion, meta.Vers)
		if _, err := tx.ExecContext(ctx,
			`UPDATE crates SET max_version = ?, description = COALESCE(?, description), updated_at = ? WHERE id = ?`,
			newMax, meta.Description, now, crateID); err != nil {
			return fmt.Errorf("update crate: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO crate_versions (crate_id, version, checksum, yanked, downloads, created_at, created_by)
		 VALUES (?, ?, ?, 0, 0, ?, ?)`,
		crateID, meta.Vers, checksum, now, publishedBy); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s-%s", ErrVersionExists, meta.Name, meta.Vers)
		}
		return fmt.Errorf("insert crate version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit publish: %w", err)
	}
	return nil
}

func (p *sqliteProvider) IsOwner(ctx context.Context, name crate.NormalizedName, user string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM crate_owners co
		 JOIN crates c ON c.id = co.crate_id
		 JOIN users u ON u.id = co.user_id
		 WHERE c.name = ? AND u.name = ?`, name.String(), user).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query owner: %w", err)
	}
	return true, nil
}

func (p *sqliteProvider) AddOwner(ctx context.Context, name crate.NormalizedName, user string) error {
	crateID, found, err := p.GetCrateID(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	res, err := p.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO crate_owners (crate_id, user_id)
		 SELECT ?, id FROM users WHERE name = ?`, crateID, user)
	if err != nil {
		return fmt.Errorf("insert owner: %w", err)
	}
	// 0 行受影响可能是用户不存在，也可能是其已是所有者；后者是幂等的成功。
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		var one int
		err := p.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE name = ?`, user).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNoSuchUser, user)
		}
		if err != nil {
			return fmt.Errorf("query user: %w", err)
		}
	}
	return nil
}

// DeleteOwner 拒绝移除最后一名所有者，保证所有者集合非空。
func (p *sqliteProvider) DeleteOwner(ctx context.Context, name crate.NormalizedName, user string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var crateID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM crates WHERE name = ?`, name.String()).Scan(&crateID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query crate: %w", err)
	}

	var total int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM crate_owners WHERE crate_id = ?`, crateID).Scan(&total); err != nil {
		return fmt.Errorf("count owners: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM crate_owners
		 WHERE crate_id = ? AND user_id = (SELECT id FROM users WHERE name = ?)`, crateID, user)
	if err != nil {
		return fmt.Errorf("delete owner: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete owner rows: %w", err)
	}
	if removed > 0 && total-int(removed) < 1 {
		return fmt.Errorf("%w: %s", ErrLastOwner, name)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit owner removal: %w", err)
	}
	return nil
}

func (p *sqliteProvider) GetCrateOwners(ctx context.Context, name crate.NormalizedName) ([]Owner, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT u.id, u.name FROM crate_owners co
		 JOIN crates c ON c.id = co.crate_id
		 JOIN users u ON u.id = co.user_id
		 WHERE c.name = ?
		 ORDER BY u.name`, name.String())
	if err != nil {
		return nil, fmt.Errorf("query owners: %w", err)
	}
	defer rows.Close()

	var owners []Owner
	for rows.Next() {
		var o Owner
		if err := rows.Scan(&o.ID, &o.Login); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

func (p *sqliteProvider) YankCrate(ctx context.Context, name crate.NormalizedName, version string) error {
	return p.setYanked(ctx, name, version, true)
}

func (p *sqliteProvider) UnyankCrate(ctx context.Context, name crate.NormalizedName, version string) error {
	return p.setYanked(ctx, name, version, false)
}

func (p *sqliteProvider) setYanked(ctx context.Context, name crate.NormalizedName, version string, yanked bool) error {
	flag := 0
	if yanked {
		flag = 1
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE crate_versions SET yanked = ?
		 WHERE version = ? AND crate_id = (SELECT id FROM crates WHERE name = ?)`,
		flag, version, name.String())
	if err != nil {
		return fmt.Errorf("update yank flag: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("yank rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s-%s", ErrNotFound, name, version)
	}
	return nil
}

func (p *sqliteProvider) SearchInCrateName(ctx context.Context, query string) ([]CrateSummary, error) {
	pattern := "%" + crate.Normalize(query).String() + "%"
	rows, err := p.db.QueryContext(ctx,
		`SELECT original_name, max_version, COALESCE(description, '')
		 FROM crates WHERE name LIKE ? ORDER BY name`, pattern)
	if err != nil {
		return nil, fmt.Errorf("search crates: %w", err)
	}
	defer rows.Close()

	var results []CrateSummary
	for rows.Next() {
		var s CrateSummary
		if err := rows.Scan(&s.OriginalName, &s.MaxVersion, &s.Description); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

func (p *sqliteProvider) IncreaseDownloadCounter(ctx context.Context, name crate.NormalizedName, version string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE crate_versions SET downloads = downloads + 1
		 WHERE version = ? AND crate_id = (SELECT id FROM crates WHERE name = ?)`,
		version, name.String())
	if err != nil {
		return fmt.Errorf("increase download counter: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("download counter rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s-%s", ErrNotFound, name, version)
	}
	return nil
}

func (p *sqliteProvider) IncreaseCachedDownloadCounter(ctx context.Context, name, version string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO cached_downloads (name, version, downloads) VALUES (?, ?, 1)
		 ON CONFLICT (name, version) DO UPDATE SET downloads = downloads + 1`,
		name, version)
	if err != nil {
		return fmt.Errorf("increase cached download counter: %w", err)
	}
	return nil
}

func (p *sqliteProvider) AddDocQueue(ctx context.Context, name crate.NormalizedName, version, path string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO doc_queue (crate_name, version, path, created_at) VALUES (?, ?, ?, ?)`,
		name.String(), version, path, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert doc queue entry: %w", err)
	}
	return nil
}

func (p *sqliteProvider) UserFromToken(ctx context.Context, token string) (User, error) {
	var user User
	var isAdmin int
	err := p.db.QueryRowContext(ctx,
		`SELECT u.id, u.name, u.is_admin FROM auth_tokens t
		 JOIN users u ON u.id = t.user_id
		 WHERE t.token = ?`, token).Scan(&user.ID, &user.Name, &isAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrInvalidToken
	}
	if err != nil {
		return User{}, fmt.Errorf("query token: %w", err)
	}
	user.IsAdmin = isAdmin != 0
	return user, nil
}

func (p *sqliteProvider) AddUser(ctx context.Context, name string, isAdmin bool) error {
	flag := 0
	if isAdmin {
		flag = 1
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users (name, is_admin) VALUES (?, ?)
		 ON CONFLICT (name) DO UPDATE SET is_admin = excluded.is_admin`, name, flag)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// AddAuthToken 是幂等的：重复注册同一令牌不报错。
func (p *sqliteProvider) AddAuthToken(ctx context.Context, description, token, user string) error {
	res, err := p.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO auth_tokens (description, token, user_id)
		 SELECT ?, ?, id FROM users WHERE name = ?`, description, token, user)
	if err != nil {
		return fmt.Errorf("insert auth token: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		var one int
		err := p.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE name = ?`, user).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNoSuchUser, user)
		}
		if err != nil {
			return fmt.Errorf("query user: %w", err)
		}
	}
	return nil
}

// ensureUser 在发布路径上按需落库身份；身份本身来自外部认证。
func ensureUser(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (name, is_admin) VALUES (?, 0)`, name); err != nil {
		return 0, fmt.Errorf("ensure user: %w", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("query user id: %w", err)
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
