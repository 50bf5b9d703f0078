package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/crates-hub/crates-hub/internal/apierror"
	"github.com/crates-hub/crates-hub/internal/config"
	"github.com/crates-hub/crates-hub/internal/crate"
	"github.com/crates-hub/crates-hub/internal/db"
	"github.com/crates-hub/crates-hub/internal/logging"
	"github.com/crates-hub/crates-hub/internal/server"
	"github.com/crates-hub/crates-hub/internal/storage"
)

const (
	defaultPerPage = 10
	maxPerPage     = 100

	noDescription = "No description set"
)

// Handler 实现私有 registry 的全部操作。
type Handler struct {
	db     db.Provider
	store  *storage.Store
	cfg    *config.Config
	logger *logrus.Logger
}

// New 组装 registry 处理器；依赖在 main 中装配。
func New(provider db.Provider, store *storage.Store, cfg *config.Config, logger *logrus.Logger) *Handler {
	return &Handler{db: provider, store: store, cfg: cfg, logger: logger}
}

// Publish 处理 cargo publish：解码载荷、校验名称与版本、检查所有权、
// 写工件、落库，最后在启用文档构建时入队。任何失败都发生在副作用之前，
// 唯一的例外是并发发布同一版本，由数据库唯一约束裁决。
func (h *Handler) Publish(c fiber.Ctx) error {
	user, ok := server.CurrentUser(c)
	if !ok {
		return apierror.Render(c, apierror.New(apierror.TitleUnauthorized, "Authentication required."))
	}

	pub, apiErr := ParsePubData(c.Body())
	if apiErr != nil {
		return apierror.Render(c, apiErr)
	}
	meta := &pub.Metadata

	origName, err := crate.NewOriginalName(meta.Name)
	if err != nil {
		return apierror.Render(c, apierror.New(apierror.TitleInvalidInput, err.Error()))
	}
	normalized := origName.Normalized()

	if _, err := crate.NewVersion(meta.Vers); err != nil {
		return apierror.Render(c, apierror.New(apierror.TitleInvalidInput,
			fmt.Sprintf("Invalid version: %s", meta.Vers)))
	}

	ctx := c.Context()
	crateID, exists, err := h.db.GetCrateID(ctx, normalized)
	if err != nil {
		return h.internalError(c, "publish", err)
	}

	if exists {
		// 已存在的 crate 保留首次发布时的拼写；不同拼写视为同一 crate 的冲突。
		stored, _, err := h.db.GetOriginalName(ctx, normalized)
		if err != nil {
			return h.internalError(c, "publish", err)
		}
		if stored != meta.Name {
			return apierror.Render(c, apierror.New(apierror.TitleInvalidInput,
				fmt.Sprintf("Crate name differs from existing crate only in case or hyphens: %s", stored)))
		}

		if apiErr := h.checkOwnership(ctx, normalized, user); apiErr != nil {
			return apierror.Render(c, apiErr)
		}

		taken, err := h.db.CrateVersionExists(ctx, crateID, meta.Vers)
		if err != nil {
			return h.internalError(c, "publish", err)
		}
		if taken {
			return apierror.Render(c, versionConflict(meta.Name, meta.Vers))
		}
	}

	checksum, err := h.store.AddBinPackage(ctx, normalized.String(), meta.Vers, pub.CrateData)
	if err != nil {
		return h.internalError(c, "publish", err)
	}

	if err := h.db.AddCrate(ctx, meta, checksum, time.Now(), user.Name); err != nil {
		if errors.Is(err, db.ErrVersionExists) {
			return apierror.Render(c, versionConflict(meta.Name, meta.Vers))
		}
		return h.internalError(c, "publish", err)
	}

	h.enqueueDocBuild(ctx, normalized, meta)

	h.logger.WithFields(logging.CrateFields("crate_published", meta.Name, meta.Vers)).
		WithField("user", user.Name).
		Info("crate published")
	return c.JSON(PublishSuccess{})
}

// enqueueDocBuild 在文档构建启用且元数据未带文档链接时入队。
// 入队失败不阻断发布，发布本身此刻已经完成。
func (h *Handler) enqueueDocBuild(ctx context.Context, name crate.NormalizedName, meta *crate.Metadata) {
	if !h.cfg.Docs.Enabled {
		return
	}
	if meta.Documentation != nil && *meta.Documentation != "" {
		return
	}

	path, err := h.store.CreateRandDocQueuePath()
	if err == nil {
		err = h.db.AddDocQueue(ctx, name, meta.Vers, path)
	}
	if err != nil {
		h.logger.WithFields(logging.CrateFields("doc_queue_failed", meta.Name, meta.Vers)).
			WithError(err).
			Warn("failed to enqueue documentation build")
	}
}

// Download 返回工件字节。未知或非法的 name/version 一律 404，
// 这里面对的是下载器而非 cargo 的错误解析器。
func (h *Handler) Download(c fiber.Ctx) error {
	origName, err := crate.NewOriginalName(c.Params("name"))
	if err != nil {
		return c.SendStatus(fiber.StatusNotFound)
	}
	version := c.Params("version")
	if _, err := crate.NewVersion(version); err != nil {
		return c.SendStatus(fiber.StatusNotFound)
	}
	normalized := origName.Normalized()

	data, err := h.store.GetFile(c.Context(), h.store.CratePath(normalized.String(), version))
	if errors.Is(err, storage.ErrNotFound) {
		return c.SendStatus(fiber.StatusNotFound)
	}
	if err != nil {
		h.logger.WithFields(logging.CrateFields("download_failed", origName.String(), version)).
			WithError(err).
			Error("failed to read crate artifact")
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	// 计数失败只记录，不影响已经成功的下载。
	if err := h.db.IncreaseDownloadCounter(c.Context(), normalized, version); err != nil {
		h.logger.WithFields(logging.CrateFields("download_counter_failed", origName.String(), version)).
			WithError(err).
			Warn("failed to increase download counter")
	}

	c.Set(fiber.HeaderContentType, "application/octet-stream")
	return c.Send(data)
}

// Search 对规范化名称做子串匹配。per_page 越界直接拒绝而不是钳制。
func (h *Handler) Search(c fiber.Ctx) error {
	query := string(c.Request().URI().QueryArgs().Peek("q"))
	perPage, apiErr := ParsePerPage(string(c.Request().URI().QueryArgs().Peek("per_page")))
	if apiErr != nil {
		return apierror.Render(c, apiErr)
	}

	results, err := h.db.SearchInCrateName(c.Context(), query)
	if err != nil {
		return h.internalError(c, "search", err)
	}

	total := len(results)
	if len(results) > perPage {
		results = results[:perPage]
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		desc := r.Description
		if desc == "" {
			desc = noDescription
		}
		hits = append(hits, SearchHit{Name: r.OriginalName, MaxVersion: r.MaxVersion, Description: desc})
	}
	return c.JSON(SearchResult{Crates: hits, Meta: SearchMeta{Total: total}})
}

// ParsePerPage 解析 per_page 参数：缺省为 10，必须落在 [1, 100]。
func ParsePerPage(raw string) (int, *apierror.APIError) {
	if raw == "" {
		return defaultPerPage, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxPerPage {
		return 0, apierror.New(apierror.TitleInvalidInput,
			fmt.Sprintf("per_page must be a number between 1 and %d: %s", maxPerPage, raw))
	}
	return n, nil
}

// ListOwners 列出 crate 的所有者。
func (h *Handler) ListOwners(c fiber.Ctx) error {
	normalized, apiErr := h.resolveCrate(c)
	if apiErr != nil {
		return apierror.Render(c, apiErr)
	}

	owners, err := h.db.GetCrateOwners(c.Context(), normalized)
	if err != nil {
		return h.internalError(c, "list_owners", err)
	}

	users := make([]OwnerEntry, 0, len(owners))
	for _, o := range owners {
		users = append(users, OwnerEntry{ID: o.ID, Login: o.Login})
	}
	return c.JSON(OwnerList{Users: users})
}

// AddOwners 把请求体中的用户加入所有者集合；要求调用者已是所有者。
func (h *Handler) AddOwners(c fiber.Ctx) error {
	normalized, req, apiErr := h.resolveOwnerChange(c)
	if apiErr != nil {
		return apierror.Render(c, apiErr)
	}

	for _, login := range req.Users {
		if err := h.db.AddOwner(c.Context(), normalized, login); err != nil {
			if errors.Is(err, db.ErrNoSuchUser) {
				return apierror.Render(c, apierror.New(apierror.TitleInvalidInput,
					fmt.Sprintf("User does not exist: %s", login)))
			}
			return h.internalError(c, "add_owners", err)
		}
	}
	return c.JSON(OwnerResponse{OK: true, Msg: "Owners successfully added."})
}

// RemoveOwners 移除所有者；移除最后一名所有者被拒绝。
func (h *Handler) RemoveOwners(c fiber.Ctx) error {
	normalized, req, apiErr := h.resolveOwnerChange(c)
	if apiErr != nil {
		return apierror.Render(c, apiErr)
	}

	for _, login := range req.Users {
		if err := h.db.DeleteOwner(c.Context(), normalized, login); err != nil {
			if errors.Is(err, db.ErrLastOwner) {
				return apierror.Render(c, apierror.New(apierror.TitleInvalidInput,
					fmt.Sprintf("Cannot remove the last owner of crate: %s", normalized)))
			}
			if errors.Is(err, db.ErrNotFound) {
				return apierror.Render(c, crateNotFound(c.Params("name")))
			}
			return h.internalError(c, "remove_owners", err)
		}
	}
	return c.JSON(OwnerResponse{OK: true, Msg: "Owners successfully removed."})
}

// Yank 标记版本不可作为新依赖解析。
func (h *Handler) Yank(c fiber.Ctx) error {
	return h.setYanked(c, true)
}

// Unyank 撤销 yank 标记。
func (h *Handler) Unyank(c fiber.Ctx) error {
	return h.setYanked(c, false)
}

func (h *Handler) setYanked(c fiber.Ctx, yanked bool) error {
	user, ok := server.CurrentUser(c)
	if !ok {
		return apierror.Render(c, apierror.New(apierror.TitleUnauthorized, "Authentication required."))
	}

	origName, err := crate.NewOriginalName(c.Params("name"))
	if err != nil {
		return apierror.Render(c, apierror.New(apierror.TitleInvalidInput, err.Error()))
	}
	version := c.Params("version")
	if _, err := crate.NewVersion(version); err != nil {
		return apierror.Render(c, apierror.New(apierror.TitleInvalidInput,
			fmt.Sprintf("Invalid version: %s", version)))
	}
	normalized := origName.Normalized()

	if apiErr := h.checkOwnership(c.Context(), normalized, user); apiErr != nil {
		return apierror.Render(c, apiErr)
	}

	if yanked {
		err = h.db.YankCrate(c.Context(), normalized, version)
	} else {
		err = h.db.UnyankCrate(c.Context(), normalized, version)
	}
	if errors.Is(err, db.ErrNotFound) {
		return apierror.Render(c, apierror.New(apierror.TitleNotFound,
			fmt.Sprintf("Crate version not found: %s-%s", origName, version)))
	}
	if err != nil {
		return h.internalError(c, "yank", err)
	}

	h.logger.WithFields(logging.CrateFields("crate_yank_changed", origName.String(), version)).
		WithField("yanked", yanked).
		Info("crate yank flag changed")
	return c.JSON(YankResult{OK: true})
}

// resolveCrate 校验路径中的名称并确认 crate 存在。
func (h *Handler) resolveCrate(c fiber.Ctx) (crate.NormalizedName, *apierror.APIError) {
	origName, err := crate.NewOriginalName(c.Params("name"))
	if err != nil {
		return "", apierror.New(apierror.TitleInvalidInput, err.Error())
	}
	normalized := origName.Normalized()

	_, found, err := h.db.GetCrateID(c.Context(), normalized)
	if err != nil {
		h.logOperationError("resolve_crate", err)
		return "", apierror.New(apierror.TitleInternal, "Internal server error.")
	}
	if !found {
		return "", crateNotFound(origName.String())
	}
	return normalized, nil
}

// resolveOwnerChange 聚合所有者写操作共有的前置检查：认证、crate 存在、
// 调用者具备所有权、请求体可解析。
func (h *Handler) resolveOwnerChange(c fiber.Ctx) (crate.NormalizedName, *OwnerRequest, *apierror.APIError) {
	user, ok := server.CurrentUser(c)
	if !ok {
		return "", nil, apierror.New(apierror.TitleUnauthorized, "Authentication required.")
	}

	normalized, apiErr := h.resolveCrate(c)
	if apiErr != nil {
		return "", nil, apiErr
	}

	if apiErr := h.checkOwnership(c.Context(), normalized, user); apiErr != nil {
		return "", nil, apiErr
	}

	var req OwnerRequest
	if err := c.Bind().Body(&req); err != nil {
		return "", nil, apierror.New(apierror.TitleInvalidInput, "Invalid owner request body.")
	}
	if len(req.Users) == 0 {
		return "", nil, apierror.New(apierror.TitleInvalidInput, "No users given.")
	}
	return normalized, &req, nil
}

// checkOwnership 是所有写操作的所有权门：管理员短路，否则必须在所有者集合中。
func (h *Handler) checkOwnership(ctx context.Context, name crate.NormalizedName, user db.User) *apierror.APIError {
	if user.IsAdmin {
		return nil
	}
	isOwner, err := h.db.IsOwner(ctx, name, user.Name)
	if err != nil {
		h.logOperationError("check_ownership", err)
		return apierror.New(apierror.TitleInternal, "Internal server error.")
	}
	if !isOwner {
		return apierror.New(apierror.TitleNotOwner,
			fmt.Sprintf("You are not an owner of crate: %s", name))
	}
	return nil
}

func (h *Handler) internalError(c fiber.Ctx, action string, err error) error {
	h.logOperationError(action, err)
	return apierror.Render(c, apierror.New(apierror.TitleInternal, "Internal server error."))
}

func (h *Handler) logOperationError(action string, err error) {
	h.logger.WithField("action", action).WithError(err).Error("registry operation failed")
}

func versionConflict(name, version string) *apierror.APIError {
	return apierror.New(apierror.TitleVersionConflict,
		fmt.Sprintf("Crate with version already exists: %s-%s", name, version))
}

func crateNotFound(name string) *apierror.APIError {
	return apierror.New(apierror.TitleNotFound, fmt.Sprintf("Crate not found: %s", name))
}
