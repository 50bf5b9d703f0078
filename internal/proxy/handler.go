package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/crates-hub/crates-hub/internal/apierror"
	"github.com/crates-hub/crates-hub/internal/config"
	"github.com/crates-hub/crates-hub/internal/crate"
	"github.com/crates-hub/crates-hub/internal/db"
	"github.com/crates-hub/crates-hub/internal/logging"
	"github.com/crates-hub/crates-hub/internal/registry"
	"github.com/crates-hub/crates-hub/internal/storage"
)

// Handler 实现 crates.io 缓存代理。缓存键使用请求中的原始名称，
// 上游把 serde-json 与 serde_json 视为不同 crate，这里不能折叠。
type Handler struct {
	client *http.Client
	db     db.Provider
	store  *storage.Store
	cfg    *config.Config
	logger *logrus.Logger
}

// New 组装代理处理器；client 的超时由配置决定。
func New(client *http.Client, provider db.Provider, store *storage.Store, cfg *config.Config, logger *logrus.Logger) *Handler {
	return &Handler{client: client, db: provider, store: store, cfg: cfg, logger: logger}
}

// Download 返回缓存或上游的工件字节。代理关闭时在任何上游交互前返回 404。
func (h *Handler) Download(c fiber.Ctx) error {
	if !h.cfg.Proxy.Enabled {
		return c.SendStatus(fiber.StatusNotFound)
	}

	name, err := crate.NewOriginalName(c.Params("name"))
	if err != nil {
		return c.SendStatus(fiber.StatusNotFound)
	}
	version := c.Params("version")
	if _, err := crate.NewVersion(version); err != nil {
		return c.SendStatus(fiber.StatusNotFound)
	}

	data, err := h.fetchOrFill(c.Context(), name.String(), version)
	if err != nil {
		h.logger.WithFields(logging.CrateFields("proxy_miss", name.String(), version)).
			WithError(err).
			Info("upstream crate not available")
		return c.SendStatus(fiber.StatusNotFound)
	}

	if err := h.db.IncreaseCachedDownloadCounter(c.Context(), name.String(), version); err != nil {
		h.logger.WithFields(logging.CrateFields("proxy_counter_failed", name.String(), version)).
			WithError(err).
			Warn("failed to increase cached download counter")
	}

	c.Set(fiber.HeaderContentType, "application/octet-stream")
	return c.Send(data)
}

// fetchOrFill 优先命中磁盘缓存；未命中时取上游并落盘。并发的首次下载
// 可能同时取上游，落盘前的二次检查让后到者直接复用先到者的文件。
func (h *Handler) fetchOrFill(ctx context.Context, name, version string) ([]byte, error) {
	path := h.store.CratePath(name, version)
	if h.store.Exists(path) {
		return h.store.GetFile(ctx, path)
	}

	data, err := h.fetchUpstream(ctx, name, version)
	if err != nil {
		return nil, err
	}

	if !h.store.Exists(path) {
		if _, err := h.store.AddBinPackage(ctx, name, version, data); err != nil {
			// 缓存写失败不阻断本次下载，下次请求会重新尝试落盘。
			h.logger.WithFields(logging.CrateFields("proxy_cache_write_failed", name, version)).
				WithError(err).
				Warn("failed to cache upstream crate")
			return data, nil
		}
	}
	return h.store.GetFile(ctx, path)
}

// fetchUpstream 从上游拉取完整工件。非 200 与传输错误对调用方无差别，
// 细节只进日志。
func (h *Handler) fetchUpstream(ctx context.Context, name, version string) ([]byte, error) {
	target := fmt.Sprintf("%s/api/v1/crates/%s/%s/download",
		strings.TrimRight(h.cfg.Proxy.Upstream, "/"), url.PathEscape(name), url.PathEscape(version))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream status %d for %s-%s", resp.StatusCode, name, version)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	return data, nil
}

// Search 把搜索原样转发给上游，结果不缓存。参数约束与本地搜索一致。
func (h *Handler) Search(c fiber.Ctx) error {
	if !h.cfg.Proxy.Enabled {
		return c.SendStatus(fiber.StatusNotFound)
	}

	query := string(c.Request().URI().QueryArgs().Peek("q"))
	perPage, apiErr := registry.ParsePerPage(string(c.Request().URI().QueryArgs().Peek("per_page")))
	if apiErr != nil {
		return apierror.Render(c, apiErr)
	}

	target := fmt.Sprintf("%s/api/v1/crates?q=%s&per_page=%s",
		strings.TrimRight(h.cfg.Proxy.Upstream, "/"), url.QueryEscape(query), strconv.Itoa(perPage))

	req, err := http.NewRequestWithContext(c.Context(), http.MethodGet, target, nil)
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.WithField("action", "proxy_search_failed").WithError(err).
			Warn("upstream search request failed")
		return c.SendStatus(fiber.StatusBadGateway)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.SendStatus(fiber.StatusBadGateway)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(resp.StatusCode).Send(body)
}
