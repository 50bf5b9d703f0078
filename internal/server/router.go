package server

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/crates-hub/crates-hub/internal/apierror"
	"github.com/crates-hub/crates-hub/internal/db"
)

// Locals 键使用带前缀的私有名称，避免与其他中间件冲突。
const (
	userKey      = "_crateshub_user"
	requestIDKey = "_crateshub_request_id"
)

// RegistryAPI 是私有 registry 暴露给路由层的操作集合。
type RegistryAPI interface {
	Publish(c fiber.Ctx) error
	Download(c fiber.Ctx) error
	Search(c fiber.Ctx) error
	ListOwners(c fiber.Ctx) error
	AddOwners(c fiber.Ctx) error
	RemoveOwners(c fiber.Ctx) error
	Yank(c fiber.Ctx) error
	Unyank(c fiber.Ctx) error
}

// ProxyAPI 是 crates.io 代理暴露给路由层的操作集合。
type ProxyAPI interface {
	Download(c fiber.Ctx) error
	Search(c fiber.Ctx) error
}

// AppOptions 聚合构建应用所需的依赖。
type AppOptions struct {
	Logger   *logrus.Logger
	DB       db.Provider
	Registry RegistryAPI
	Proxy    ProxyAPI
}

// NewApp 构建完整路由。写操作全部要求令牌认证，下载与搜索保持匿名可用。
func NewApp(opts AppOptions) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "crates-hub",
		// publish 载荷包含完整压缩包，默认 4MB 上限不够用。
		BodyLimit: 64 * 1024 * 1024,
	})

	app.Use(recoverer.New())
	app.Use(requestIDMiddleware())

	auth := authMiddleware(opts.DB, opts.Logger)

	// cargo login 会引导浏览器访问 /me。
	app.Get("/me", func(c fiber.Ctx) error {
		return c.Redirect().To("/login")
	})

	crates := app.Group("/api/v1/crates")
	crates.Put("/new", auth(opts.Registry.Publish))
	crates.Get("/", opts.Registry.Search)
	crates.Get("/:name/:version/download", opts.Registry.Download)
	crates.Get("/:name/owners", auth(opts.Registry.ListOwners))
	crates.Put("/:name/owners", auth(opts.Registry.AddOwners))
	crates.Delete("/:name/owners", auth(opts.Registry.RemoveOwners))
	crates.Delete("/:name/:version/yank", auth(opts.Registry.Yank))
	crates.Put("/:name/:version/unyank", auth(opts.Registry.Unyank))

	cratesio := app.Group("/api/v1/cratesio")
	cratesio.Get("/", opts.Proxy.Search)
	cratesio.Get("/:name/:version/download", opts.Proxy.Download)

	return app
}

// requestIDMiddleware 为每个请求生成 UUID，写入 Locals 与响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		id := uuid.NewString()
		c.Locals(requestIDKey, id)
		c.Set("X-Request-ID", id)
		return c.Next()
	}
}

// authMiddleware 把 Authorization 头解析为用户并存入 Locals。
// cargo 直接把令牌放在头里，部分客户端带 Bearer 前缀，两者都接受。
func authMiddleware(provider db.Provider, logger *logrus.Logger) func(fiber.Handler) fiber.Handler {
	return func(next fiber.Handler) fiber.Handler {
		return func(c fiber.Ctx) error {
			token := strings.TrimSpace(strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "))
			if token == "" {
				return unauthorized(c)
			}

			user, err := provider.UserFromToken(c.Context(), token)
			if errors.Is(err, db.ErrInvalidToken) {
				return unauthorized(c)
			}
			if err != nil {
				logger.WithField("action", "auth_failed").WithError(err).
					Error("failed to resolve auth token")
				return c.Status(fiber.StatusInternalServerError).
					JSON(apierror.New(apierror.TitleInternal, "Internal server error."))
			}

			c.Locals(userKey, user)
			return next(c)
		}
	}
}

func unauthorized(c fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).
		JSON(apierror.New(apierror.TitleUnauthorized, "Authentication required."))
}

// CurrentUser 返回认证中间件存放的用户；未经认证的路由上 ok 为 false。
func CurrentUser(c fiber.Ctx) (db.User, bool) {
	user, ok := c.Locals(userKey).(db.User)
	return user, ok
}

// RequestID 返回当前请求的 UUID。
func RequestID(c fiber.Ctx) string {
	id, _ := c.Locals(requestIDKey).(string)
	return id
}
