package integration

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/crates-hub/crates-hub/internal/config"
	"github.com/crates-hub/crates-hub/internal/crate"
	"github.com/crates-hub/crates-hub/internal/db"
	"github.com/crates-hub/crates-hub/internal/proxy"
	"github.com/crates-hub/crates-hub/internal/registry"
	"github.com/crates-hub/crates-hub/internal/server"
	"github.com/crates-hub/crates-hub/internal/storage"
)

// testEnv 聚合一套完整装配好的应用与其依赖，供端到端断言使用。
type testEnv struct {
	app      *fiber.App
	provider db.Provider
	cfg      *config.Config
}

// newTestEnv 按 main 的装配顺序搭建应用：数据库、双存储、处理器、路由。
func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()

	provider, err := db.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { provider.Close() })

	crateStore, err := storage.NewStore(filepath.Join(dir, "crates"))
	if err != nil {
		t.Fatalf("crate store: %v", err)
	}
	cacheStore, err := storage.NewStore(filepath.Join(dir, "cratesio"))
	if err != nil {
		t.Fatalf("cache store: %v", err)
	}

	cfg := &config.Config{}
	if mutate != nil {
		mutate(cfg)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	httpClient := server.NewUpstreamClient(cfg)
	app := server.NewApp(server.AppOptions{
		Logger:   logger,
		DB:       provider,
		Registry: registry.New(provider, crateStore, cfg, logger),
		Proxy:    proxy.New(httpClient, provider, cacheStore, cfg, logger),
	})

	return &testEnv{app: app, provider: provider, cfg: cfg}
}

// addUser 落库一个用户与令牌，返回可直接放进 Authorization 头的令牌。
func (e *testEnv) addUser(t *testing.T, name string, isAdmin bool) string {
	t.Helper()
	ctx := context.Background()
	if err := e.provider.AddUser(ctx, name, isAdmin); err != nil {
		t.Fatalf("add user %s: %v", name, err)
	}
	token := name + "-token"
	if err := e.provider.AddAuthToken(ctx, "test token", token, name); err != nil {
		t.Fatalf("add token for %s: %v", name, err)
	}
	return token
}

// buildPublishBody 构造 cargo publish 载荷：长度前缀的元数据 JSON 与压缩包字节。
func buildPublishBody(t *testing.T, meta crate.Metadata, crateData []byte) []byte {
	t.Helper()
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("marshal metadata: %v", err)
	}

	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(metaJSON)))
	buf.Write(lenBuf[:])
	buf.Write(metaJSON)
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(crateData)))
	buf.Write(lenBuf[:])
	buf.Write(crateData)
	return buf.Bytes()
}

// publish 以给定令牌发布一个 crate，返回响应体。
func (e *testEnv) publish(t *testing.T, token string, meta crate.Metadata, crateData []byte) []byte {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/crates/new",
		bytes.NewReader(buildPublishBody(t, meta, crateData)))
	req.Header.Set("Authorization", token)

	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("publish request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read publish body: %v", err)
	}
	return body
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := e.app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body of %s: %v", path, err)
	}
	return resp, body
}

func (e *testEnv) request(t *testing.T, method, path, token string, body []byte) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body of %s %s: %v", method, path, err)
	}
	return resp, respBody
}

// errorDetails 解出响应体中的 errors 数组的 detail 字段。
func errorDetails(t *testing.T, body []byte) []string {
	t.Helper()
	var payload struct {
		Errors []struct {
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("parse errors payload %q: %v", body, err)
	}
	details := make([]string, 0, len(payload.Errors))
	for _, e := range payload.Errors {
		details = append(details, e.Detail)
	}
	return details
}
