package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/statuscat/internal/cache"
	"github.com/any-hub/statuscat/internal/logging"
	"github.com/any-hub/statuscat/internal/metrics"
	"github.com/any-hub/statuscat/internal/provider"
	"github.com/any-hub/statuscat/internal/server"
)

// 返回给客户端的纯文本原因短语，不包含任何存储路径或底层错误文本。
const (
	MsgReadFailed     = "Server error while reading file."
	MsgWriteFailed    = "Server error on write."
	MsgDeleteFailed   = "Server error on delete."
	MsgCreated        = "Created or Updated"
	MsgDeleted        = "Deleted"
	MsgNotInCache     = "File not found in cache."
	MsgNotFound       = "Image not found in cache or provider."
	MsgMethodNotAllow = "Method Not Allowed"
)

const (
	contentTypeJPEG = "image/jpeg"
	headerCacheHit  = "X-Statuscat-Cache-Hit"
	allowedMethods  = "GET, PUT, DELETE"
)

// Handler 负责 “缓存命中 → 未命中回源 → 写缓存” 的读穿流程以及 PUT/DELETE，
// 对外暴露 Fiber handler，内部复用共享的 provider 客户端与磁盘缓存。
type Handler struct {
	fetcher provider.Fetcher
	logger  *logrus.Logger
	store   cache.Store
	metrics *metrics.Metrics
}

// NewHandler constructs a handler with shared fetcher/logger/store; metrics may be nil.
func NewHandler(fetcher provider.Fetcher, logger *logrus.Logger, store cache.Store, m *metrics.Metrics) *Handler {
	return &Handler{
		fetcher: fetcher,
		logger:  logger,
		store:   store,
		metrics: m,
	}
}

// Handle 按方法分发；路径已由中间件校验为 3 位状态码。
func (h *Handler) Handle(c fiber.Ctx, code cache.Code) error {
	switch c.Method() {
	case http.MethodGet:
		return h.handleGet(c, code)
	case http.MethodPut:
		return h.handlePut(c, code)
	case http.MethodDelete:
		return h.handleDelete(c, code)
	default:
		h.logResult(c, code, fiber.StatusMethodNotAllowed, false, time.Now(), nil)
		c.Set(fiber.HeaderAllow, allowedMethods)
		return c.Status(fiber.StatusMethodNotAllowed).SendString(MsgMethodNotAllow)
	}
}

func (h *Handler) handleGet(c fiber.Ctx, code cache.Code) error {
	started := time.Now()
	ctx := requestContext(c)

	result, err := h.store.Get(ctx, code)
	switch {
	case err == nil:
		h.metrics.CacheLookup(metrics.LookupHit)
		defer result.Reader.Close()
		return h.serveCache(c, code, result, started)
	case errors.Is(err, cache.ErrNotFound):
		h.metrics.CacheLookup(metrics.LookupMiss)
		return h.fetchAndCache(c, ctx, code, started)
	default:
		h.metrics.CacheLookup(metrics.LookupError)
		h.logResult(c, code, fiber.StatusInternalServerError, false, started, err)
		return c.Status(fiber.StatusInternalServerError).SendString(MsgReadFailed)
	}
}

func (h *Handler) serveCache(c fiber.Ctx, code cache.Code, result *cache.ReadResult, started time.Time) error {
	if _, err := io.Copy(c.Response().BodyWriter(), result.Reader); err != nil {
		c.Response().ResetBody()
		h.logResult(c, code, fiber.StatusInternalServerError, true, started, err)
		return c.Status(fiber.StatusInternalServerError).SendString(MsgReadFailed)
	}

	c.Set(fiber.HeaderContentType, contentTypeJPEG)
	c.Set(headerCacheHit, "true")
	c.Status(fiber.StatusOK)
	h.logResult(c, code, fiber.StatusOK, true, started, nil)
	return nil
}

// fetchAndCache 仅由 GET 未命中触发：回源成功才落盘并返回；任何回源失败都返回 404 且不触碰缓存。
func (h *Handler) fetchAndCache(c fiber.Ctx, ctx context.Context, code cache.Code, started time.Time) error {
	fields := h.baseFields(c, code)
	fields["action"] = "provider_fetch"
	h.logger.WithFields(fields).Info("cache miss, requesting image from provider")

	body, err := h.fetcher.Fetch(ctx, code)
	if err != nil {
		if errors.Is(err, provider.ErrNoImage) {
			h.metrics.ProviderFetch(metrics.FetchNotFound)
		} else {
			h.metrics.ProviderFetch(metrics.FetchError)
		}
		h.logger.WithError(err).WithFields(fields).Warn("provider has no image for code")
		h.logResult(c, code, fiber.StatusNotFound, false, started, nil)
		return c.Status(fiber.StatusNotFound).SendString(MsgNotFound)
	}
	h.metrics.ProviderFetch(metrics.FetchOK)

	entry, err := h.store.Put(ctx, code, bytes.NewReader(body))
	if err != nil {
		h.logResult(c, code, fiber.StatusInternalServerError, false, started, err)
		return c.Status(fiber.StatusInternalServerError).SendString(MsgWriteFailed)
	}
	fields["size_bytes"] = entry.SizeBytes
	h.logger.WithFields(fields).Info("saved image to cache")

	c.Set(fiber.HeaderContentType, contentTypeJPEG)
	c.Set(headerCacheHit, "false")
	h.logResult(c, code, fiber.StatusOK, false, started, nil)
	return c.Status(fiber.StatusOK).Send(body)
}

func (h *Handler) handlePut(c fiber.Ctx, code cache.Code) error {
	started := time.Now()
	// BodyRaw 保留原始字节，不做 Content-Encoding 解码。
	body := c.BodyRaw()

	if _, err := h.store.Put(requestContext(c), code, bytes.NewReader(body)); err != nil {
		h.logResult(c, code, fiber.StatusInternalServerError, false, started, err)
		return c.Status(fiber.StatusInternalServerError).SendString(MsgWriteFailed)
	}

	h.logResult(c, code, fiber.StatusCreated, false, started, nil)
	return c.Status(fiber.StatusCreated).SendString(MsgCreated)
}

func (h *Handler) handleDelete(c fiber.Ctx, code cache.Code) error {
	started := time.Now()

	err := h.store.Remove(requestContext(c), code)
	switch {
	case err == nil:
		h.logResult(c, code, fiber.StatusOK, false, started, nil)
		return c.Status(fiber.StatusOK).SendString(MsgDeleted)
	case errors.Is(err, cache.ErrNotFound):
		h.logResult(c, code, fiber.StatusNotFound, false, started, nil)
		return c.Status(fiber.StatusNotFound).SendString(MsgNotInCache)
	default:
		h.logResult(c, code, fiber.StatusInternalServerError, false, started, err)
		return c.Status(fiber.StatusInternalServerError).SendString(MsgDeleteFailed)
	}
}

func (h *Handler) baseFields(c fiber.Ctx, code cache.Code) logrus.Fields {
	fields := logrus.Fields{
		"code":   code.String(),
		"method": c.Method(),
	}
	if requestID := server.RequestID(c); requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func (h *Handler) logResult(c fiber.Ctx, code cache.Code, status int, cacheHit bool, started time.Time, err error) {
	fields := logging.RequestFields(c.Method(), code.String(), cacheHit)
	fields["action"] = "request"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID := server.RequestID(c); requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("request_failed")
		return
	}
	h.logger.WithFields(fields).Info("request_complete")
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
