package server

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/statuscat/internal/cache"
	"github.com/any-hub/statuscat/internal/metrics"
)

// ProxyHandler describes the component that serves a request once its path
// has been validated as a status code. It allows injecting fakes in tests.
type ProxyHandler interface {
	Handle(fiber.Ctx, cache.Code) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, cache.Code) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, code cache.Code) error {
	return f(c, code)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger  *logrus.Logger
	Proxy   ProxyHandler
	Metrics *metrics.Metrics
	// BodyLimit caps PUT bodies in bytes; zero keeps Fiber's default.
	BodyLimit int
}

// InvalidCodeMessage is the body returned for any path that is not /<3 digits>.
const InvalidCodeMessage = "Invalid HTTP status code in URL."

const (
	contextKeyCode      = "_statuscat_code"
	contextKeyRequestID = "_statuscat_request_id"
)

// NewApp builds a Fiber application with code-validation middleware and
// plain-text error handling.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     opts.BodyLimit,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	app.All("/*", func(c fiber.Ctx) error {
		code, ok := CodeFromContext(c)
		if !ok {
			return c.Status(fiber.StatusBadRequest).SendString(InvalidCodeMessage)
		}
		return opts.Proxy.Handle(c, code)
	})

	return app, nil
}

// requestContextMiddleware 生成请求 ID，并在任何文件系统访问之前校验路径是否为 3 位数字。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		method := c.Method()
		rawPath := string(c.Request().URI().PathOriginal())
		code, err := parseRequestCode(c)
		if err != nil {
			opts.Logger.WithFields(logrus.Fields{
				"action":     "validate_path",
				"method":     method,
				"path":       rawPath,
				"request_id": reqID,
			}).Warn("invalid status code")
			c.Status(fiber.StatusBadRequest)
			opts.Metrics.ObserveRequest(method, fiber.StatusBadRequest, time.Since(started))
			return c.SendString(InvalidCodeMessage)
		}

		c.Locals(contextKeyCode, code)
		err = c.Next()
		opts.Metrics.ObserveRequest(method, responseStatus(c, err), time.Since(started))
		return err
	}
}

// parseRequestCode 校验未经解码/归一化的原始路径，"/%32%30%30"、"//200" 一律拒绝；
// 带查询串的请求（包括空查询 "/200?"）同样不是合法的状态码路径。
func parseRequestCode(c fiber.Ctx) (cache.Code, error) {
	if bytes.IndexByte(c.Request().RequestURI(), '?') >= 0 {
		return "", cache.ErrInvalidCode
	}
	return cache.ParseCode(string(c.Request().URI().PathOriginal()))
}

// errorHandler 将未处理的错误（含 recover 捕获的 panic）转换为纯文本响应，避免泄露内部细节。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"action":     "unhandled_error",
			"method":     c.Method(),
			"status":     status,
			"request_id": RequestID(c),
		}).Error("request_failed")
		return c.Status(status).SendString(http.StatusText(status))
	}
}

func responseStatus(c fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	return fiber.StatusInternalServerError
}

// CodeFromContext returns the status code validated by the middleware.
func CodeFromContext(c fiber.Ctx) (cache.Code, bool) {
	if value := c.Locals(contextKeyCode); value != nil {
		if code, ok := value.(cache.Code); ok {
			return code, true
		}
	}
	return "", false
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
