package appdirectory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/gofiber/fiber/v2"
)

var ErrRejected = errors.New("app directory rejected request")

type deleteRequest struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Secret string `json:"secret"`
}

// Client talks to the app registry over HTTP/JSON.
type Client struct {
	baseURL string
	secret  string
	timeout time.Duration
}

// Ensure Client implements port.AppDirectory.
var _ port.AppDirectory = (*Client)(nil)

func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		timeout: timeout,
	}
}

// DeleteInstance removes one app server registration. A registration that is
// already gone counts as deleted.
func (c *Client) DeleteInstance(ctx context.Context, instance port.AppInstance) error {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	endpoint := fmt.Sprintf("%s/apps/%s/instances", c.baseURL, url.PathEscape(instance.AppName))
	agent := fiber.Delete(endpoint).
		Timeout(timeout).
		JSON(deleteRequest{Host: instance.Host, Port: instance.Port, Secret: c.secret})

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("delete instance %s on %s:%d: %w", instance.AppName, instance.Host, instance.Port, errors.Join(errs...))
	}

	switch {
	case code == fiber.StatusNotFound:
		logger.Debugw("App instance already gone", "app", instance.AppName, "host", instance.Host, "port", instance.Port)
		return nil
	case code >= 300:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, code, strings.TrimSpace(string(body)))
	}
	return nil
}
