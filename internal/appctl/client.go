package appctl

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthanhphan/appcontroller/internal/controller/domain"
	"github.com/gofiber/fiber/v2"
)

var ErrRPC = errors.New("controller rejected call")

// Client calls one controller's RPC surface.
type Client struct {
	baseURL string
	secret  string
	timeout time.Duration
}

func NewClient(server, secret string, timeout time.Duration) *Client {
	base := strings.TrimRight(server, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{baseURL: base, secret: secret, timeout: timeout}
}

// Call posts body to /rpc/<method> with the secret attached and returns the raw reply.
func (c *Client) Call(method string, body map[string]any) ([]byte, error) {
	payload := map[string]any{"secret": c.secret}
	for k, v := range body {
		payload[k] = v
	}

	code, raw, errs := fiber.Post(c.baseURL + "/rpc/" + method).
		Timeout(c.timeout).
		JSON(payload).
		Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s: %w", method, errors.Join(errs...))
	}
	if code != fiber.StatusOK {
		return nil, fmt.Errorf("%w: %s: %s", ErrRPC, method, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

// Mutate runs a call that answers with a plain string and turns anything but
// "OK" into an error.
func (c *Client) Mutate(method string, body map[string]any) error {
	raw, err := c.Call(method, body)
	if err != nil {
		return err
	}
	if reply := strings.TrimSpace(string(raw)); reply != "OK" {
		return fmt.Errorf("%w: %s: %s", ErrRPC, method, reply)
	}
	return nil
}

func (c *Client) Status() (*domain.ControllerStatus, error) {
	var st domain.ControllerStatus
	if err := c.query("status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) RoleInfo() ([]domain.NodeRecord, error) {
	var records []domain.NodeRecord
	if err := c.query("get_role_info", &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) PublicIPs() ([]string, error) {
	var ips []string
	if err := c.query("get_all_public_ips", &ips); err != nil {
		return nil, err
	}
	return ips, nil
}

func (c *Client) Done() (bool, error) {
	var done bool
	if err := c.query("done", &done); err != nil {
		return false, err
	}
	return done, nil
}

func (c *Client) SetParameters(locations, credentials, appNames []string) error {
	return c.Mutate("set_parameters", map[string]any{
		"locations":   orEmpty(locations),
		"credentials": orEmpty(credentials),
		"app_names":   orEmpty(appNames),
	})
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func (c *Client) AddRole(role string) error {
	return c.Mutate("add_role", map[string]any{"role": role})
}

func (c *Client) RemoveRole(role string) error {
	return c.Mutate("remove_role", map[string]any{"role": role})
}

func (c *Client) Kill() error {
	return c.Mutate("kill", nil)
}

func (c *Client) query(method string, out any) error {
	raw, err := c.Call(method, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode reply: %w", method, err)
	}
	return nil
}
