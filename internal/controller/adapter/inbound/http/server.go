package http_handler

import (
	"context"
	"errors"

	"github.com/anthanhphan/appcontroller/internal/controller/port"
	sdklogger "github.com/anthanhphan/gosdk/logger"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Request is the JSON body every RPC accepts. Unused fields are ignored.
type Request struct {
	Secret      string `json:"secret"`
	Role        string `json:"role,omitempty"`
	Locations   any    `json:"locations,omitempty"`
	Credentials any    `json:"credentials,omitempty"`
	AppNames    any    `json:"app_names,omitempty"`
}

type Server struct {
	app     *fiber.App
	addr    string
	service port.ControllerService
}

func NewServer(addr string, service port.ControllerService) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	s := &Server{
		app:     app,
		addr:    addr,
		service: service,
	}

	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	rpc := s.app.Group("/rpc")
	rpc.Post("/set_parameters", s.handleSetParameters)
	rpc.Post("/status", s.handleStatus)
	rpc.Post("/add_role", s.handleAddRole)
	rpc.Post("/remove_role", s.handleRemoveRole)
	rpc.Post("/get_all_public_ips", s.handleGetAllPublicIPs)
	rpc.Post("/get_role_info", s.handleGetRoleInfo)
	rpc.Post("/done", s.handleDone)
	rpc.Post("/kill", s.handleKill)
}

// App exposes the fiber application, mainly for in-process tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Start() error {
	return s.app.Listen(s.addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) parse(c *fiber.Ctx) (*Request, error) {
	var req Request
	if len(c.Body()) == 0 {
		return &req, nil
	}
	if err := c.BodyParser(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// sendReply writes the plain-string outcome of a mutating call. Legacy clients
// parse the body, so failures still answer 200 except for malformed requests.
func (s *Server) sendReply(c *fiber.Ctx, method string, err error) error {
	if err != nil && !errors.Is(err, port.ErrBadSecret) {
		sdklogger.Warnw("RPC failed", "method", method, "error", err.Error())
	}
	return c.Status(fiber.StatusOK).SendString(port.Reply(err))
}

// sendError answers a query that could not produce its JSON payload.
func (s *Server) sendError(c *fiber.Ctx, method string, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, port.ErrBadSecret):
		status = fiber.StatusForbidden
	case errors.Is(err, port.ErrNotReady):
		status = fiber.StatusConflict
	default:
		sdklogger.Warnw("RPC failed", "method", method, "error", err.Error())
	}
	return c.Status(status).SendString(port.Reply(err))
}

func (s *Server) badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).SendString("Error: malformed request: " + err.Error())
}

func (s *Server) handleSetParameters(c *fiber.Ctx) error {
	req, err := s.parse(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	err = s.service.SetParameters(c.UserContext(), req.Locations, req.Credentials, req.AppNames, req.Secret)
	return s.sendReply(c, "set_parameters", err)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	req, err := s.parse(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	st, err := s.service.Status(c.UserContext(), req.Secret)
	if err != nil {
		return s.sendError(c, "status", err)
	}
	return c.JSON(st)
}

func (s *Server) handleAddRole(c *fiber.Ctx) error {
	req, err := s.parse(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	return s.sendReply(c, "add_role", s.service.AddRole(c.UserContext(), req.Role, req.Secret))
}

func (s *Server) handleRemoveRole(c *fiber.Ctx) error {
	req, err := s.parse(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	return s.sendReply(c, "remove_role", s.service.RemoveRole(c.UserContext(), req.Role, req.Secret))
}

func (s *Server) handleGetAllPublicIPs(c *fiber.Ctx) error {
	req, err := s.parse(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	ips, err := s.service.GetAllPublicIPs(c.UserContext(), req.Secret)
	if err != nil {
		return s.sendError(c, "get_all_public_ips", err)
	}
	return c.JSON(ips)
}

func (s *Server) handleGetRoleInfo(c *fiber.Ctx) error {
	req, err := s.parse(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	records, err := s.service.GetRoleInfo(c.UserContext(), req.Secret)
	if err != nil {
		return s.sendError(c, "get_role_info", err)
	}
	return c.JSON(records)
}

func (s *Server) handleDone(c *fiber.Ctx) error {
	req, err := s.parse(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	done, err := s.service.Done(c.UserContext(), req.Secret)
	if err != nil {
		return s.sendError(c, "done", err)
	}
	return c.JSON(done)
}

func (s *Server) handleKill(c *fiber.Ctx) error {
	req, err := s.parse(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	return s.sendReply(c, "kill", s.service.Kill(c.UserContext(), req.Secret))
}
