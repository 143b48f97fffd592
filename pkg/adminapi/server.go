// Package adminapi exposes a small HTTP API over a running engine: listing
// flows and node types, and injecting messages into nodes.
package adminapi

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"github.com/wehubfusion/redwire/internal/xjson"
	"github.com/wehubfusion/redwire/pkg/model"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

// FlowSummary describes one flow in GET /flows.
type FlowSummary struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Disabled bool   `json:"disabled"`
	Parent   string `json:"parent,omitempty"`
	Nodes    int    `json:"nodes"`
}

// NodeSummary describes one flow node in GET /flows/:id/nodes.
type NodeSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type"`
	Disabled bool   `json:"disabled"`
	Ports    int    `json:"ports"`
}

// Server serves the admin API of one engine.
type Server struct {
	engine *runtime.Engine
	logger *zap.Logger
	app    *fiber.App
}

// NewServer builds the routes.
func NewServer(engine *runtime.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{engine: engine, logger: logger}

	app := fiber.New(fiber.Config{
		JSONEncoder: xjson.Marshal,
		JSONDecoder: xjson.Unmarshal,
	})
	app.Get("/health", s.health)
	app.Get("/types", s.listTypes)
	app.Get("/flows", s.listFlows)
	app.Get("/flows/:id/nodes", s.listFlowNodes)
	app.Post("/inject/:id", s.inject)
	s.app = app
	return s
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Admin API listening", zap.String("addr", addr))
		errCh <- s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

func (s *Server) health(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) listTypes(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"types": s.engine.Registry().Types()})
}

func (s *Server) listFlows(c fiber.Ctx) error {
	flows := s.engine.Flows()
	out := make([]FlowSummary, 0, len(flows))
	for _, f := range flows {
		summary := FlowSummary{
			ID:       f.ID().String(),
			Label:    f.Label(),
			Type:     f.Type(),
			Disabled: f.Disabled(),
			Nodes:    len(f.Nodes()),
		}
		if p := f.Parent(); p != nil {
			summary.Parent = p.ID().String()
		}
		out = append(out, summary)
	}
	return c.JSON(fiber.Map{"flows": out})
}

func (s *Server) listFlowNodes(c fiber.Ctx) error {
	id, err := model.ParseElementID(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid flow id: "+err.Error())
	}
	flow, ok := s.engine.FindFlow(id)
	if !ok {
		return notFound(c, "flow "+id.String()+" not found")
	}
	nodes := flow.Nodes()
	out := make([]NodeSummary, 0, len(nodes))
	for _, n := range nodes {
		b := n.Base()
		out = append(out, NodeSummary{
			ID:       b.ID().String(),
			Name:     b.Name(),
			Type:     b.Type(),
			Disabled: b.Disabled(),
			Ports:    len(b.Ports()),
		})
	}
	return c.JSON(fiber.Map{"nodes": out})
}

// inject sends the JSON object body as a message to the node. An empty body
// triggers the node instead, like the button of an inject node.
func (s *Server) inject(c fiber.Ctx) error {
	id, err := model.ParseElementID(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid node id: "+err.Error())
	}

	body := c.Body()
	if len(body) == 0 {
		if err := s.engine.TriggerNode(c.Context(), id); err != nil {
			return handleEngineError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"node": id.String(), "triggered": true})
	}

	var obj map[string]any
	if err := xjson.Unmarshal(body, &obj); err != nil {
		return badRequest(c, "body must be a JSON object: "+err.Error())
	}
	msg := model.MsgFromMap(id, obj)
	if err := s.engine.InjectMsg(c.Context(), id, msg); err != nil {
		return handleEngineError(c, err)
	}
	s.logger.Debug("Injected message",
		zap.String("node_id", id.String()),
		zap.String("msg_id", msg.ID.String()))
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"node": id.String(), "_msgid": msg.ID.String()})
}
