package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/seqstate/internal/backend"
	"github.com/samcharles93/seqstate/internal/logger"
)

// Models is the model repository as seen by the HTTP layer.
type Models interface {
	List() []string
	Ready(name string) bool
	Metadata(name string) (backend.ModelMetadata, error)
	Submit(ctx context.Context, name string, req *backend.InferenceRequest) (*backend.InferenceResponse, error)
}

type Server struct {
	models   Models
	log      logger.Logger
	upgrader websocket.Upgrader
}

func NewServer(models Models, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		models: models,
		log:    log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Register(e *echo.Echo) {
	// Health
	e.GET("/v2/health/live", s.handleLive)
	e.GET("/v2/health/ready", s.handleReady)

	// Models
	e.GET("/v2/models", s.handleListModels)
	e.GET("/v2/models/:model", s.handleModelMetadata)
	e.GET("/v2/models/:model/ready", s.handleModelReady)
	e.POST("/v2/models/:model/infer", s.handleInfer)
	e.GET("/v2/models/:model/stream", s.handleStream)
}

type healthResponse struct {
	Live  *bool `json:"live,omitempty"`
	Ready *bool `json:"ready,omitempty"`
}

func (s *Server) handleLive(c *echo.Context) error {
	live := true
	return writeJSON(c, http.StatusOK, healthResponse{Live: &live})
}

func (s *Server) handleReady(c *echo.Context) error {
	names := s.models.List()
	ready := len(names) > 0
	for _, name := range names {
		ready = ready && s.models.Ready(name)
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	return writeJSON(c, status, healthResponse{Ready: &ready})
}

type modelEntry struct {
	Name    string `json:"name"`
	Backend string `json:"platform"`
	State   string `json:"state"`
}

type modelList struct {
	Models []modelEntry `json:"models"`
}

func (s *Server) handleListModels(c *echo.Context) error {
	out := modelList{Models: []modelEntry{}}
	for _, name := range s.models.List() {
		entry := modelEntry{Name: name, State: "UNAVAILABLE"}
		if md, err := s.models.Metadata(name); err == nil {
			entry.Backend = md.Backend
		}
		if s.models.Ready(name) {
			entry.State = "READY"
		}
		out.Models = append(out.Models, entry)
	}
	return writeJSON(c, http.StatusOK, out)
}

func (s *Server) handleModelMetadata(c *echo.Context) error {
	md, err := s.models.Metadata(c.Param("model"))
	if err != nil {
		return writeError(c, statusFor(err), err.Error())
	}
	return writeJSON(c, http.StatusOK, md)
}

func (s *Server) handleModelReady(c *echo.Context) error {
	name := c.Param("model")
	ready := s.models.Ready(name)
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	return writeJSON(c, status, healthResponse{Ready: &ready})
}

func (s *Server) handleInfer(c *echo.Context) error {
	name := c.Param("model")
	req, err := decodeJSON[backend.InferenceRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	resp, err := s.infer(c.Request().Context(), name, &req)
	if err != nil {
		return writeError(c, statusFor(err), err.Error())
	}
	if resp.Failed() {
		return writeBadRequest(c, resp.Error)
	}
	return writeJSON(c, http.StatusOK, resp)
}

// infer assigns a request id when the client sent none and submits req.
func (s *Server) infer(ctx context.Context, name string, req *backend.InferenceRequest) (*backend.InferenceResponse, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	resp, err := s.models.Submit(ctx, name, req)
	if err != nil {
		s.log.Warn("inference rejected", "model", name, "id", req.ID, "error", err)
		return nil, err
	}
	if resp.Failed() {
		s.log.Debug("inference failed", "model", name, "id", req.ID, "error", resp.Error)
	}
	return resp, nil
}
