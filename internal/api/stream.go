package api

import (
	"bytes"
	"context"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/seqstate/internal/backend"
)

// handleStream serves one sequence connection: every text frame is an
// inference request and gets exactly one response frame, in order. A bad
// frame is answered with an error and the connection stays open.
func (s *Server) handleStream(c *echo.Context) error {
	name := c.Param("model")
	if _, err := s.models.Metadata(name); err != nil {
		return writeError(c, statusFor(err), err.Error())
	}
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "model", name, "error", err)
		return nil
	}
	defer conn.Close()

	ctx := c.Request().Context()
	log := s.log.With("model", name, "remote", c.Request().RemoteAddr)
	log.Debug("stream opened")
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("stream closed unexpectedly", "error", err)
			}
			break
		}
		out, err := json.Marshal(s.streamReply(ctx, name, frame))
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			log.Warn("stream write failed", "error", err)
			break
		}
	}
	log.Debug("stream closed")
	return nil
}

func (s *Server) streamReply(ctx context.Context, name string, frame []byte) *backend.InferenceResponse {
	req, err := decodeJSON[backend.InferenceRequest](bytes.NewReader(frame))
	if err != nil {
		return &backend.InferenceResponse{ModelName: name, Error: err.Error()}
	}
	resp, err := s.infer(ctx, name, &req)
	if err != nil {
		return &backend.InferenceResponse{ID: req.ID, ModelName: name, Error: err.Error()}
	}
	return resp
}
