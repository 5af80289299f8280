package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *echo.Context, status int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	res.WriteHeader(status)
	_, err = res.Write(body)
	return err
}

func writeError(c *echo.Context, status int, msg string) error {
	return writeJSON(c, status, ErrorResponse{Error: msg})
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, msg)
}

// decodeJSON keeps numbers as json.Number so 64-bit correlation ids and
// operands survive intact.
func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return out, newInvalidRequest(fmt.Sprintf("invalid request body: %v", err))
	}
	return out, nil
}
