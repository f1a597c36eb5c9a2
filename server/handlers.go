package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rustyeddy/autotrader/agent"
)

// Response is the envelope of every API reply.
type Response struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func reply(c echo.Context, status int, data any) error {
	return c.JSON(status, Response{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

type pauseRequest struct {
	Reason string `json:"reason" default:"paused by operator" validate:"max=200"`
}

type overrideRequest struct {
	Action string  `json:"action" validate:"required,oneof=flatten-all flatten halt unhalt set-risk set-weight reset-session"`
	Symbol string  `json:"symbol" validate:"required_if=Action flatten"`
	Param  string  `json:"param" validate:"required_if=Action set-risk,required_if=Action set-weight"`
	Value  float64 `json:"value"`
	Reason string  `json:"reason" validate:"max=200"`
}

type eventsRequest struct {
	N int `query:"n" default:"50" validate:"gte=1,lte=256"`
}

func (s *Server) health(c echo.Context) error {
	return reply(c, http.StatusOK, map[string]any{
		"paused":  s.ctl.Paused(),
		"clients": s.hub.Clients(),
	})
}

func (s *Server) snapshot(c echo.Context) error {
	return reply(c, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) recent(c echo.Context) error {
	req := &eventsRequest{}
	if verr := bindAndValidate(c, req); verr != nil {
		return reply(c, http.StatusBadRequest, verr)
	}
	return reply(c, http.StatusOK, s.src.Recent(req.N))
}

func (s *Server) pause(c echo.Context) error {
	req := &pauseRequest{}
	if verr := bindAndValidate(c, req); verr != nil {
		return reply(c, http.StatusBadRequest, verr)
	}
	s.ctl.Pause(req.Reason)
	return reply(c, http.StatusOK, map[string]bool{"paused": s.ctl.Paused()})
}

func (s *Server) resume(c echo.Context) error {
	s.ctl.Resume()
	return reply(c, http.StatusOK, map[string]bool{"paused": s.ctl.Paused()})
}

func (s *Server) override(c echo.Context) error {
	req := &overrideRequest{}
	if verr := bindAndValidate(c, req); verr != nil {
		return reply(c, http.StatusBadRequest, verr)
	}

	res, err := s.ctl.ApplyOverride(c.Request().Context(), agent.Override{
		Action: agent.Action(req.Action),
		Symbol: req.Symbol,
		Param:  req.Param,
		Value:  req.Value,
		Reason: req.Reason,
	})
	switch {
	case errors.Is(err, agent.ErrUnknownOverride), errors.Is(err, agent.ErrBadOverride):
		return reply(c, http.StatusBadRequest, []ValidationError{{Code: "ERR_OVERRIDE", Message: err.Error()}})
	case err != nil:
		s.log.Error().Err(err).Str("action", req.Action).Msg("override failed")
		return reply(c, http.StatusBadGateway, map[string]any{
			"result": res,
			"error":  err.Error(),
		})
	}
	return reply(c, http.StatusOK, res)
}
