package server

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/transport"
)

const maxBodyBytes = 4 << 20

func readBody(c echo.Context) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "read body")
	}
	if len(raw) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "empty body")
	}
	return raw, nil
}

func (s *Server) listEndpoints(c echo.Context) error {
	endpoints, err := s.endpoints.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, endpoints)
}

func (s *Server) createEndpoint(c echo.Context) error {
	var ep transport.Endpoint
	if err := c.Bind(&ep); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if ep.Name == "" || ep.Kind == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name and kind are required")
	}
	if err := s.endpoints.Create(c.Request().Context(), &ep); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ep)
}

func (s *Server) updateEndpoint(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var ep transport.Endpoint
	if err := c.Bind(&ep); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	ep.ID = id
	if err := s.endpoints.Update(c.Request().Context(), &ep); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ep)
}

func (s *Server) deleteEndpoint(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	// A running endpoint is stopped first; Stop failing just means it
	// was not running.
	_ = s.manager.Stop(id)
	if err := s.endpoints.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) startEndpoint(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := s.manager.Start(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) stopEndpoint(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := s.manager.Stop(id); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) testEndpoint(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := s.manager.Test(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusOK, map[string]any{"reachable": false, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"reachable": true})
}
