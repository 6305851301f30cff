package server

import (
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/scenario"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
)

// Request bodies stay close to the engine's option structs so the API
// surface and the engine never drift apart.

type replayRequest struct {
	EndpointID  *uuid.UUID        `json:"endpoint_id"`
	DryRun      bool              `json:"dry_run"`
	StopOnError bool              `json:"stop_on_error"`
	IPPPrefix   string            `json:"ipp_prefix"`
	NDAPrefix   string            `json:"nda_prefix"`
	Timeplan    scenario.Timeplan `json:"timeplan"`
	Endpoint    struct {
		SendingApp   string `json:"sending_app"`
		SendingFac   string `json:"sending_fac"`
		ReceivingApp string `json:"receiving_app"`
		ReceivingFac string `json:"receiving_fac"`
	} `json:"endpoint"`
}

func (s *Server) listTemplates(c echo.Context) error {
	templates, err := s.templates.ListTemplates(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, templates)
}

func (s *Server) captureScenario(c echo.Context) error {
	dossierID, err := parseID(c, "dossierID")
	if err != nil {
		return err
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	tmpl, err := s.scenarios.Capture(c.Request().Context(), dossierID, body.Name)
	if err != nil {
		return diagError(err)
	}
	return c.JSON(http.StatusCreated, tmpl)
}

func (s *Server) exportTemplate(c echo.Context) error {
	data, err := s.scenarios.Export(c.Request().Context(), c.Param("key"))
	if err != nil {
		return diagError(err)
	}
	return c.Blob(http.StatusOK, "application/json", data)
}

func (s *Server) importTemplate(c echo.Context) error {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, 4<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body")
	}
	override := c.QueryParam("override") == "true"

	tmpl, err := s.scenarios.Import(c.Request().Context(), data, override)
	if err != nil {
		return diagError(err)
	}
	return c.JSON(http.StatusCreated, tmpl)
}

func (s *Server) replayScenario(c echo.Context) error {
	var req replayRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	opts := scenario.ReplayOptions{
		DryRun:      req.DryRun,
		StopOnError: req.StopOnError,
	}
	opts.Timeplan = req.Timeplan
	opts.IPPPattern = req.IPPPrefix
	opts.NDAPattern = req.NDAPrefix
	opts.EndpointID = req.EndpointID

	// The stored endpoint record carries the addressing, the forced
	// identifier authority and the namespace scope; the request body may
	// still override the addressing.
	if req.EndpointID != nil {
		ep, err := s.endpoints.Get(c.Request().Context(), *req.EndpointID)
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, "unknown endpoint")
		}
		opts.Endpoint = ep.OutboundInfo()
		opts.JuridicalEntityID = ep.JuridicalEntityID
	}
	if req.Endpoint.SendingApp != "" {
		opts.Endpoint.SendingApp = req.Endpoint.SendingApp
	}
	if req.Endpoint.SendingFac != "" {
		opts.Endpoint.SendingFac = req.Endpoint.SendingFac
	}
	if req.Endpoint.ReceivingApp != "" {
		opts.Endpoint.ReceivingApp = req.Endpoint.ReceivingApp
	}
	if req.Endpoint.ReceivingFac != "" {
		opts.Endpoint.ReceivingFac = req.Endpoint.ReceivingFac
	}

	run, err := s.scenarios.Replay(c.Request().Context(), c.Param("key"), opts)
	if err != nil {
		return diagError(err)
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) scenarioStats(c echo.Context) error {
	var since *time.Time
	if raw := c.QueryParam("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be RFC 3339")
		}
		since = &t
	}
	stats, err := s.scenarios.Stats(c.Request().Context(), c.Param("key"), since)
	if err != nil {
		return diagError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) getRun(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	run, err := s.templates.GetRun(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown run")
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) cancelRun(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := s.scenarios.Cancel(c.Request().Context(), id); err != nil {
		return diagError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// diagError maps diagnostic codes onto HTTP statuses; anything unknown
// falls through as a 500.
func diagError(err error) error {
	switch diag.CodeOf(err) {
	case diag.TemplateNotFound, diag.PatientNotFound, diag.VenueNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case diag.CaptureEmptyFolder, diag.DuplicateControlID:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case diag.ConnectionRefused, diag.ConnectionReset, diag.ReadTimeout:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return err
	}
}
