// Package server exposes the bridge's HTTP surface: FHIR bundle ingest,
// the message log, scenario management and endpoint lifecycle.
package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/messagelog"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/scenario"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/pipeline"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/fhir"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/middleware"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/transport"
)

type Server struct {
	pipe      *pipeline.Pipeline
	msglog    *messagelog.Service
	scenarios *scenario.Service
	templates scenario.Repository
	manager   *transport.Manager
	endpoints transport.Repository
	strict    bool
	log       zerolog.Logger
}

func New(
	pipe *pipeline.Pipeline,
	msglog *messagelog.Service,
	scenarios *scenario.Service,
	templates scenario.Repository,
	manager *transport.Manager,
	endpoints transport.Repository,
	strict bool,
	log zerolog.Logger,
) *Server {
	return &Server{
		pipe:      pipe,
		msglog:    msglog,
		scenarios: scenarios,
		templates: templates,
		manager:   manager,
		endpoints: endpoints,
		strict:    strict,
		log:       log.With().Str("component", "server").Logger(),
	}
}

// Echo builds the configured echo instance.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(s.log))
	e.Use(middleware.Logger(s.log))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.POST("/fhir/Bundle", s.ingestBundle)

	api := e.Group("/api/v1")
	api.GET("/messages", s.listMessages)
	api.GET("/messages/:controlID", s.getMessage)

	api.GET("/scenarios", s.listTemplates)
	api.POST("/scenarios/capture/:dossierID", s.captureScenario)
	api.GET("/scenarios/:key/export", s.exportTemplate)
	api.POST("/scenarios/import", s.importTemplate)
	api.POST("/scenarios/:key/replay", s.replayScenario)
	api.GET("/scenarios/:key/stats", s.scenarioStats)
	api.GET("/runs/:id", s.getRun)
	api.POST("/runs/:id/cancel", s.cancelRun)

	api.GET("/endpoints", s.listEndpoints)
	api.POST("/endpoints", s.createEndpoint)
	api.PUT("/endpoints/:id", s.updateEndpoint)
	api.DELETE("/endpoints/:id", s.deleteEndpoint)
	api.POST("/endpoints/:id/start", s.startEndpoint)
	api.POST("/endpoints/:id/stop", s.stopEndpoint)
	api.POST("/endpoints/:id/test", s.testEndpoint)

	return e
}

// ingestBundle feeds a FHIR transaction Bundle through the pipeline. The
// answer is a transaction-response whose single entry reports the
// outcome; rejected bundles come back 422 with an OperationOutcome.
func (s *Server) ingestBundle(c echo.Context) error {
	raw, err := readBody(c)
	if err != nil {
		return err
	}

	res, err := s.pipe.ProcessFHIRBundle(c.Request().Context(), raw,
		pipeline.Options{Strict: s.strict})
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	if !res.Accepted {
		return c.JSON(http.StatusUnprocessableEntity, outcomeOf(res.Diags))
	}

	return c.JSON(http.StatusOK, fhir.Bundle{
		ResourceType: "Bundle",
		Type:         "transaction-response",
		Entry: []fhir.BundleEntry{{
			Response: &fhir.BundleResponse{Status: "200 OK"},
		}},
	})
}

func outcomeOf(diags diag.Diagnostics) *fhir.OperationOutcome {
	out := &fhir.OperationOutcome{ResourceType: "OperationOutcome"}
	for _, d := range diags {
		out.Issue = append(out.Issue, fhir.OperationOutcomeIssue{
			Severity:    string(d.Severity),
			Code:        "processing",
			Details:     &fhir.CodeableConcept{Text: string(d.Code)},
			Diagnostics: d.Text,
		})
	}
	if len(out.Issue) == 0 {
		out.Issue = []fhir.OperationOutcomeIssue{
			{Severity: "error", Code: "processing"},
		}
	}
	return out
}

func (s *Server) listMessages(c echo.Context) error {
	f := messagelog.Filter{
		Status:    messagelog.Status(c.QueryParam("status")),
		Direction: messagelog.Direction(c.QueryParam("direction")),
		Limit:     100,
	}
	if since := c.QueryParam("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be RFC 3339")
		}
		f.Since = &t
	}
	entries, err := s.msglog.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

// getMessage returns the exchange correlated to one inbound control id:
// the message itself and its ACK.
func (s *Server) getMessage(c echo.Context) error {
	entries, err := s.msglog.Correlated(c.Request().Context(), c.Param("controlID"))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "unknown control id")
	}
	return c.JSON(http.StatusOK, entries)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, name+" must be a UUID")
	}
	return id, nil
}
