// Package httpapi exposes the engine's control-plane operations over HTTP:
// document validation, synchronous and asynchronous runs, and report lookup.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/skein-dev/skein/internal/engine"
	"github.com/skein-dev/skein/internal/pipeline"
)

// Server wires the engine into a gin router.
type Server struct {
	engine *engine.Engine
	log    zerolog.Logger
	// base is the lifetime context for asynchronous runs, which outlive the
	// request that started them and stop only on process shutdown.
	base context.Context
}

// NewServer creates the API server. base bounds the lifetime of asynchronous
// runs started through POST /v1/runs.
func NewServer(base context.Context, eng *engine.Engine, log zerolog.Logger) *Server {
	return &Server{
		engine: eng,
		log:    log.With().Str("component", "httpapi").Logger(),
		base:   base,
	}
}

// Router builds the gin handler.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/v1")
	v1.POST("/pipelines/validate", s.handleValidate)
	v1.POST("/runs", s.handleStartRun)
	v1.POST("/runs/sync", s.handleRunSync)
	v1.GET("/runs/:id", s.handleGetReport)

	return r
}

// runRequest is the envelope for validate and run calls: the pipeline
// document as YAML text plus optional initial run variables.
type runRequest struct {
	Document string         `json:"document" binding:"required"`
	Vars     map[string]any `json:"vars"`
}

func (s *Server) handleValidate(c *gin.Context) {
	doc, ok := s.parseDocument(c)
	if !ok {
		return
	}
	if errs := s.engine.Validate(doc); len(errs) > 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"valid": false, "errors": validationPayload(errs)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

func (s *Server) handleStartRun(c *gin.Context) {
	doc, vars, ok := s.parseRun(c)
	if !ok {
		return
	}
	runID, err := s.engine.StartRun(s.base, doc, vars)
	if err != nil {
		s.respondRunError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"runId": runID})
}

func (s *Server) handleRunSync(c *gin.Context) {
	doc, vars, ok := s.parseRun(c)
	if !ok {
		return
	}
	report, err := s.engine.Run(c.Request.Context(), doc, vars)
	if err != nil {
		s.respondRunError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleGetReport(c *gin.Context) {
	report, err := s.engine.Report(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, report)
	case errors.Is(err, engine.ErrRunActive):
		c.JSON(http.StatusAccepted, gin.H{"runId": c.Param("id"), "status": "running"})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
	}
}

func (s *Server) parseRun(c *gin.Context) (*pipeline.Document, map[string]any, bool) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, nil, false
	}
	doc, err := pipeline.Parse([]byte(req.Document))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, nil, false
	}
	return doc, req.Vars, true
}

func (s *Server) parseDocument(c *gin.Context) (*pipeline.Document, bool) {
	doc, _, ok := s.parseRun(c)
	return doc, ok
}

func (s *Server) respondRunError(c *gin.Context, err error) {
	var verrs pipeline.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"valid": false, "errors": validationPayload(verrs)})
		return
	}
	s.log.Error().Err(err).Msg("run request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func validationPayload(errs pipeline.ValidationErrors) []gin.H {
	payload := make([]gin.H, len(errs))
	for i, e := range errs {
		payload[i] = gin.H{"kind": string(e.Kind), "taskId": e.TaskID, "message": e.Message}
	}
	return payload
}
