package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/athsys-api/internal/middleware"
	"github.com/noah-isme/athsys-api/internal/models"
	"github.com/noah-isme/athsys-api/internal/service"
	appErrors "github.com/noah-isme/athsys-api/pkg/errors"
	"github.com/noah-isme/athsys-api/pkg/export"
	"github.com/noah-isme/athsys-api/pkg/response"
)

// AthleteHandler exposes athlete registration endpoints.
type AthleteHandler struct {
	service *service.AthleteService
}

// NewAthleteHandler constructs an AthleteHandler.
func NewAthleteHandler(svc *service.AthleteService) *AthleteHandler {
	return &AthleteHandler{service: svc}
}

// List godoc
// @Summary List athletes
// @Tags Athletes
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Param country query string false "IOC country code"
// @Param search query string false "Name search"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.ErrorBody
// @Router /athletes [get]
func (h *AthleteHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	filter := models.AthleteFilter{
		Country:  strings.TrimSpace(c.Query("country")),
		Search:   strings.TrimSpace(c.Query("search")),
		Page:     page,
		PageSize: size,
	}

	start := time.Now()
	athletes, pagination, cacheHit, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.Meta(c)
	meta["processing_time_ms"] = time.Since(start).Milliseconds()

	response.JSON(c, http.StatusOK, athletes, pagination, meta)
}

// Export godoc
// @Summary Export athletes as CSV
// @Tags Athletes
// @Produce text/csv
// @Security BearerAuth
// @Param country query string false "IOC country code"
// @Param search query string false "Name search"
// @Success 200 {file} file
// @Failure 503 {object} response.ErrorBody
// @Router /athletes/export [get]
func (h *AthleteHandler) Export(c *gin.Context) {
	table, err := h.service.Export(c.Request.Context(), models.AthleteFilter{
		Country: strings.TrimSpace(c.Query("country")),
		Search:  strings.TrimSpace(c.Query("search")),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("athletes_%s.csv", time.Now().UTC().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	c.Writer.Header().Set("Content-Type", "text/csv; charset=utf-8")
	if err := export.WriteCSV(c.Writer, table); err != nil {
		_ = c.Error(err)
	}
}

// Get godoc
// @Summary Get athlete
// @Tags Athletes
// @Produce json
// @Security BearerAuth
// @Param id path int true "Athlete ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.ErrorBody
// @Router /athletes/{id} [get]
func (h *AthleteHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	athlete, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, athlete, nil)
}

// Create godoc
// @Summary Register athlete
// @Description Supports Idempotency-Key: a repeated request replays the first response.
// @Tags Athletes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Client idempotency key"
// @Param payload body models.CreateAthleteRequest true "Athlete"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.ErrorBody
// @Failure 409 {object} response.ErrorBody
// @Failure 429 {object} response.ErrorBody
// @Router /athletes [post]
func (h *AthleteHandler) Create(c *gin.Context) {
	session, ok := currentSession(c)
	if !ok {
		return
	}
	var req models.CreateAthleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid athlete payload"))
		return
	}
	athlete, err := h.service.Create(c.Request.Context(), req, session, middleware.RequestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, athlete)
}
