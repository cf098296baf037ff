package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/athsys-api/internal/middleware"
	"github.com/noah-isme/athsys-api/internal/models"
	"github.com/noah-isme/athsys-api/internal/service"
	"github.com/noah-isme/athsys-api/pkg/cache"
	appErrors "github.com/noah-isme/athsys-api/pkg/errors"
	"github.com/noah-isme/athsys-api/pkg/response"
)

// clearablePrefix bounds what the cache clear endpoint may touch.
const clearablePrefix = "cache:"

// AdminHandler serves operator endpoints mounted under the admin prefix.
type AdminHandler struct {
	auth  *service.AuthService
	cache *service.CacheService
	flags *service.FeatureFlagService
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(auth *service.AuthService, cache *service.CacheService, flags *service.FeatureFlagService) *AdminHandler {
	return &AdminHandler{auth: auth, cache: cache, flags: flags}
}

// RevokeSession godoc
// @Summary Revoke a user's session
// @Description Deletes the session record so outstanding access tokens stop working
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Success 204
// @Failure 400 {object} response.ErrorBody
// @Failure 403 {object} response.ErrorBody
// @Router /admin/sessions/{id} [delete]
func (h *AdminHandler) RevokeSession(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.auth.RevokeSession(c.Request.Context(), userID, middleware.SessionFromContext(c), middleware.RequestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ClearCache godoc
// @Summary Clear cached responses
// @Description Deletes ad-hoc cache entries matching a glob pattern under cache:
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param pattern query string false "Glob pattern" default(cache:*)
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.ErrorBody
// @Router /admin/cache [delete]
func (h *AdminHandler) ClearCache(c *gin.Context) {
	pattern := strings.TrimSpace(c.DefaultQuery("pattern", clearablePrefix+"*"))
	if !strings.HasPrefix(pattern, clearablePrefix) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "pattern must start with "+clearablePrefix))
		return
	}
	if err := cache.ValidatePattern(pattern); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid pattern: "+err.Error()))
		return
	}
	if err := h.cache.Invalidate(c.Request.Context(), pattern); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear cache"))
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"cleared": pattern}, nil)
}

// ListFeatures godoc
// @Summary List feature flags
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /admin/features [get]
func (h *AdminHandler) ListFeatures(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.flags.List(), nil)
}

// UpdateFeature godoc
// @Summary Update a feature flag
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param name path string true "Feature name"
// @Param payload body models.UpdateFeatureRequest true "Feature state"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.ErrorBody
// @Failure 404 {object} response.ErrorBody
// @Router /admin/features/{name} [put]
func (h *AdminHandler) UpdateFeature(c *gin.Context) {
	var req models.UpdateFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid feature payload"))
		return
	}
	feature, err := h.flags.Update(c.Param("name"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, feature, nil)
}
