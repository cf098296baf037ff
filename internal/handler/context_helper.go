package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/athsys-api/internal/middleware"
	"github.com/noah-isme/athsys-api/internal/models"
	appErrors "github.com/noah-isme/athsys-api/pkg/errors"
	"github.com/noah-isme/athsys-api/pkg/response"
)

// currentSession returns the authenticated session or writes a 401.
func currentSession(c *gin.Context) (*models.Session, bool) {
	session := middleware.SessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrAuthHeaderMissing)
		return nil, false
	}
	return session, true
}

func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, name+" must be a positive integer"))
		return 0, false
	}
	return id, true
}
