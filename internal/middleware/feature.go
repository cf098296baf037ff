package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/athsys-api/pkg/errors"
	"github.com/noah-isme/athsys-api/pkg/response"
)

// FeatureChecker reports whether a feature is on for a user.
type FeatureChecker interface {
	IsEnabled(name string, userID *int64) bool
}

// FeatureGate answers 503 while the named feature is off for the caller.
func FeatureGate(flags FeatureChecker, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var userID *int64
		if session := SessionFromContext(c); session != nil {
			id := session.ID
			userID = &id
		}
		if flags != nil && flags.IsEnabled(name, userID) {
			c.Next()
			return
		}
		response.Error(c, appErrors.Clone(appErrors.ErrFeatureDisabled, fmt.Sprintf("Feature %s is currently disabled", name)))
		c.Abort()
	}
}
