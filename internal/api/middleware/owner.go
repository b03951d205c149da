package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"streampirex-radio/internal/models"
)

// RequireStationOwner restricts the control plane to the station's owner.
// It MUST be used AFTER ResolveIdentity and on routes with an :id param.
func RequireStationOwner(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := IdentityFrom(c)
		if ident.Anonymous {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid token"})
			return
		}

		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid station ID"})
			return
		}

		var station models.Station
		if err := db.Select("id", "owner_id").First(&station, uint(id)).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Station not found"})
			return
		}
		if station.OwnerID != ident.UserID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Forbidden: You do not own this station.",
			})
			return
		}

		c.Next()
	}
}
