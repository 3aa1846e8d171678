package api

import (
	"net/http"

	"github.com/Patraschu/mbtichatbotori/internal/models"
	"github.com/Patraschu/mbtichatbotori/internal/services"
	"github.com/gin-gonic/gin"
)

// PersonaDirectory lists what the setup wizard offers.
type PersonaDirectory interface {
	MBTIProfiles() []services.MBTIProfile
	RelationshipProfiles() []services.RelationshipProfile
}

func personasHandler(personas PersonaDirectory) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"mbti":          personas.MBTIProfiles(),
			"relationships": personas.RelationshipProfiles(),
			"genders":       []models.Gender{models.Male, models.Female},
		})
	}
}
