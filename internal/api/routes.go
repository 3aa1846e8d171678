package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Patraschu/mbtichatbotori/internal/errors"
	"github.com/Patraschu/mbtichatbotori/internal/models"
	"github.com/gin-gonic/gin"
)

// ChatResponder answers one stateless chat request.
type ChatResponder interface {
	Respond(ctx context.Context, req *models.ChatRequest) (*models.ChatReply, error)
}

type Dependencies struct {
	Chat     ChatResponder
	Personas PersonaDirectory
	// APIKey is only reported by length.
	APIKey string
	Now    func() time.Time
}

func SetupRoutes(r *gin.Engine, deps Dependencies) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	api := r.Group("/api")
	{
		api.POST("/chat", chatHandler(deps.Chat))
		api.GET("/chat/test", chatTestHandler(deps.APIKey, deps.Now))
		api.GET("/personas", personasHandler(deps.Personas))
	}
}

func chatHandler(chat ChatResponder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			errors.HandleError(c, errors.New400Error("Invalid request body"))
			return
		}

		reply, err := chat.Respond(c.Request.Context(), &req)
		if err != nil {
			errors.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, reply)
	}
}

func chatTestHandler(apiKey string, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"hasApiKey":    apiKey != "",
			"apiKeyLength": len(apiKey),
			"timestamp":    now().UTC().Format(time.RFC3339Nano),
		})
	}
}
