package router

import (
	"github.com/gin-gonic/gin"

	"github.com/defnot001/biomebot/internal/http/handler/webhook"
)

func GitHubRouter(router gin.IRoutes, handler *webhook.GitHubWebhookHandler) {
	router.POST("/github", handler.HandleEvent)
}
