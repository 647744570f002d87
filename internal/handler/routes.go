package handler

import (
	"github.com/abdusco/shortly/internal/auth"
	"github.com/abdusco/shortly/internal/shortener"
	"github.com/labstack/echo/v4"
)

// Routes mounts the API and the short code redirect.
func Routes(e *echo.Echo, authenticator *auth.Authenticator, service *shortener.Service, siteURL string) {
	e.Validator = NewRequestValidator()

	authHandler := NewAuthHandler(authenticator)
	bindingHandler := NewBindingHandler(service, siteURL)

	api := e.Group("/api")
	api.Use(auth.NewAuthMiddleware(authenticator))

	api.POST("/register", authHandler.Register)
	api.GET("/token", authHandler.Token, auth.RequireAccountCredentials)

	tokenOnly := api.Group("", auth.RequireToken)
	tokenOnly.POST("/shorten", bindingHandler.Shorten)
	tokenOnly.GET("/bindings", bindingHandler.List)
	tokenOnly.GET("/destinations", bindingHandler.Destinations)
	tokenOnly.PUT("/bindings/:id/target", bindingHandler.ChangeTarget)
	tokenOnly.PUT("/bindings/:id/active", bindingHandler.SetActive)
	tokenOnly.DELETE("/bindings/:id", bindingHandler.Delete)
	tokenOnly.GET("/bindings/:id/visits", bindingHandler.Visits)
	tokenOnly.GET("/sort/:scope/:kind", bindingHandler.Sort)

	e.GET("/:code", bindingHandler.Redirect)
}
