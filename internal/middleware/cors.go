package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows browser clients served from another origin (the React dev
// server) to call the REST fallback endpoints.
var CORS = cors.Handler(cors.Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-Id"},
	MaxAge:         300,
})
