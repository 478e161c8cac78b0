package webserver

import (
	"os"
	"strings"
)

// WebserverConfig holds the configuration for the webserver.
type WebserverConfig struct {
	ListenTo           string
	CorsAllowedOrigins []string
	// JWTSecret enables the bearer-token middleware when non-empty.
	JWTSecret []byte
}

// NewWebserverConfig initializes the webserver configuration from
// environment variables.
func NewWebserverConfig() (*WebserverConfig, error) {
	config := &WebserverConfig{}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	config.ListenTo = ":" + port

	if corsAllowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsAllowedOrigins != "" {
		config.CorsAllowedOrigins = strings.Split(corsAllowedOrigins, ",")
	}

	if secret := os.Getenv("AUTH_JWT_SECRET"); secret != "" {
		config.JWTSecret = []byte(secret)
	}

	return config, nil
}
