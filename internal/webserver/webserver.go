package webserver

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/emlsentry/emlsentry/internal/analyzer"
	"github.com/emlsentry/emlsentry/internal/cache"
	"github.com/emlsentry/emlsentry/internal/clients"
	"github.com/emlsentry/emlsentry/internal/notifications"
)

// WebServer holds the data needed for handling HTTP requests.
type WebServer struct {
	Analyzer *analyzer.Analyzer
	Clients  *clients.Set
	Cache    *cache.Cache // nil when caching is disabled
	Notifier *notifications.Notifier
	config   *WebserverConfig
	Logger   *logrus.Logger
}

// NewWebServer initializes a new WebServer.
func NewWebServer(
	analyzer *analyzer.Analyzer,
	clientSet *clients.Set,
	responseCache *cache.Cache,
	notifier *notifications.Notifier,
	config *WebserverConfig,
	logger *logrus.Logger,
) *WebServer {
	return &WebServer{
		Analyzer: analyzer,
		Clients:  clientSet,
		Cache:    responseCache,
		Notifier: notifier,
		config:   config,
		Logger:   logger,
	}
}

// InitRouter initializes the HTTP routes.
func (ws *WebServer) InitRouter() *mux.Router {
	r := mux.NewRouter().StrictSlash(true)
	api := r.PathPrefix("/api").Subrouter()

	if len(ws.config.JWTSecret) > 0 {
		api.Use(ws.authMiddleware)
	}

	api.HandleFunc("/analyze", ws.handleAnalyze).Methods(http.MethodPost)
	api.HandleFunc("/analyze/file", ws.handleAnalyzeFile).Methods(http.MethodPost)
	api.HandleFunc("/analyze/body", ws.handleAnalyzeBody).Methods(http.MethodPost)
	api.HandleFunc("/lookup/{id}", ws.handleLookup).Methods(http.MethodGet)
	api.HandleFunc("/cache/", ws.handleCacheIDs).Methods(http.MethodGet)
	api.HandleFunc("/status", ws.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/submit/inquest", ws.handleSubmitInQuest).Methods(http.MethodPost)
	api.HandleFunc("/submit/virustotal", ws.handleSubmitVirusTotal).Methods(http.MethodPost)
	api.HandleFunc("/submit/chatgpt", ws.handleSubmitChatGPT).Methods(http.MethodPost)

	return r
}

// StartWebServer starts the HTTP server.
func StartWebServer(ctx context.Context, ws *WebServer) (*http.Server, error) {
	router := ws.InitRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   ws.config.CorsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		Debug:            false,
	}
	handler := cors.New(corsOptions).Handler(router)

	server := &http.Server{
		Addr:    ws.config.ListenTo,
		Handler: handler,
	}

	go func() {
		ws.Logger.Infof("Server starting on %s", ws.config.ListenTo)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.Logger.Errorf("ListenAndServe(): %v", err)
		}
	}()

	return server, nil
}
