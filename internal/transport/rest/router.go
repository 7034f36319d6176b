package rest

import (
	"net/http"
	"os"

	"debugsync/internal/service"
	"debugsync/internal/transport/rest/handler"
	"debugsync/internal/transport/ws"

	"github.com/gorilla/mux"
)

// Container holds all dependencies for the router
type Container struct {
	RoomService *service.RoomService
	ChatReq     *service.ChatRequestTracker
	Identity    service.Identity
	Runner      service.Runner
	Assistant   service.Assistant
	WSHub       *ws.Hub
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	// Initialize handlers
	roomHandler := handler.NewRoomHandler(c.RoomService)
	execHandler := handler.NewExecHandler(c.Runner, c.Assistant)
	wsHandler := ws.NewHandler(c.WSHub, c.RoomService, c.ChatReq, c.Identity)

	// CORS middleware (apply first)
	r.Use(corsMiddleware)

	// API v1 routes
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/rooms", roomHandler.Create).Methods("POST", "OPTIONS")
	v1.HandleFunc("/rooms/{code}/chat", roomHandler.Chat).Methods("GET", "OPTIONS")
	v1.HandleFunc("/rooms/{code}/history", roomHandler.History).Methods("GET", "OPTIONS")
	v1.HandleFunc("/rooms/{code}", roomHandler.Delete).Methods("DELETE", "OPTIONS")

	// Collaborator proxies
	v1.HandleFunc("/run", execHandler.Run).Methods("POST", "OPTIONS")
	v1.HandleFunc("/assist", execHandler.Assist).Methods("POST", "OPTIONS")

	// WebSocket route (identity via token in query param)
	v1.HandleFunc("/ws", wsHandler.Serve).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
		if allowedOrigins == "" {
			allowedOrigins = "*"
		}

		allowedMethods := os.Getenv("CORS_ALLOWED_METHODS")
		if allowedMethods == "" {
			allowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
		}

		allowedHeaders := os.Getenv("CORS_ALLOWED_HEADERS")
		if allowedHeaders == "" {
			allowedHeaders = "Content-Type, Authorization"
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
		w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
		w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
