package monitoring

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
)

// APIServer serves the read-only observability REST and WebSocket API.
// There are no write handlers: every fact it serves was published by the
// aggregator's own Service through Hooks.
type APIServer struct {
	service  *Service
	storage  Storage
	config   *Config
	auth     *AuthManager
	router   *mux.Router
	upgrader websocket.Upgrader
}

// NewAPIServer creates an APIServer. auth may be nil, which disables
// authentication entirely.
func NewAPIServer(service *Service, storage Storage, config *Config, auth *AuthManager) *APIServer {
	s := &APIServer{
		service: service,
		storage: storage,
		config:  config,
		auth:    auth,
		router:  mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if !config.Production {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range config.AllowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.setupRoutes()
	return s
}

// Start blocks serving the API on Config.APIPort.
func (s *APIServer) Start() error {
	allowedOrigins := []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	if s.config.Production {
		allowedOrigins = s.config.AllowedOrigins
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	addr := fmt.Sprintf(":%d", s.config.APIPort)
	log.Printf("[AGGREGATOR] 📡 observability API listening on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *APIServer) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	if s.auth != nil {
		api.Use(s.authMiddleware)
	}

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/rounds", s.handleListRounds).Methods("GET")
	api.HandleFunc("/rounds/{id}", s.handleGetRound).Methods("GET")
	api.HandleFunc("/reputation", s.handleListReputation).Methods("GET")
	api.HandleFunc("/threshold", s.handleThreshold).Methods("GET")
	api.HandleFunc("/events", s.handleListEvents).Methods("GET")
	api.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
}

func (s *APIServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		if _, err := s.auth.AuthenticateRequest(r); err != nil {
			http.Error(w, fmt.Sprintf("authentication failed: %v", err), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendSuccess(w, map[string]interface{}{"status": "healthy", "timestamp": time.Now()})
}

func (s *APIServer) handleListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.storage.ListRoundSnapshots()
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to list rounds", err)
		return
	}
	s.sendSuccess(w, rounds)
}

func (s *APIServer) handleGetRound(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, err := s.storage.GetRoundSnapshot(id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to get round", err)
		return
	}
	if snap == nil {
		s.sendError(w, http.StatusNotFound, "round not found", nil)
		return
	}
	s.sendSuccess(w, snap)
}

func (s *APIServer) handleListReputation(w http.ResponseWriter, r *http.Request) {
	entries, err := s.storage.ListReputationEntries()
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to list reputation", err)
		return
	}
	s.sendSuccess(w, entries)
}

func (s *APIServer) handleThreshold(w http.ResponseWriter, r *http.Request) {
	snap, err := s.storage.GetLatestThresholdSnapshot()
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to get threshold", err)
		return
	}
	if snap == nil {
		s.sendError(w, http.StatusNotFound, "no threshold snapshot recorded yet", nil)
		return
	}
	s.sendSuccess(w, snap)
}

func (s *APIServer) handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter := EventsFilter{
		RoundID: r.URL.Query().Get("round_id"),
		Type:    EventType(r.URL.Query().Get("type")),
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		filter.Offset = offset
	}

	events, err := s.storage.GetEvents(filter)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to list events", err)
		return
	}
	s.sendSuccess(w, events)
}

// handleWebSocket streams every published MonitoringEvent to the connected
// dashboard as `{"event": "<type>", "data": "<json-string>"}`, matching the
// ledger's own subscribe envelope.
func (s *APIServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[AGGREGATOR] ❌ websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch := make(chan MonitoringEvent, 64)
	s.service.Subscribe(ch)
	defer s.service.Unsubscribe(ch)

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for event := range ch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		envelope := map[string]string{"event": string(event.Type), "data": string(data)}
		if err := conn.WriteJSON(envelope); err != nil {
			log.Printf("[AGGREGATOR] ⚠️ websocket write error: %v", err)
			return
		}
	}
}

func (s *APIServer) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (s *APIServer) sendError(w http.ResponseWriter, statusCode int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: message})
}
