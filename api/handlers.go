package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"racecontrol-api/api/middleware"
	"racecontrol-api/api/services"
	"racecontrol-api/db"
	"racecontrol-api/pkg/domain"
	embeddednats "racecontrol-api/pkg/services/embedded-nats"
	"racecontrol-api/pkg/shared"
	"racecontrol-api/pkg/tracking"
)

type Handlers struct {
	dbService   *db.Service
	authService *services.AuthService
	userService *services.UserService
	raceService *services.RaceService
	trackingMgr *tracking.Manager
	nats        *embeddednats.EmbeddedNATS
	validate    *validator.Validate
}

func NewHandlers(dbService *db.Service, nats *embeddednats.EmbeddedNATS, tolerance float64) (*Handlers, error) {
	conn := dbService.GetDB()
	raceService := services.NewRaceService(conn, nats)

	// Geofence crossings detected by the tracking core are recorded
	// through the race service.
	trackingMgr, err := tracking.NewManager(nats.JetStream(), raceService, tolerance)
	if err != nil {
		return nil, err
	}

	return &Handlers{
		dbService:   dbService,
		authService: services.NewAuthService(conn),
		userService: services.NewUserService(conn, nats),
		raceService: raceService,
		trackingMgr: trackingMgr,
		nats:        nats,
		validate:    validator.New(),
	}, nil
}

// TrackingManager exposes the session manager for shutdown wiring.
func (h *Handlers) TrackingManager() *tracking.Manager {
	return h.trackingMgr
}

// Auth handlers
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	resp, err := h.authService.Login(req.Username, req.Password)
	if err != nil {
		sendError(w, http.StatusUnauthorized, "LOGIN_FAILED", "Invalid username or password")
		return
	}

	sendSuccess(w, http.StatusOK, resp)
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if err := h.authService.Logout(token); err != nil {
		sendError(w, http.StatusInternalServerError, "LOGOUT_FAILED", err.Error())
		return
	}

	sendSuccess(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// requireAdmin rejects the request unless the authenticated user is an
// admin. Returns false after writing the error response.
func (h *Handlers) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	user := middleware.UserFromContext(r.Context())
	if user == nil || user.Type != shared.UserTypeAdmin {
		sendError(w, http.StatusForbidden, "FORBIDDEN", "Admin access required")
		return false
	}
	return true
}

// User handlers. Mutations are admin-only; any authenticated user can
// read.
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req domain.CreateUserRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	user, err := h.userService.CreateUser(&req)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "CREATE_FAILED", err.Error())
		return
	}

	sendSuccess(w, http.StatusCreated, user)
}

func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.ListUsers()
	if err != nil {
		sendError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	sendSuccess(w, http.StatusOK, users)
}

func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_USER_ID", "user_id is required")
		return
	}

	user, err := h.userService.GetUser(userID)
	if err != nil {
		if err.Error() == "user not found" {
			sendError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		} else {
			sendError(w, http.StatusInternalServerError, "GET_FAILED", err.Error())
		}
		return
	}

	sendSuccess(w, http.StatusOK, user)
}

func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_USER_ID", "user_id is required")
		return
	}

	var req domain.UpdateUserRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	user, err := h.userService.UpdateUser(userID, &req)
	if err != nil {
		if err.Error() == "user not found" {
			sendError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		} else {
			sendError(w, http.StatusInternalServerError, "UPDATE_FAILED", err.Error())
		}
		return
	}

	sendSuccess(w, http.StatusOK, user)
}

func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_USER_ID", "user_id is required")
		return
	}

	if err := h.userService.DeleteUser(userID); err != nil {
		if err.Error() == "user not found" {
			sendError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		} else {
			sendError(w, http.StatusInternalServerError, "DELETE_FAILED", err.Error())
		}
		return
	}

	sendSuccess(w, http.StatusOK, map[string]string{"message": "User deleted successfully"})
}

// Race handlers
func (h *Handlers) CreateRace(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateRaceRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	race, err := h.raceService.CreateRace(&req)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "CREATE_FAILED", err.Error())
		return
	}

	sendSuccess(w, http.StatusCreated, race)
}

func (h *Handlers) ListRaces(w http.ResponseWriter, r *http.Request) {
	races, err := h.raceService.ListRaces()
	if err != nil {
		sendError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	sendSuccess(w, http.StatusOK, races)
}

func (h *Handlers) GetRace(w http.ResponseWriter, r *http.Request) {
	raceID := r.URL.Query().Get("race_id")
	if raceID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_RACE_ID", "race_id is required")
		return
	}

	race, err := h.raceService.GetRace(raceID)
	if err != nil {
		if err.Error() == "race not found" {
			sendError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		} else {
			sendError(w, http.StatusInternalServerError, "GET_FAILED", err.Error())
		}
		return
	}

	sendSuccess(w, http.StatusOK, race)
}

func (h *Handlers) UpdateRace(w http.ResponseWriter, r *http.Request) {
	raceID := r.URL.Query().Get("race_id")
	if raceID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_RACE_ID", "race_id is required")
		return
	}

	var updates map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	race, err := h.raceService.UpdateRace(raceID, updates)
	if err != nil {
		if err.Error() == "race not found" {
			sendError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		} else {
			sendError(w, http.StatusInternalServerError, "UPDATE_FAILED", err.Error())
		}
		return
	}

	sendSuccess(w, http.StatusOK, race)
}

func (h *Handlers) DeleteRace(w http.ResponseWriter, r *http.Request) {
	raceID := r.URL.Query().Get("race_id")
	if raceID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_RACE_ID", "race_id is required")
		return
	}

	if err := h.raceService.DeleteRace(raceID); err != nil {
		if err.Error() == "race not found" {
			sendError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		} else {
			sendError(w, http.StatusInternalServerError, "DELETE_FAILED", err.Error())
		}
		return
	}

	sendSuccess(w, http.StatusOK, map[string]string{"message": "Race deleted successfully"})
}

// Roster handlers
func (h *Handlers) AddRacer(w http.ResponseWriter, r *http.Request) {
	var req domain.AddRacerRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if err := h.raceService.AddRacer(&req); err != nil {
		if err.Error() == "user not found" {
			sendError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		} else {
			sendError(w, http.StatusInternalServerError, "ADD_RACER_FAILED", err.Error())
		}
		return
	}

	sendSuccess(w, http.StatusOK, map[string]string{"message": "Racer added"})
}

func (h *Handlers) RemoveRacer(w http.ResponseWriter, r *http.Request) {
	var req domain.RemoveRacerRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if err := h.raceService.RemoveRacer(&req); err != nil {
		if err.Error() == "racer not on roster" {
			sendError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		} else {
			sendError(w, http.StatusInternalServerError, "REMOVE_RACER_FAILED", err.Error())
		}
		return
	}

	sendSuccess(w, http.StatusOK, map[string]string{"message": "Racer removed"})
}

// Race lifecycle handlers
func (h *Handlers) StartRacer(w http.ResponseWriter, r *http.Request) {
	h.markRacer(w, r, tracking.CrossingStart)
}

func (h *Handlers) EndRacer(w http.ResponseWriter, r *http.Request) {
	h.markRacer(w, r, tracking.CrossingEnd)
}

func (h *Handlers) markRacer(w http.ResponseWriter, r *http.Request, kind string) {
	var req domain.MarkRacerRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	var err error
	if kind == tracking.CrossingStart {
		err = h.raceService.MarkStart(r.Context(), req.RaceID, req.RacerID, req.Timestamp)
	} else {
		err = h.raceService.MarkEnd(r.Context(), req.RaceID, req.RacerID, req.Timestamp)
	}
	if err != nil {
		sendError(w, http.StatusInternalServerError, "MARK_FAILED", err.Error())
		return
	}

	sendSuccess(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Racer %s recorded", kind)})
}

func (h *Handlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	raceID := r.URL.Query().Get("race_id")
	if raceID == "" {
		sendError(w, http.StatusBadRequest, "MISSING_RACE_ID", "race_id is required")
		return
	}

	entries, err := h.raceService.Leaderboard(raceID)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "LEADERBOARD_FAILED", err.Error())
		return
	}

	sendSuccess(w, http.StatusOK, map[string]interface{}{"leaderboard": entries})
}

// Telemetry ingest: wraps the raw record in a tagged change envelope and
// publishes it to the race's telemetry subject. A request without a
// document id is a new sample ("added"); one with a document id is a
// correction ("modified").
func (h *Handlers) IngestTelemetry(w http.ResponseWriter, r *http.Request) {
	var req domain.IngestTelemetryRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	kind := shared.ChangeKindAdded
	docID := req.DocumentID
	if docID == "" {
		docID = uuid.New().String()
	} else {
		kind = shared.ChangeKindModified
	}

	env := domain.TelemetryEnvelope{
		Kind:       kind,
		DocumentID: docID,
		Record:     req.Record,
	}

	payload, err := json.Marshal(env)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "PUBLISH_FAILED", err.Error())
		return
	}

	// Deterministic message id so the stream's duplicate window can
	// absorb provider retries of the same sample.
	msgID := fmt.Sprintf("%s-%s-%s", docID, kind, req.Record.Time)
	subject := shared.TelemetryRaceSubject(req.RaceID)

	if err := h.nats.PublishWithDedup(subject, payload, msgID); err != nil {
		sendError(w, http.StatusInternalServerError, "PUBLISH_FAILED", err.Error())
		return
	}

	sendSuccess(w, http.StatusAccepted, map[string]string{
		"document_id": docID,
		"kind":        kind,
	})
}

// Tracking session handlers
func (h *Handlers) StartTrackingSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RaceID string `json:"race_id" validate:"required"`
	}
	if err := h.decodeAndValidate(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	race, err := h.raceService.GetRace(req.RaceID)
	if err != nil {
		if err.Error() == "race not found" {
			sendError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		} else {
			sendError(w, http.StatusInternalServerError, "GET_FAILED", err.Error())
		}
		return
	}

	session, err := h.trackingMgr.StartSession(race)
	if err != nil {
		sendError(w, http.StatusBadGateway, "SUBSCRIPTION_FAILED", err.Error())
		return
	}

	sendSuccess(w, http.StatusOK, session.Snapshot())
}

func (h *Handlers) StopTrackingSession(w http.ResponseWriter, r *http.Request) {
	h.trackingMgr.StopSession()
	sendSuccess(w, http.StatusOK, map[string]string{"message": "Tracking session stopped"})
}

func (h *Handlers) LiveView(w http.ResponseWriter, r *http.Request) {
	session := h.trackingMgr.Active()
	if session == nil {
		sendError(w, http.StatusConflict, "NO_ACTIVE_SESSION", "no race is being tracked")
		return
	}

	sendSuccess(w, http.StatusOK, session.Snapshot())
}

// Health check
func (h *Handlers) HealthCheck(nats *embeddednats.EmbeddedNATS) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := shared.HealthStatus{
			Status:    "healthy",
			Service:   "racecontrol-api",
			Timestamp: time.Now(),
			Details:   make(map[string]string),
		}

		// Check database
		if err := h.dbService.Health(); err != nil {
			health.Status = "unhealthy"
			health.Details["database"] = "unhealthy: " + err.Error()
		} else {
			health.Details["database"] = "healthy"
		}

		// Check NATS
		if err := nats.HealthCheck(); err != nil {
			health.Status = "unhealthy"
			health.Details["nats"] = "unhealthy: " + err.Error()
		} else {
			health.Details["nats"] = "healthy"
		}

		statusCode := http.StatusOK
		if health.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}

		sendSuccess(w, statusCode, health)
	}
}

func (h *Handlers) decodeAndValidate(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return h.validate.Struct(dst)
}

// Helper functions
func sendSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := shared.Response{
		Success: true,
		Data:    data,
	}

	json.NewEncoder(w).Encode(response)
}

func sendError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := shared.Response{
		Success: false,
		Error: &shared.Error{
			Code:    code,
			Message: message,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// RegisterRoutes sets up all API routes
func (h *Handlers) RegisterRoutes(mux *http.ServeMux, nats *embeddednats.EmbeddedNATS) {
	auth := h.authService

	// Health check and login (no auth required)
	mux.HandleFunc("/health", h.HealthCheck(nats))
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
			return
		}
		h.Login(w, r)
	})
	mux.HandleFunc("/api/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
			return
		}
		middleware.BearerAuth(auth, h.Logout)(w, r)
	})

	// User endpoints
	mux.HandleFunc("/api/v1/users", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			middleware.BearerAuth(auth, h.CreateUser)(w, r)
		case http.MethodGet:
			if r.URL.Query().Get("user_id") != "" {
				middleware.BearerAuth(auth, h.GetUser)(w, r)
			} else {
				middleware.BearerAuth(auth, h.ListUsers)(w, r)
			}
		case http.MethodPut:
			middleware.BearerAuth(auth, h.UpdateUser)(w, r)
		case http.MethodDelete:
			middleware.BearerAuth(auth, h.DeleteUser)(w, r)
		default:
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		}
	})

	// Race endpoints
	mux.HandleFunc("/api/v1/races", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			middleware.BearerAuth(auth, h.CreateRace)(w, r)
		case http.MethodGet:
			if r.URL.Query().Get("race_id") != "" {
				middleware.BearerAuth(auth, h.GetRace)(w, r)
			} else {
				middleware.BearerAuth(auth, h.ListRaces)(w, r)
			}
		case http.MethodPut:
			middleware.BearerAuth(auth, h.UpdateRace)(w, r)
		case http.MethodDelete:
			middleware.BearerAuth(auth, h.DeleteRace)(w, r)
		default:
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		}
	})

	mux.HandleFunc("/api/v1/races/racers", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			middleware.BearerAuth(auth, h.AddRacer)(w, r)
		case http.MethodDelete:
			middleware.BearerAuth(auth, h.RemoveRacer)(w, r)
		default:
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		}
	})

	mux.HandleFunc("/api/v1/races/start-racer", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
			return
		}
		middleware.BearerAuth(auth, h.StartRacer)(w, r)
	})

	mux.HandleFunc("/api/v1/races/end-racer", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
			return
		}
		middleware.BearerAuth(auth, h.EndRacer)(w, r)
	})

	mux.HandleFunc("/api/v1/races/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
			return
		}
		middleware.BearerAuth(auth, h.Leaderboard)(w, r)
	})

	// Telemetry ingest
	mux.HandleFunc("/api/v1/telemetry", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
			return
		}
		middleware.BearerAuth(auth, h.IngestTelemetry)(w, r)
	})

	// Live tracking
	mux.HandleFunc("/api/v1/tracking/session", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			middleware.BearerAuth(auth, h.StartTrackingSession)(w, r)
		case http.MethodDelete:
			middleware.BearerAuth(auth, h.StopTrackingSession)(w, r)
		default:
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
		}
	})

	mux.HandleFunc("/api/v1/tracking/live", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
			return
		}
		middleware.BearerAuth(auth, h.LiveView)(w, r)
	})
}
