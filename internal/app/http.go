package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gridspace/api/internal/auth"
	"gridspace/api/internal/authpw"
	"gridspace/api/internal/space"
	"gridspace/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	ws         http.Handler
}

func NewHTTPServer(service *Service, corsOrigin string, ws http.Handler) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, ws: ws}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes, no session required
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.SignUp(r.Context(), body.Username, body.Password)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Username, body.Password)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "username": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "username": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"username":      session.Username,
			"expiresAt":     session.ExpiresAt,
		})
		return
	}

	// Machine API, authenticated with a secret API key
	if strings.HasPrefix(r.URL.Path, "/api/v1/") {
		s.handleV1(w, r)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/api/spaces") {
		s.handleSpaces(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSpaces(w http.ResponseWriter, r *http.Request) {
	session, ok := s.optionalSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path) // ["api", "spaces", ...]

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			limit, ok := queryInt(w, query.Get("limit"), "limit")
			if !ok {
				return
			}
			offset, ok := queryInt(w, query.Get("offset"), "offset")
			if !ok {
				return
			}
			payload, err := s.service.ListSpaces(r.Context(), session, query.Get("search_type"), query.Get("query"), limit, offset)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
				IsPublic    bool   `json:"isPublic"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateSpace(r.Context(), session, body.Name, body.Description, body.IsPublic)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 3 && r.Method == http.MethodGet {
		switch parts[2] {
		case "featured":
			payload, err := s.service.Featured(r.Context())
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case "mine":
			payload, err := s.service.ListMine(r.Context(), session)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case "favorites":
			payload, err := s.service.ListFavorites(r.Context(), session)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
	}

	if len(parts) == 3 {
		spaceID := parts[2]
		switch r.Method {
		case http.MethodGet:
			summaryOnly := r.URL.Query().Get("get_summary") == "true"
			payload, err := s.service.GetSpace(r.Context(), session, spaceID, summaryOnly)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut:
			var patch space.Patch
			if err := decodeBody(r, &patch); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateSpace(r.Context(), session, spaceID, patch)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			var body struct {
				Password string `json:"password"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.DeleteSpace(r.Context(), session, spaceID, body.Password); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 4 {
		spaceID := parts[2]
		switch {
		case parts[3] == "participants" && r.Method == http.MethodGet:
			payload, err := s.service.ListParticipants(r.Context(), session, spaceID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case parts[3] == "participants" && r.Method == http.MethodPost:
			var body struct {
				Username string `json:"username"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.InviteParticipant(r.Context(), session, spaceID, body.Username)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		case parts[3] == "favorite" && r.Method == http.MethodPost:
			if err := s.service.AddFavorite(r.Context(), session, spaceID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case parts[3] == "favorite" && r.Method == http.MethodDelete:
			if err := s.service.RemoveFavorite(r.Context(), session, spaceID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	if len(parts) == 5 && parts[3] == "participants" {
		spaceID := parts[2]
		switch {
		case parts[4] == "accept" && r.Method == http.MethodPost:
			if err := s.service.AcceptInvite(r.Context(), session, spaceID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case r.Method == http.MethodDelete:
			if err := s.service.RemoveParticipant(r.Context(), session, spaceID, parts[4]); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleV1(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path) // ["api", "v1", ...]

	if len(parts) == 3 && parts[2] == "ping" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	user, err := s.service.VerifyAPIKey(r.Context(), bearerToken(r))
	if err != nil {
		writeMappedError(w, err)
		return
	}

	if len(parts) == 5 && parts[2] == "space" {
		spaceID := parts[3]
		switch parts[4] {
		case "grid_object":
			x, ok := queryInt(w, r.URL.Query().Get("x"), "x")
			if !ok {
				return
			}
			y, ok := queryInt(w, r.URL.Query().Get("y"), "y")
			if !ok {
				return
			}
			switch r.Method {
			case http.MethodGet:
				payload, err := s.service.GetGridObject(r.Context(), user, spaceID, x, y)
				if err != nil {
					writeMappedError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, payload)
			case http.MethodPut:
				var body struct {
					Fields map[string]FieldValuePatch `json:"fields"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				payload, err := s.service.PutGridObject(r.Context(), user, spaceID, x, y, body.Fields)
				if err != nil {
					writeMappedError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, payload)
			default:
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			}
			return
		case "description":
			switch r.Method {
			case http.MethodGet:
				payload, err := s.service.GetSpaceDescription(r.Context(), user, spaceID)
				if err != nil {
					writeMappedError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, payload)
			case http.MethodPut:
				var body struct {
					Description string `json:"description"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				payload, err := s.service.PutSpaceDescription(r.Context(), user, spaceID, body.Description)
				if err != nil {
					writeMappedError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, payload)
			default:
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			}
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// optionalSession resolves the bearer token when one is present. No
// token means an anonymous session; a broken token is rejected rather
// than silently downgraded.
func (s *HTTPServer) optionalSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		return Session{}, true
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Websocket upgrades need the raw ResponseWriter.
		if r.URL.Path == "/ws" && s.ws != nil {
			s.ws.ServeHTTP(w, r)
			return
		}

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"username":     session.Username,
		"expiresAt":    session.ExpiresAt,
	}
}

func queryInt(w http.ResponseWriter, raw, name string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", name+" must be an integer", nil)
		return 0, false
	}
	return parsed, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrDuplicate) {
		return http.StatusConflict, "CONFLICT", "Already exists", nil
	}
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
