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
	"strings"
	"time"

	"docvault/api/internal/identity"
	"docvault/api/internal/obs"
	"docvault/api/internal/store"
	"docvault/api/internal/visibility"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
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
			"store": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{
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

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		obs.Handler().ServeHTTP(w, r)
		return
	}

	caller := identity.FromHeaders(r.Header)
	parts := splitPath(r.URL.Path)

	// /permissions/{documentId}[/visibility|/domains|/accounts[/{accountId}]]
	if len(parts) >= 2 && parts[0] == "permissions" {
		documentID := parts[1]
		if documentID == "" {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}

		switch {
		case r.Method == http.MethodGet && len(parts) == 2:
			s.handleGetPermissions(w, r, documentID)
			return
		case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "visibility":
			s.handleSetVisibility(w, r, documentID)
			return
		case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "domains":
			s.handleSetDomains(w, r, documentID)
			return
		case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "accounts":
			s.handleSetAccounts(w, r, documentID)
			return
		case r.Method == http.MethodDelete && len(parts) == 4 && parts[2] == "accounts":
			s.handleRemoveAccount(w, r, documentID, parts[3])
			return
		}
	}

	// /documents and /documents/{documentId}/access
	if len(parts) >= 1 && parts[0] == "documents" {
		switch {
		case r.Method == http.MethodGet && len(parts) == 1:
			s.handleListDocuments(w, r, caller)
			return
		case r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "access":
			s.handleResolveAccess(w, r, parts[1], caller)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleGetPermissions(w http.ResponseWriter, r *http.Request, documentID string) {
	record, err := s.service.GetPermissions(r.Context(), documentID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *HTTPServer) handleSetVisibility(w http.ResponseWriter, r *http.Request, documentID string) {
	var body struct {
		Visibility string `json:"visibility"`
		ActorID    string `json:"actorId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	record, err := s.service.SetVisibility(r.Context(), documentID, body.Visibility, body.ActorID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *HTTPServer) handleSetDomains(w http.ResponseWriter, r *http.Request, documentID string) {
	var body struct {
		Domains []string `json:"domains"`
		ActorID string   `json:"actorId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	record, err := s.service.SetDomainRestrictions(r.Context(), documentID, body.Domains, body.ActorID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *HTTPServer) handleSetAccounts(w http.ResponseWriter, r *http.Request, documentID string) {
	var body struct {
		Accounts []store.AccountPermission `json:"accounts"`
		ActorID  string                    `json:"actorId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	record, err := s.service.SetAccountPermissions(r.Context(), documentID, body.Accounts, body.ActorID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *HTTPServer) handleRemoveAccount(w http.ResponseWriter, r *http.Request, documentID, accountID string) {
	var body struct {
		ActorID string `json:"actorId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	record, err := s.service.RemoveAccountPermission(r.Context(), documentID, accountID, body.ActorID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request, caller identity.Context) {
	documents, err := s.service.ListDocuments(r.Context(), caller)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": documents})
}

func (s *HTTPServer) handleResolveAccess(w http.ResponseWriter, r *http.Request, documentID string, caller identity.Context) {
	decision, err := s.service.ResolveAccess(r.Context(), documentID, caller)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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

		duration := time.Since(started)
		obs.ObserveRequest(r.Method, metricPath(r.URL.Path), writer.status, duration)
		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			duration.Milliseconds(),
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

// metricPath collapses per-document segments so the path label stays low
// cardinality.
func metricPath(path string) string {
	parts := splitPath(path)
	if len(parts) == 0 {
		return "/"
	}
	switch parts[0] {
	case "permissions":
		if len(parts) == 2 {
			return "/permissions/{documentId}"
		}
		if len(parts) == 3 {
			return "/permissions/{documentId}/" + parts[2]
		}
		if len(parts) == 4 && parts[2] == "accounts" {
			return "/permissions/{documentId}/accounts/{accountId}"
		}
	case "documents":
		if len(parts) == 3 && parts[2] == "access" {
			return "/documents/{documentId}/access"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-User-Id, X-User-Email, X-User-Roles, X-User-Assignments, X-Delegated-Teams")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
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
	if errors.Is(err, visibility.ErrUnauthenticated) {
		return http.StatusUnauthorized, "UNAUTHENTICATED", "Authentication required", nil
	}
	if errors.Is(err, visibility.ErrForbidden) {
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
