package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kbhistory/internal/archive"
	"kbhistory/internal/auth"
	"kbhistory/internal/items"
	"kbhistory/internal/rbac"
	"kbhistory/internal/search"
	"kbhistory/internal/versioning"
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
		s.handleReady(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch parts[1] {
	case "items":
		s.handleItems(w, r, session, parts[2:])
		return
	case "versions":
		s.handleVersions(w, r, session, parts[2:])
		return
	case "activity":
		if r.Method == http.MethodGet && len(parts) == 2 {
			s.handleActivity(w, r, session)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
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
}

// handleItems serves /api/items, /api/items/{id}, /api/items/{id}/versions
// and /api/items/{id}/revert.
func (s *HTTPServer) handleItems(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if !s.authorize(w, session, rbac.ActionRead) {
			return
		}
		list, err := s.service.ListItems(r.Context(), r.URL.Query().Get("type"))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
		return
	}

	itemID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			if !s.authorize(w, session, rbac.ActionRead) {
				return
			}
			item, err := s.service.GetItem(r.Context(), itemID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, item)
		case http.MethodPut:
			if !s.authorize(w, session, rbac.ActionWrite) {
				return
			}
			var body SaveItemInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			result, err := s.service.SaveItem(r.Context(), session, itemID, body)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
		case http.MethodDelete:
			if !s.authorize(w, session, rbac.ActionWrite) {
				return
			}
			if err := s.service.DeleteItem(r.Context(), itemID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"deleted": itemID})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "versions" && r.Method == http.MethodGet {
		if !s.authorize(w, session, rbac.ActionRead) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"itemId":   itemID,
			"versions": s.service.ListVersions(itemID),
		})
		return
	}

	if len(parts) == 2 && parts[1] == "revert" && r.Method == http.MethodPost {
		if !s.authorize(w, session, rbac.ActionWrite) {
			return
		}
		var body struct {
			VersionID string `json:"versionId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.RevertItem(r.Context(), session, itemID, body.VersionID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleVersions serves the /api/versions tree. The fixed segments stats,
// compare, search, cleanup and archive never collide with version ids.
func (s *HTTPServer) handleVersions(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case len(parts) == 1 && parts[0] == "stats" && r.Method == http.MethodGet:
		if !s.authorize(w, session, rbac.ActionRead) {
			return
		}
		writeJSON(w, http.StatusOK, s.service.Stats())

	case len(parts) == 1 && parts[0] == "compare" && r.Method == http.MethodGet:
		if !s.authorize(w, session, rbac.ActionRead) {
			return
		}
		query := r.URL.Query()
		comparison, err := s.service.CompareVersions(query.Get("from"), query.Get("to"))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, comparison)

	case len(parts) == 1 && parts[0] == "search" && r.Method == http.MethodGet:
		if !s.authorize(w, session, rbac.ActionRead) {
			return
		}
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		resp, err := s.service.SearchVersions(search.Query{
			Text:     query.Get("q"),
			ItemType: query.Get("itemType"),
			ItemID:   query.Get("itemId"),
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)

	case len(parts) == 1 && parts[0] == "cleanup" && r.Method == http.MethodPost:
		if !s.authorize(w, session, rbac.ActionAdmin) {
			return
		}
		var body struct {
			KeepLast *int `json:"keepLast"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, s.service.Cleanup(r.Context(), session, body.KeepLast))

	case len(parts) == 1 && parts[0] == "archive" && r.Method == http.MethodPost:
		if !s.authorize(w, session, rbac.ActionAdmin) {
			return
		}
		result, err := s.service.Archive(r.Context(), session)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(parts) == 1 && parts[0] == "archive" && r.Method == http.MethodGet:
		if !s.authorize(w, session, rbac.ActionAdmin) {
			return
		}
		runs, err := s.service.ArchiveRuns(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})

	case len(parts) == 3 && parts[0] == "archive" && r.Method == http.MethodGet:
		if !s.authorize(w, session, rbac.ActionAdmin) {
			return
		}
		snapshot, err := s.service.ArchivedVersion(r.Context(), parts[1], parts[2])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)

	case len(parts) == 1 && r.Method == http.MethodGet:
		if !s.authorize(w, session, rbac.ActionRead) {
			return
		}
		snapshot, err := s.service.GetVersion(parts[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)

	case len(parts) == 2 && parts[1] == "restore" && r.Method == http.MethodPost:
		if !s.authorize(w, session, rbac.ActionRead) {
			return
		}
		restored, err := s.service.RestoreVersion(r.Context(), session, parts[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, restored)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleActivity(w http.ResponseWriter, r *http.Request, session Session) {
	if !s.authorize(w, session, rbac.ActionRead) {
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	events, err := s.service.Activity(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *HTTPServer) authorize(w http.ResponseWriter, session Session, action rbac.Action) bool {
	if rbac.Can(session.Role, action) {
		return true
	}
	log.Printf("rbac: denied %s for user=%s role=%s", action, session.UserID, session.Role)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	return false
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("http: %v", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
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

// decodeBody decodes a JSON request body; an empty body leaves target untouched.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
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
	switch {
	case errors.Is(err, versioning.ErrVersionNotFound):
		return http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", nil
	case errors.Is(err, items.ErrNotFound):
		return http.StatusNotFound, "ITEM_NOT_FOUND", "Item not found", nil
	case errors.Is(err, archive.ErrObjectNotFound):
		return http.StatusNotFound, "ARCHIVE_OBJECT_NOT_FOUND", "Archived version not found", nil
	case errors.Is(err, versioning.ErrClosed):
		return http.StatusServiceUnavailable, "STORE_CLOSED", "Version store is closed", nil
	case errors.Is(err, versioning.ErrInvalidItemID):
		return http.StatusBadRequest, "INVALID_ITEM_ID", "Item id is required", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
