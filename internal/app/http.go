package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ideaboard/api/internal/store"
)

// HTTPServer exposes the idea engine over JSON. Authentication and
// authorization happen upstream; the acting user arrives as a trusted header
// set by the gateway.
type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *slog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", s.withMiddleware(http.HandlerFunc(s.handle)))
	return mux
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":     false,
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ready"})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/statuses" {
		s.handleListStatuses(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/audit" {
		s.handleAuditTrail(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "ideas" {
		s.handleIdeas(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleIdeas(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		s.handleListIdeas(w, r)
	case len(rest) == 0 && r.Method == http.MethodPost:
		s.handleSubmitIdea(w, r)
	default:
		ideaID, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ID", "Idea id must be numeric", nil)
			return
		}
		s.handleIdea(w, r, ideaID, rest[1:])
	}
}

func (s *HTTPServer) handleIdea(w http.ResponseWriter, r *http.Request, ideaID int64, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		s.handleGetIdea(w, r, ideaID)
	case len(rest) == 0 && r.Method == http.MethodDelete:
		s.handleDeleteIdea(w, r, ideaID)
	case len(rest) == 1 && rest[0] == "vote" && r.Method == http.MethodPost:
		s.handleVote(w, r, ideaID)
	case len(rest) == 1 && rest[0] == "vote" && r.Method == http.MethodDelete:
		s.handleRemoveVote(w, r, ideaID)
	case len(rest) == 1 && rest[0] == "voters" && r.Method == http.MethodGet:
		s.handleVoters(w, r, ideaID)
	case len(rest) == 1 && rest[0] == "title" && r.Method == http.MethodPut:
		s.handleSetTitle(w, r, ideaID)
	case len(rest) == 1 && rest[0] == "status" && r.Method == http.MethodPut:
		s.handleSetStatus(w, r, ideaID)
	case len(rest) == 1 && rest[0] == "duplicate" && r.Method == http.MethodPut:
		s.handleSetRef(w, r, ideaID, "duplicate")
	case len(rest) == 1 && rest[0] == "ticket" && r.Method == http.MethodPut:
		s.handleSetRef(w, r, ideaID, "ticket")
	case len(rest) == 1 && rest[0] == "rfc" && r.Method == http.MethodPut:
		s.handleSetRef(w, r, ideaID, "rfc")
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleListIdeas(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	includeHidden := query.Get("filter") == "all"
	viewerID := s.identity(r)

	items, err := s.service.ListIdeas(r.Context(), viewerID, query.Get("sort"), query.Get("direction"), limit, includeHidden)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		entry := ideaJSON(item.Idea, item.StatusName)
		entry["read"] = item.Read
		payload = append(payload, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ideas": payload})
}

func (s *HTTPServer) handleSubmitIdea(w http.ResponseWriter, r *http.Request) {
	authorID := s.identity(r)
	if authorID == 0 {
		writeError(w, http.StatusUnauthorized, "NO_IDENTITY", "Acting user required", nil)
		return
	}

	var body struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	ideaID, err := s.service.SubmitIdea(r.Context(), authorID, body.Title, body.Description)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ideaId": ideaID})
}

func (s *HTTPServer) handleGetIdea(w http.ResponseWriter, r *http.Request, ideaID int64) {
	detail, err := s.service.GetIdea(r.Context(), s.identity(r), ideaID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	payload := ideaJSON(detail.Idea, detail.StatusName)
	payload["description"] = detail.Description
	if detail.Refs.DuplicateID != 0 {
		payload["duplicateOf"] = detail.Refs.DuplicateID
	}
	if detail.Refs.TicketID != 0 {
		payload["ticket"] = detail.Refs.TicketID
	}
	if detail.Refs.RFCLink != "" {
		payload["rfc"] = detail.Refs.RFCLink
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleDeleteIdea(w http.ResponseWriter, r *http.Request, ideaID int64) {
	actorID := s.identity(r)
	if actorID == 0 {
		writeError(w, http.StatusUnauthorized, "NO_IDENTITY", "Acting user required", nil)
		return
	}
	topicID, _ := strconv.ParseInt(r.URL.Query().Get("topicId"), 10, 64)

	deleted, err := s.service.Delete(r.Context(), actorID, ideaID, topicID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (s *HTTPServer) handleVote(w http.ResponseWriter, r *http.Request, ideaID int64) {
	userID := s.identity(r)
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "NO_IDENTITY", "Acting user required", nil)
		return
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	result, err := s.service.Vote(r.Context(), ideaID, userID, body.Value)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, voteJSON(result))
}

func (s *HTTPServer) handleRemoveVote(w http.ResponseWriter, r *http.Request, ideaID int64) {
	userID := s.identity(r)
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "NO_IDENTITY", "Acting user required", nil)
		return
	}

	result, err := s.service.RemoveVote(r.Context(), ideaID, userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, voteJSON(result))
}

func (s *HTTPServer) handleVoters(w http.ResponseWriter, r *http.Request, ideaID int64) {
	voters, err := s.service.Voters(r.Context(), ideaID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	payload := make([]map[string]any, 0, len(voters))
	for _, voter := range voters {
		value := "down"
		if voter.Up {
			value = "up"
		}
		payload = append(payload, map[string]any{
			"userId":   voter.UserID,
			"username": voter.Username,
			"colour":   voter.Colour,
			"value":    value,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"voters": payload})
}

func (s *HTTPServer) handleSetTitle(w http.ResponseWriter, r *http.Request, ideaID int64) {
	actorID := s.identity(r)
	if actorID == 0 {
		writeError(w, http.StatusUnauthorized, "NO_IDENTITY", "Acting user required", nil)
		return
	}

	var body struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	updated, err := s.service.SetTitle(r.Context(), actorID, ideaID, body.Title)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

func (s *HTTPServer) handleSetStatus(w http.ResponseWriter, r *http.Request, ideaID int64) {
	actorID := s.identity(r)
	if actorID == 0 {
		writeError(w, http.StatusUnauthorized, "NO_IDENTITY", "Acting user required", nil)
		return
	}

	var body struct {
		Status int `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := s.service.ChangeStatus(r.Context(), actorID, ideaID, body.Status); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleSetRef covers the three cross-reference relations. Malformed values
// are dropped by the service without an error, so this endpoint answers OK
// either way.
func (s *HTTPServer) handleSetRef(w http.ResponseWriter, r *http.Request, ideaID int64, kind string) {
	actorID := s.identity(r)
	if actorID == 0 {
		writeError(w, http.StatusUnauthorized, "NO_IDENTITY", "Acting user required", nil)
		return
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	var err error
	switch kind {
	case "duplicate":
		err = s.service.SetDuplicate(r.Context(), actorID, ideaID, body.Value)
	case "ticket":
		err = s.service.SetTicket(r.Context(), actorID, ideaID, body.Value)
	case "rfc":
		err = s.service.SetRFC(r.Context(), actorID, ideaID, body.Value)
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.service.Statuses(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	payload := make([]map[string]any, 0, len(statuses))
	for _, status := range statuses {
		payload = append(payload, map[string]any{"id": status.ID, "name": status.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"statuses": payload})
}

func (s *HTTPServer) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.service.AuditTrail(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	payload := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, map[string]any{
			"id":        entry.ID,
			"actorId":   entry.ActorID,
			"action":    entry.Action,
			"subject":   entry.Subject,
			"createdAt": entry.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": payload})
}

// identity resolves the acting user from gateway-supplied headers: a numeric
// X-User-ID, or an X-User username looked up in the user directory. Zero
// means anonymous.
func (s *HTTPServer) identity(r *http.Request) int64 {
	if raw := r.Header.Get("X-User-ID"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			return id
		}
		return 0
	}
	if name := r.Header.Get("X-User"); name != "" {
		user, err := s.service.ResolveUser(r.Context(), name)
		if err != nil {
			return 0
		}
		return user.ID
	}
	return 0
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		writeError(w, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
		return
	}
	s.logger.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal error", nil)
}

func ideaJSON(idea store.Idea, statusName string) map[string]any {
	return map[string]any{
		"id":         idea.ID,
		"title":      idea.Title,
		"authorId":   idea.AuthorID,
		"author":     idea.AuthorName,
		"status":     idea.Status,
		"statusName": statusName,
		"createdAt":  idea.CreatedAt.Unix(),
		"votesUp":    idea.VotesUp,
		"votesDown":  idea.VotesDown,
		"points":     idea.Score(),
		"topicId":    idea.TopicID,
	}
}

func voteJSON(result VoteResult) map[string]any {
	return map[string]any{
		"message":   result.Message,
		"votesUp":   result.VotesUp,
		"votesDown": result.VotesDown,
		"points":    result.Points,
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, origin string) {
	if origin == "" {
		origin = "*"
	}
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-User, X-User-ID, X-Request-ID")
}

func randomRequestID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
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
