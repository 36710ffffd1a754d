package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fjordcrew/crewfront/internal/guard"
	jsonwriter "github.com/fjordcrew/crewfront/internal/json"
	"github.com/fjordcrew/crewfront/internal/log"
	"github.com/fjordcrew/crewfront/internal/ratelimit"
	"github.com/fjordcrew/crewfront/internal/session"
	"github.com/fjordcrew/crewfront/internal/storage"
)

// GDPRHandlers serves a logged-in user's own data.
type GDPRHandlers struct {
	guard   *guard.Guard
	rule    ratelimit.Rule
	storage storage.Storage
	now     func() time.Time
}

// NewGDPRHandlers creates the export handler.
func NewGDPRHandlers(g *guard.Guard, rule ratelimit.Rule, store storage.Storage) *GDPRHandlers {
	return &GDPRHandlers{guard: g, rule: rule, storage: store, now: time.Now}
}

type exportDocument struct {
	ExportedAt time.Time          `json:"exportedAt"`
	Subject    string             `json:"subjectId"`
	Email      string             `json:"email"`
	Data       storage.UserExport `json:"data"`
}

// ExportHandler handles GET /api/gdpr/export. It runs behind the session
// middleware.
func (h *GDPRHandlers) ExportHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := session.FromContext(r.Context())
	if !ok {
		jsonwriter.WriteUnauthorized(w, jsonwriter.MsgUnauthorized)
		return
	}

	ep := guard.Endpoint{
		Name: ScopeGDPRExport,
		Rule: h.rule,
		Identity: func(*http.Request) string {
			return claims.SubjectID
		},
	}
	if !h.guard.RateLimit(w, r, ep) {
		return
	}

	export, err := h.storage.ExportUserData(r.Context(), claims.Email, claims.SubjectID)
	if err != nil {
		log.LogErrorWithFields("gdpr", "Failed to export user data", map[string]any{
			"subject": claims.SubjectID,
			"error":   err,
		})
		jsonwriter.WriteInternalServerError(w)
		return
	}

	now := h.now().UTC()
	body, err := json.MarshalIndent(exportDocument{
		ExportedAt: now,
		Subject:    claims.SubjectID,
		Email:      claims.Email,
		Data:       *export,
	}, "", "  ")
	if err != nil {
		log.LogErrorWithFields("gdpr", "Failed to encode export", map[string]any{
			"error": err,
		})
		jsonwriter.WriteInternalServerError(w)
		return
	}

	log.LogInfoWithFields("gdpr", "User data exported", map[string]any{
		"subject":      claims.SubjectID,
		"contacts":     len(export.ContactMessages),
		"staffing":     len(export.StaffingRequests),
		"applications": len(export.Applications),
		"documents":    len(export.Documents),
	})

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="mine-data-%s.json"`, now.Format("2006-01-02")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
