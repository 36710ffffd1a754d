package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fjordcrew/crewfront/internal/config"
	"github.com/fjordcrew/crewfront/internal/crypto"
	"github.com/fjordcrew/crewfront/internal/forms"
	"github.com/fjordcrew/crewfront/internal/guard"
	jsonwriter "github.com/fjordcrew/crewfront/internal/json"
	"github.com/fjordcrew/crewfront/internal/log"
	"github.com/fjordcrew/crewfront/internal/metrics"
	"github.com/fjordcrew/crewfront/internal/notify"
	"github.com/fjordcrew/crewfront/internal/ratelimit"
	"github.com/fjordcrew/crewfront/internal/storage"
)

// DuplicateWindow is how long a second application for the same campaign
// position from the same email is refused.
const DuplicateWindow = 24 * time.Hour

// Notification kinds, also used as submission metric labels.
const (
	KindContact     = "contact"
	KindStaffing    = "staffing_request"
	KindApplication = "campaign_application"
	KindDocument    = "document"
)

// FormHandlers persists the public form submissions.
type FormHandlers struct {
	guard      *guard.Guard
	csrf       *crypto.CSRFProtection
	rules      map[string]ratelimit.Rule
	storage    storage.Storage
	dispatcher *notify.Dispatcher
	email      config.EmailConfig
	campaigns  func(id string) *config.CampaignConfig
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewFormHandlers creates the form handlers.
func NewFormHandlers(
	g *guard.Guard,
	csrf *crypto.CSRFProtection,
	rules map[string]ratelimit.Rule,
	store storage.Storage,
	dispatcher *notify.Dispatcher,
	cfg *config.Config,
	m *metrics.Metrics,
) *FormHandlers {
	return &FormHandlers{
		guard:      g,
		csrf:       csrf,
		rules:      rules,
		storage:    store,
		dispatcher: dispatcher,
		email:      cfg.Email,
		campaigns:  cfg.Campaign,
		metrics:    m,
		now:        time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (h *FormHandlers) WithClock(now func() time.Time) *FormHandlers {
	h.now = now
	return h
}

// CSRFTokenHandler handles GET /api/csrf-token
func (h *FormHandlers) CSRFTokenHandler(w http.ResponseWriter, r *http.Request) {
	ep := guard.Endpoint{Name: ScopeCSRFToken, Rule: h.rules[ScopeCSRFToken]}
	if !h.guard.RateLimit(w, r, ep) {
		return
	}

	token, err := h.csrf.Generate()
	if err != nil {
		log.LogErrorWithFields("forms", "Failed to generate CSRF token", map[string]any{
			"error": err,
		})
		jsonwriter.WriteInternalServerError(w)
		return
	}
	jsonwriter.WriteOK(w, map[string]string{"token": token})
}

// ContactHandler handles POST /api/contact
func (h *FormHandlers) ContactHandler() http.HandlerFunc {
	ep := guard.Endpoint{
		Name:           ScopeContact,
		Rule:           h.rules[ScopeContact],
		SuccessMessage: forms.MsgContactReceived,
	}
	return guard.JSON[forms.Contact](h.guard, ep, h.createContact)
}

func (h *FormHandlers) createContact(ctx context.Context, _ *http.Request, f *forms.Contact) (string, error) {
	msg := &storage.ContactMessage{
		Name:    f.Name,
		Email:   f.Email,
		Phone:   f.Phone,
		Company: f.Company,
		Subject: f.Subject,
		Message: f.Message,
	}
	if err := h.storage.CreateContact(ctx, msg); err != nil {
		return "", fmt.Errorf("storing contact message: %w", err)
	}
	h.metrics.Submission(KindContact)

	subject := "Ny henvendelse fra " + f.Name
	if f.Subject != "" {
		subject += ": " + f.Subject
	}
	h.notify(KindContact, subject, lines(
		"Navn", f.Name,
		"E-post", f.Email,
		"Telefon", f.Phone,
		"Firma", f.Company,
		"Emne", f.Subject,
		"Melding", f.Message,
		"Referanse", msg.ID,
	))
	return msg.ID, nil
}

// StaffingRequestHandler handles POST /api/staffing-requests
func (h *FormHandlers) StaffingRequestHandler() http.HandlerFunc {
	ep := guard.Endpoint{
		Name:           ScopeStaffingRequest,
		Rule:           h.rules[ScopeStaffingRequest],
		SuccessMessage: forms.MsgStaffingReceived,
	}
	return guard.JSON[forms.StaffingRequest](h.guard, ep, h.createStaffingRequest)
}

func (h *FormHandlers) createStaffingRequest(ctx context.Context, _ *http.Request, f *forms.StaffingRequest) (string, error) {
	req := &storage.StaffingRequest{
		CompanyName:   f.CompanyName,
		ContactName:   f.ContactName,
		Email:         f.Email,
		Phone:         f.Phone,
		VesselType:    f.VesselType,
		Positions:     f.Positions,
		CrewCount:     f.CrewCount,
		StartDate:     f.StartDate,
		DurationWeeks: f.DurationWeeks,
		Message:       f.Message,
	}
	if err := h.storage.CreateStaffingRequest(ctx, req); err != nil {
		return "", fmt.Errorf("storing staffing request: %w", err)
	}
	h.metrics.Submission(KindStaffing)

	duration := ""
	if f.DurationWeeks != nil {
		duration = fmt.Sprintf("%d uker", *f.DurationWeeks)
	}
	h.notify(KindStaffing, fmt.Sprintf("Bemanningsforespørsel fra %s (%d personer)", f.CompanyName, f.CrewCount), lines(
		"Firma", f.CompanyName,
		"Kontaktperson", f.ContactName,
		"E-post", f.Email,
		"Telefon", f.Phone,
		"Fartøystype", f.VesselType,
		"Stillinger", strings.Join(f.Positions, ", "),
		"Antall", fmt.Sprint(f.CrewCount),
		"Oppstart", f.StartDate,
		"Varighet", duration,
		"Melding", f.Message,
		"Referanse", req.ID,
	))
	return req.ID, nil
}

// CampaignApplicationHandler handles
// POST /api/campaigns/{campaignID}/applications
func (h *FormHandlers) CampaignApplicationHandler() http.HandlerFunc {
	ep := guard.Endpoint{
		Name:           ScopeCampaignApplication,
		Rule:           h.rules[ScopeCampaignApplication],
		SuccessMessage: forms.MsgApplicationReceived,
	}
	return guard.JSON[forms.CampaignApplication](h.guard, ep, h.createApplication)
}

func (h *FormHandlers) createApplication(ctx context.Context, r *http.Request, f *forms.CampaignApplication) (string, error) {
	campaign := h.campaigns(r.PathValue("campaignID"))
	if campaign == nil {
		return "", guard.Reject(http.StatusNotFound, forms.MsgCampaignNotFound)
	}
	now := h.now()
	if !campaign.Open(now) {
		return "", guard.Reject(http.StatusGone, forms.MsgCampaignClosed)
	}
	if !campaign.HasPosition(f.Position) {
		return "", guard.BadRequest(forms.MsgUnknownPosition)
	}

	duplicate, err := h.storage.HasRecentApplication(ctx, f.Email, campaign.ID, f.Position, now.Add(-DuplicateWindow))
	if err != nil {
		return "", fmt.Errorf("checking for duplicate application: %w", err)
	}
	if duplicate {
		log.LogInfoWithFields("forms", "Duplicate campaign application", map[string]any{
			"campaign": campaign.ID,
			"position": f.Position,
		})
		return "", guard.BadRequest(forms.MsgDuplicateApplication)
	}

	app := &storage.CampaignApplication{
		CampaignID:      campaign.ID,
		Name:            f.Name,
		Email:           f.Email,
		Phone:           f.Phone,
		Position:        f.Position,
		ExperienceYears: f.ExperienceYears,
		Certificates:    f.Certificates,
		Nationality:     f.Nationality,
		Message:         f.Message,
		Consent:         f.Consent,
	}
	if err := h.storage.CreateApplication(ctx, app); err != nil {
		return "", fmt.Errorf("storing campaign application: %w", err)
	}
	h.metrics.Submission(KindApplication)

	experience := ""
	if f.ExperienceYears != nil {
		experience = fmt.Sprintf("%d år", *f.ExperienceYears)
	}
	h.notify(KindApplication, fmt.Sprintf("Søknad på %s (%s) fra %s", f.Position, campaign.Title, f.Name), lines(
		"Kampanje", campaign.Title,
		"Stilling", f.Position,
		"Navn", f.Name,
		"E-post", f.Email,
		"Telefon", f.Phone,
		"Erfaring", experience,
		"Sertifikater", strings.Join(f.Certificates, ", "),
		"Nasjonalitet", f.Nationality,
		"Melding", f.Message,
		"Referanse", app.ID,
	))
	return app.ID, nil
}

// notify queues a staff notification. It never blocks the response.
func (h *FormHandlers) notify(kind, subject, text string) {
	if h.dispatcher == nil {
		return
	}
	h.dispatcher.Dispatch(notify.Message{
		Kind:    kind,
		From:    h.email.From,
		To:      h.email.NotifyTo,
		Subject: subject,
		Text:    text,
	})
}

// lines renders label/value pairs, one per line, skipping empty values.
func lines(pairs ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		b.WriteString(pairs[i])
		b.WriteString(": ")
		b.WriteString(pairs[i+1])
		b.WriteByte('\n')
	}
	return b.String()
}
