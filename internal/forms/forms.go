// Package forms defines the request bodies accepted by the public form
// endpoints and their validation rules.
package forms

import (
	"strings"

	"github.com/fjordcrew/crewfront/internal/emailutil"
)

// User-facing messages for the form endpoints.
const (
	MsgContactReceived      = "Takk for din henvendelse! Vi tar kontakt så snart som mulig."
	MsgStaffingReceived     = "Takk for forespørselen! En av våre rådgivere tar kontakt innen én virkedag."
	MsgApplicationReceived  = "Takk for søknaden! Vi tar kontakt så snart som mulig."
	MsgDocumentReceived     = "Dokumentet er lastet opp."
	MsgDuplicateApplication = "Du har allerede sendt inn en søknad på denne stillingen. Vi tar kontakt så snart som mulig."
	MsgCampaignNotFound     = "Fant ikke kampanjen."
	MsgCampaignClosed       = "Denne kampanjen er avsluttet og tar ikke lenger imot søknader."
	MsgUnknownPosition      = "Stillingen finnes ikke i denne kampanjen."
)

// Submission is implemented by every form body.
type Submission interface {
	// Tripped reports whether the hidden honeypot field was filled in.
	Tripped() bool
	// Normalize trims free text and normalizes the email address.
	Normalize()
}

// Honeypot is the hidden field humans never see. It is embedded in every
// form body.
type Honeypot struct {
	Website string `json:"website"`
}

// Tripped reports whether the field was filled in.
func (h Honeypot) Tripped() bool {
	return strings.TrimSpace(h.Website) != ""
}

// Contact is the body of POST /api/contact.
type Contact struct {
	Honeypot
	Name    string `json:"name" validate:"required,max=100" label:"Navn"`
	Email   string `json:"email" validate:"required,email,max=254" label:"E-post"`
	Phone   string `json:"phone" validate:"omitempty,phone" label:"Telefon"`
	Company string `json:"company" validate:"max=200" label:"Firma"`
	Subject string `json:"subject" validate:"max=200" label:"Emne"`
	Message string `json:"message" validate:"required,min=10,max=5000" label:"Melding"`
}

func (c *Contact) Normalize() {
	trim(&c.Name, &c.Phone, &c.Company, &c.Subject, &c.Message)
	c.Email = emailutil.Normalize(c.Email)
}

// StaffingRequest is the body of POST /api/staffing-requests.
type StaffingRequest struct {
	Honeypot
	CompanyName   string   `json:"companyName" validate:"required,max=200" label:"Firmanavn"`
	ContactName   string   `json:"contactName" validate:"required,max=100" label:"Kontaktperson"`
	Email         string   `json:"email" validate:"required,email,max=254" label:"E-post"`
	Phone         string   `json:"phone" validate:"required,phone" label:"Telefon"`
	VesselType    string   `json:"vesselType" validate:"max=100" label:"Fartøystype"`
	Positions     []string `json:"positions" validate:"required,min=1,max=20,dive,required,max=100" label:"Stillinger"`
	CrewCount     int      `json:"crewCount" validate:"required,min=1,max=500" label:"Antall mannskap"`
	StartDate     string   `json:"startDate" validate:"omitempty,datetime=2006-01-02" label:"Oppstartsdato"`
	DurationWeeks *int     `json:"durationWeeks" validate:"omitempty,min=1,max=104" label:"Varighet (uker)"`
	Message       string   `json:"message" validate:"max=5000" label:"Melding"`
}

func (s *StaffingRequest) Normalize() {
	trim(&s.CompanyName, &s.ContactName, &s.Phone, &s.VesselType, &s.StartDate, &s.Message)
	s.Email = emailutil.Normalize(s.Email)
	for i := range s.Positions {
		s.Positions[i] = strings.TrimSpace(s.Positions[i])
	}
}

// CampaignApplication is the body of
// POST /api/campaigns/{campaignID}/applications.
type CampaignApplication struct {
	Honeypot
	Name            string   `json:"name" validate:"required,max=100" label:"Navn"`
	Email           string   `json:"email" validate:"required,email,max=254" label:"E-post"`
	Phone           string   `json:"phone" validate:"required,phone" label:"Telefon"`
	Position        string   `json:"position" validate:"required,max=100" label:"Stilling"`
	ExperienceYears *int     `json:"experienceYears" validate:"omitempty,min=0,max=60" label:"Års erfaring"`
	Certificates    []string `json:"certificates" validate:"max=30,dive,required,max=100" label:"Sertifikater"`
	Nationality     string   `json:"nationality" validate:"max=100" label:"Nasjonalitet"`
	Message         string   `json:"message" validate:"max=5000" label:"Melding"`
	Consent         bool     `json:"consent" validate:"accepted" label:"Samtykke"`
}

func (a *CampaignApplication) Normalize() {
	trim(&a.Name, &a.Phone, &a.Position, &a.Nationality, &a.Message)
	a.Email = emailutil.Normalize(a.Email)
	for i := range a.Certificates {
		a.Certificates[i] = strings.TrimSpace(a.Certificates[i])
	}
}

// Document kinds accepted by POST /api/documents.
const (
	DocumentCV          = "cv"
	DocumentCertificate = "certificate"
	DocumentOther       = "other"
)

// Upload holds the non-file fields of POST /api/documents.
type Upload struct {
	Honeypot
	Kind string `json:"kind" validate:"required,oneof=cv certificate other" label:"Dokumenttype"`
}

func (u *Upload) Normalize() {
	u.Kind = strings.ToLower(strings.TrimSpace(u.Kind))
}

func trim(fields ...*string) {
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
}
