// Package guard runs the checks every public form endpoint shares, in a
// fixed order: honeypot, anti-forgery token, rate limit, body validation.
// The first failing step writes the response and stops the pipeline.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/fjordcrew/crewfront/internal/crypto"
	"github.com/fjordcrew/crewfront/internal/forms"
	jsonwriter "github.com/fjordcrew/crewfront/internal/json"
	"github.com/fjordcrew/crewfront/internal/log"
	"github.com/fjordcrew/crewfront/internal/metrics"
	"github.com/fjordcrew/crewfront/internal/ratelimit"
)

// CSRFHeader carries the anti-forgery token on form submissions.
const CSRFHeader = "X-CSRF-Token"

// MaxJSONBody caps JSON form bodies.
const MaxJSONBody = 64 << 10

// Outcome labels for metrics.
const (
	OutcomePassed      = "passed"
	OutcomeHoneypot    = "honeypot"
	OutcomeCSRF        = "csrf"
	OutcomeRateLimited = "rate_limited"
	OutcomeUnavailable = "unavailable"
	OutcomeInvalid     = "invalid"
	OutcomeRejected    = "rejected"
	OutcomeError       = "error"
	OutcomeCreated     = "created"
)

// Endpoint describes one guarded form endpoint.
type Endpoint struct {
	// Name labels logs and metrics, e.g. "contact".
	Name string
	Rule ratelimit.Rule
	// SuccessMessage accompanies the 201 response, real or fabricated.
	SuccessMessage string
	// Identity returns the rate limit identity. Defaults to the client IP.
	Identity func(*http.Request) string
}

// Created is the data of every 201 form response.
type Created struct {
	ID string `json:"id"`
}

// Guard holds the collaborators of the pipeline.
type Guard struct {
	csrf    *crypto.CSRFProtection
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
}

// New creates a guard. m may be nil.
func New(csrf *crypto.CSRFProtection, limiter *ratelimit.Limiter, m *metrics.Metrics) *Guard {
	return &Guard{csrf: csrf, limiter: limiter, metrics: m}
}

// Honeypot answers a tripped honeypot with a fabricated success identical
// in shape to a real one. It returns false when the request must stop.
func (g *Guard) Honeypot(w http.ResponseWriter, r *http.Request, ep Endpoint, tripped bool) bool {
	if !tripped {
		return true
	}
	log.LogInfoWithFields("guard", "Honeypot field filled, discarding submission", map[string]any{
		"endpoint": ep.Name,
		"ip":       ratelimit.ClientIP(r),
	})
	g.metrics.GuardOutcome(ep.Name, OutcomeHoneypot)
	WriteCreated(w, uuid.NewString(), ep.SuccessMessage)
	return false
}

// CSRF verifies the anti-forgery header.
func (g *Guard) CSRF(w http.ResponseWriter, r *http.Request, ep Endpoint) bool {
	if g.csrf.Validate(r.Header.Get(CSRFHeader)) {
		return true
	}
	log.LogWarnWithFields("guard", "Rejected request with invalid CSRF token", map[string]any{
		"endpoint": ep.Name,
		"ip":       ratelimit.ClientIP(r),
	})
	g.metrics.GuardOutcome(ep.Name, OutcomeCSRF)
	jsonwriter.WriteForbidden(w, jsonwriter.MsgInvalidCSRF)
	return false
}

// RateLimit counts the request against the endpoint's rule. Rejections get
// 429 with Retry-After; a store failure under a fail-closed rule gets 503.
func (g *Guard) RateLimit(w http.ResponseWriter, r *http.Request, ep Endpoint) bool {
	identity := ratelimit.ClientIP(r)
	if ep.Identity != nil {
		identity = ep.Identity(r)
	}

	res, err := g.limiter.Apply(r.Context(), ep.Rule, identity)
	if err != nil {
		log.LogErrorWithFields("guard", "Rate limit store unavailable", map[string]any{
			"endpoint": ep.Name,
			"policy":   ep.Rule.Policy.String(),
			"error":    err,
		})
	}
	if res.Allowed {
		if !res.Degraded {
			res.WriteHeaders(w, g.limiter.Now())
		}
		return true
	}
	if res.Degraded {
		g.metrics.GuardOutcome(ep.Name, OutcomeUnavailable)
		jsonwriter.WriteServiceUnavailable(w, jsonwriter.MsgUnavailable)
		return false
	}

	log.LogInfoWithFields("guard", "Rate limit exceeded", map[string]any{
		"endpoint": ep.Name,
		"identity": identity,
		"limit":    res.Limit,
	})
	g.metrics.GuardOutcome(ep.Name, OutcomeRateLimited)
	res.WriteHeaders(w, g.limiter.Now())
	jsonwriter.WriteTooManyRequests(w)
	return false
}

// Validate checks the decoded body and answers 400 with the first
// localized error.
func (g *Guard) Validate(w http.ResponseWriter, ep Endpoint, form any) bool {
	err := forms.Validate(form)
	if err == nil {
		return true
	}
	g.metrics.GuardOutcome(ep.Name, OutcomeInvalid)

	var fe *forms.FieldError
	if errors.As(err, &fe) {
		log.LogDebugWithFields("guard", "Form validation failed", map[string]any{
			"endpoint": ep.Name,
			"field":    fe.Field,
		})
		jsonwriter.WriteBadRequest(w, fe.Message)
		return false
	}
	log.LogErrorWithFields("guard", "Validator misuse", map[string]any{
		"endpoint": ep.Name,
		"error":    err,
	})
	jsonwriter.WriteInternalServerError(w)
	return false
}

// Form is a pointer to a form struct.
type Form[T any] interface {
	*T
	forms.Submission
}

// HandlerFunc handles a request that passed the pipeline. It returns the
// id of the created record, or an error; a *RejectError becomes a client
// error response and anything else a 500.
type HandlerFunc[T any, PT Form[T]] func(ctx context.Context, r *http.Request, form PT) (string, error)

// JSON wraps handle with the full pipeline for a JSON body of type T.
func JSON[T any, PT Form[T]](g *Guard, ep Endpoint, handle HandlerFunc[T, PT]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form := PT(new(T))
		decodeErr := decodeJSON(w, r, form)

		if decodeErr == nil && !g.Honeypot(w, r, ep, form.Tripped()) {
			return
		}
		if !g.CSRF(w, r, ep) {
			return
		}
		if !g.RateLimit(w, r, ep) {
			return
		}
		if decodeErr != nil {
			g.metrics.GuardOutcome(ep.Name, OutcomeInvalid)
			writeDecodeError(w, decodeErr)
			return
		}
		form.Normalize()
		if !g.Validate(w, ep, form) {
			return
		}
		g.metrics.GuardOutcome(ep.Name, OutcomePassed)

		id, err := handle(r.Context(), r, form)
		g.Finish(w, ep, id, err)
	}
}

// Finish writes the handler's result.
func (g *Guard) Finish(w http.ResponseWriter, ep Endpoint, id string, err error) {
	var reject *RejectError
	switch {
	case err == nil:
		g.metrics.GuardOutcome(ep.Name, OutcomeCreated)
		WriteCreated(w, id, ep.SuccessMessage)
	case errors.As(err, &reject):
		g.metrics.GuardOutcome(ep.Name, OutcomeRejected)
		jsonwriter.WriteError(w, reject.Status, reject.Message, nil)
	default:
		log.LogErrorWithFields("guard", "Form handler failed", map[string]any{
			"endpoint": ep.Name,
			"error":    err,
		})
		g.metrics.GuardOutcome(ep.Name, OutcomeError)
		jsonwriter.WriteInternalServerError(w)
	}
}

// WriteCreated writes the 201 envelope shared by real and fabricated
// successes.
func WriteCreated(w http.ResponseWriter, id, message string) {
	jsonwriter.WriteCreated(w, Created{ID: id}, message)
}

var errBodyTooLarge = errors.New("request body too large")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, MaxJSONBody)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errBodyTooLarge
		}
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		jsonwriter.WriteError(w, http.StatusRequestEntityTooLarge, jsonwriter.MsgTooLarge, nil)
		return
	}
	jsonwriter.WriteBadRequest(w, jsonwriter.MsgBadRequest)
}
