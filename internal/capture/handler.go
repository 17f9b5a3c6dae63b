package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aevon-lab/aevon-capture/internal/metrics"
	"github.com/gin-gonic/gin"
)

// CaptureHandler runs one request through the pipeline:
// decode, token, tenant, sent_at, expand, preprocess, then per event
// normalize, enrich and route.
//
// Events are routed one at a time in batch order. A failure on event k
// rejects the request but events before k stay delivered.
func (s *Service) CaptureHandler(c *gin.Context) {
	started := s.now()

	routed, err := s.capture(c, started)
	if err != nil {
		s.writeError(c, err, routed, started)
		return
	}

	s.metrics.ObserveRequest(metrics.OutcomeAccepted, started)
	writeSuccess(c)
}

// capture returns the number of events routed. started is stamped as every
// event's received_at.
func (s *Service) capture(c *gin.Context, started time.Time) (int, error) {
	ctx := c.Request.Context()

	req, err := DecodeRequest(c.Request, s.maxBodyBytes)
	if err != nil {
		return 0, err
	}

	token, err := ResolveToken(req)
	if err != nil {
		return 0, err
	}

	tenant, err := s.tenants.Resolve(ctx, req, token)
	if err != nil {
		return 0, err
	}

	sentAt, err := ResolveSentAt(req)
	if err != nil {
		return 0, err
	}

	events, err := ExpandBatch(req, s.identifyMarker)
	if err != nil {
		return 0, err
	}

	if s.preprocessor != nil {
		if events, err = s.preprocess(events); err != nil {
			return 0, err
		}
	}

	batch := BatchContext{
		Tenant:     tenant,
		ClientIP:   c.ClientIP(),
		SiteURL:    s.requestSiteURL(c.Request),
		ReceivedAt: started.UTC(),
		SentAt:     sentAt,
	}

	var route string
	for i, raw := range events {
		if route, err = s.captureEvent(ctx, raw, batch); err != nil {
			return i, err
		}
	}

	slog.Info("Batch captured",
		"team_id", tenant.ID,
		"events", len(events),
		"route", route,
		"path", req.Path)
	return len(events), nil
}

// captureEvent returns the kind of route the event was delivered on.
func (s *Service) captureEvent(ctx context.Context, raw map[string]interface{}, batch BatchContext) (string, error) {
	evt, err := NormalizeEvent(raw)
	if err != nil {
		return "", err
	}

	if err := s.enricher.Enrich(ctx, evt, batch); err != nil {
		return "", fmt.Errorf("enrich event: %w", err)
	}

	if err := evt.Validate(); err != nil {
		return "", newItemError(KindMalformedPayload, err.Error(), raw)
	}

	target, err := s.router.Route(ctx, evt, batch.Tenant)
	if err != nil {
		return "", err
	}

	slog.Debug("Event routed",
		"uuid", evt.UUID,
		"team_id", evt.TeamID,
		"event", evt.Name,
		"route", target.Kind)
	return string(target.Kind), nil
}

// preprocess maps transformer failures onto a session recording rejection.
func (s *Service) preprocess(events []map[string]interface{}) ([]map[string]interface{}, error) {
	out, err := s.preprocessor.Preprocess(events)
	if err == nil {
		return out, nil
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return nil, cerr
	}
	return nil, newError(KindSessionRecordingReject, err.Error())
}

// requestSiteURL is the configured site url, else scheme://host of r.
func (s *Service) requestSiteURL(r *http.Request) string {
	if s.siteURL != "" {
		return strings.TrimRight(s.siteURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return scheme + "://" + r.Host
}

func (s *Service) writeError(c *gin.Context, err error, routed int, started time.Time) {
	var cerr *Error
	if errors.As(err, &cerr) {
		slog.Warn("Capture request rejected",
			"reason", cerr.Kind,
			"error", cerr.Message,
			"path", c.Request.URL.Path,
			"routed_before_failure", routed)
		s.metrics.Reject(string(cerr.Kind))
		s.metrics.ObserveRequest(metrics.OutcomeRejected, started)
		writeValidationError(c, cerr)
		return
	}

	slog.Error("Capture request failed",
		"path", c.Request.URL.Path,
		"routed_before_failure", routed,
		"error", err)
	s.metrics.ObserveRequest(metrics.OutcomeFailed, started)
	writeServerError(c)
}
