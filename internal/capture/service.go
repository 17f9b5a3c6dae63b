package capture

import (
	"time"

	"github.com/aevon-lab/aevon-capture/internal/metrics"
	"github.com/aevon-lab/aevon-capture/internal/routing"
	"github.com/gin-gonic/gin"
)

// Endpoints served by the capture handler, with and without a trailing slash.
var capturePaths = []string{"/e", "/track", "/capture", "/batch", "/engage", "/s"}

type Service struct {
	tenants      *TenantResolver
	preprocessor Preprocessor
	enricher     *Enricher
	router       routing.DeliveryRouter
	metrics      *metrics.Recorder

	maxBodyBytes   int64
	identifyMarker string
	siteURL        string
	now            func() time.Time
}

// Options tunes request handling. Zero values select the defaults.
type Options struct {
	MaxBodySizeMB  int
	IdentifyMarker string
	// SiteURL overrides the scheme://host derived from each request.
	SiteURL string
}

// NewService wires the pipeline. preprocessor may be nil.
func NewService(tenants *TenantResolver, preprocessor Preprocessor, enricher *Enricher, router routing.DeliveryRouter, rec *metrics.Recorder, opts Options) *Service {
	if tenants == nil {
		panic("capture: tenant resolver must not be nil")
	}
	if enricher == nil {
		panic("capture: enricher must not be nil")
	}
	if router == nil {
		panic("capture: delivery router must not be nil")
	}
	if rec == nil {
		rec = metrics.Nop()
	}
	if opts.MaxBodySizeMB <= 0 {
		opts.MaxBodySizeMB = 20 // session recordings are large
	}
	if opts.IdentifyMarker == "" {
		opts.IdentifyMarker = DefaultIdentifyMarker
	}
	return &Service{
		tenants:        tenants,
		preprocessor:   preprocessor,
		enricher:       enricher,
		router:         router,
		metrics:        rec,
		maxBodyBytes:   int64(opts.MaxBodySizeMB) * 1024 * 1024,
		identifyMarker: opts.IdentifyMarker,
		siteURL:        opts.SiteURL,
		now:            time.Now,
	}
}

// RegisterRoutes registers the capture endpoints for GET and POST.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	for _, p := range capturePaths {
		for _, path := range []string{p, p + "/"} {
			r.GET(path, s.CaptureHandler)
			r.POST(path, s.CaptureHandler)
		}
	}
}
