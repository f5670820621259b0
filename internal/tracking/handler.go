package tracking

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/foxzi/clicktrail/internal/metrics"
	"github.com/foxzi/clicktrail/internal/repository"
	"github.com/foxzi/clicktrail/internal/signature"
	"github.com/go-chi/chi/v5"
)

// Response details. Decode, signature and marker failures share one body so
// a caller cannot tell which check failed.
const (
	detailMissing  = "Missing parameters."
	detailInvalid  = "Invalid link."
	detailUnsafe   = "Unsafe redirect target."
	detailNotFound = "Not found."
	detailInternal = "Internal error."
)

const confirmationPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Unsubscribed</title>
</head>
<body style="font-family:system-ui,-apple-system,sans-serif;max-width:480px;margin:80px auto;padding:0 16px;color:#111827;">
<h1 style="font-size:20px;">You&rsquo;re unsubscribed</h1>
<p style="color:#6b7280;">You won&rsquo;t receive further emails from this sender.</p>
</body>
</html>
`

// Handler exposes the public click and unsubscribe endpoints.
type Handler struct {
	service *Service
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHandler creates a tracking handler.
func NewHandler(service *Service, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		metrics: m,
		logger:  logger.With("component", "tracking_http"),
	}
}

// Mount registers the endpoints on r.
func (h *Handler) Mount(r chi.Router, clickPath, unsubscribePath string) {
	r.Get(clickPath, h.Click)
	r.Get(unsubscribePath, h.Unsubscribe)
}

// Click handles GET <click path>?r=&u=&s=
func (h *Handler) Click(w http.ResponseWriter, r *http.Request) {
	target, err := h.service.Click(r.Context(), requestFrom(r))
	if err != nil {
		h.fail(w, r, "click", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusFound)
}

// Unsubscribe handles GET <unsubscribe path>?r=&u=&s=
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Unsubscribe(r.Context(), requestFrom(r)); err != nil {
		h.fail(w, r, "unsubscribe", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(confirmationPage))
}

func requestFrom(r *http.Request) Request {
	q := r.URL.Query()
	return Request{
		RecipientID: q.Get("r"),
		Token:       q.Get("u"),
		Signature:   q.Get("s"),
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
	}
}

// clientIP returns the host part of RemoteAddr. chi's RealIP middleware
// rewrites RemoteAddr only when the server is configured to trust a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	h.metrics.IncTrackingRejected(endpoint, rejectReason(err))

	switch {
	case errors.Is(err, ErrMissingParams):
		sendDetail(w, http.StatusBadRequest, detailMissing)
	case errors.Is(err, signature.ErrInvalidToken),
		errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrInvalidMarker):
		h.logger.Debug("rejected tracking link", "endpoint", endpoint, "error", err)
		sendDetail(w, http.StatusBadRequest, detailInvalid)
	case errors.Is(err, ErrUnsafeTarget):
		sendDetail(w, http.StatusBadRequest, detailUnsafe)
	case errors.Is(err, repository.ErrRecipientNotFound):
		sendDetail(w, http.StatusNotFound, detailNotFound)
	default:
		h.logger.Error("tracking request failed",
			"endpoint", endpoint,
			"recipient_id", r.URL.Query().Get("r"),
			"error", err,
		)
		sendDetail(w, http.StatusInternalServerError, detailInternal)
	}
}

func sendDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
