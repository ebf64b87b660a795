// Package tracking serves open pixels and click redirects for sent emails.
package tracking

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/e-sathish/bulk-email-tool-sample0/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Recorder applies tracking events to recipient state. Unknown campaigns or
// recipients are not errors; implementations swallow them so the endpoints
// stay cheap to probe.
type Recorder interface {
	RecordOpen(ctx context.Context, campaignID, recipientID string) error
	RecordClick(ctx context.Context, campaignID, recipientID string) error
}

type Handler struct {
	recorder        Recorder
	defaultRedirect string
}

func NewHandler(rec Recorder, defaultRedirect string) *Handler {
	if defaultRedirect == "" {
		defaultRedirect = "/"
	}
	return &Handler{recorder: rec, defaultRedirect: defaultRedirect}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/track/open/{campaignID}/{recipientID}/pixel.gif", h.HandleOpen)
	r.Get("/track/click/{campaignID}/{recipientID}", h.HandleClick)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen records an open and serves the pixel. The pixel goes out no
// matter what happened on the write side; mail clients retry broken images
// and we never want that traffic.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	recipientID := chi.URLParam(r, "recipientID")

	if err := h.recorder.RecordOpen(r.Context(), campaignID, recipientID); err != nil {
		logger.Warn("record open failed",
			"campaign_id", campaignID,
			"recipient_id", recipientID,
			"error", err.Error())
	} else {
		logger.Debug("open tracked",
			"campaign_id", campaignID,
			"recipient_id", recipientID,
			"ip", realIP(r))
	}

	h.servePixel(w)
}

// HandleClick records a click and redirects. Missing or unsafe targets fall
// back to the configured default so the visitor always lands somewhere.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	recipientID := chi.URLParam(r, "recipientID")

	dest := sanitizeRedirect(r.URL.Query().Get("url"))
	if dest == "" {
		dest = h.defaultRedirect
	}

	if err := h.recorder.RecordClick(r.Context(), campaignID, recipientID); err != nil {
		logger.Warn("record click failed",
			"campaign_id", campaignID,
			"recipient_id", recipientID,
			"error", err.Error())
	} else {
		logger.Debug("click tracked",
			"campaign_id", campaignID,
			"recipient_id", recipientID,
			"url", dest,
			"ip", realIP(r))
	}

	http.Redirect(w, r, dest, http.StatusTemporaryRedirect)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

// sanitizeRedirect accepts only absolute http(s) URLs. Everything else,
// including javascript: and protocol-relative forms, is dropped.
func sanitizeRedirect(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return raw
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
