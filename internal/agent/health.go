package agent

import (
	"sync/atomic"
	"time"
)

type HealthStatus struct {
	vendorLoggedIn      atomic.Bool
	nightscoutReachable atomic.Bool
	lastReadingAt       atomic.Int64
	lastUploadAt        atomic.Int64
	lastError           atomic.Value
}

func NewHealthStatus() *HealthStatus {
	h := &HealthStatus{}
	h.vendorLoggedIn.Store(false)
	h.nightscoutReachable.Store(false)
	h.lastError.Store("")
	return h
}

func (h *HealthStatus) SetVendorLoggedIn(ok bool) {
	h.vendorLoggedIn.Store(ok)
}

func (h *HealthStatus) SetNightscoutReachable(ok bool) {
	h.nightscoutReachable.Store(ok)
}

func (h *HealthStatus) MarkReading(ts time.Time) {
	h.lastReadingAt.Store(ts.UnixNano())
}

func (h *HealthStatus) MarkUpload(ts time.Time) {
	h.lastUploadAt.Store(ts.UnixNano())
}

func (h *HealthStatus) SetLastError(err error) {
	if err == nil {
		h.lastError.Store("")
		return
	}
	h.lastError.Store(err.Error())
}

// Healthy reports whether the last contact with both services succeeded.
func (h *HealthStatus) Healthy() bool {
	return h.vendorLoggedIn.Load() && h.nightscoutReachable.Load()
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"vendor_logged_in":     h.vendorLoggedIn.Load(),
		"nightscout_reachable": h.nightscoutReachable.Load(),
		"healthy":              h.Healthy(),
	}
	if v := h.lastReadingAt.Load(); v > 0 {
		out["last_reading_at"] = time.Unix(0, v).UTC()
	}
	if v := h.lastUploadAt.Load(); v > 0 {
		out["last_upload_at"] = time.Unix(0, v).UTC()
	}
	if v, _ := h.lastError.Load().(string); v != "" {
		out["last_error"] = v
	}
	return out
}
