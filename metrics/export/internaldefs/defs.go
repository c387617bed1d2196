package internaldefs

import (
	"github.com/MrEthical07/actorauth"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   actorauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   actorauth.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: actorauth.MetricRegisterSuccess, Name: "actorauth_register_success_total", Help: "Successful registrations."},
	{ID: actorauth.MetricRegisterFailure, Name: "actorauth_register_failure_total", Help: "Failed registrations."},
	{ID: actorauth.MetricRegisterDuplicate, Name: "actorauth_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: actorauth.MetricLoginSuccess, Name: "actorauth_login_success_total", Help: "Successful login attempts."},
	{ID: actorauth.MetricLoginFailure, Name: "actorauth_login_failure_total", Help: "Failed login attempts."},
	{ID: actorauth.MetricLoginRateLimited, Name: "actorauth_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: actorauth.MetricRefreshSuccess, Name: "actorauth_refresh_success_total", Help: "Successful refresh operations."},
	{ID: actorauth.MetricRefreshFailure, Name: "actorauth_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: actorauth.MetricRefreshReuseDetected, Name: "actorauth_refresh_reuse_detected_total", Help: "Rotated refresh tokens presented again."},
	{ID: actorauth.MetricRefreshRateLimited, Name: "actorauth_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: actorauth.MetricSessionCreated, Name: "actorauth_session_created_total", Help: "Created sessions."},
	{ID: actorauth.MetricSessionRevoked, Name: "actorauth_session_revoked_total", Help: "Revoked sessions."},
	{ID: actorauth.MetricRevokeAll, Name: "actorauth_revoke_all_total", Help: "Revoke-all operations."},
	{ID: actorauth.MetricAuthenticateFailure, Name: "actorauth_authenticate_failure_total", Help: "Rejected access tokens."},
}

var HistogramDefs = []HistogramDef{
	{ID: actorauth.MetricRefreshLatency, Name: "actorauth_refresh_latency_seconds", Help: "Refresh latency histogram."},
	{ID: actorauth.MetricAuthenticateLatency, Name: "actorauth_authenticate_latency_seconds", Help: "Authenticate latency histogram."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The eighth
// bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets pads or truncates raw to the eight engine buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
