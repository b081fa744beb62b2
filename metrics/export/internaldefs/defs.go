package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// CounterDef names one authcore counter for exporters.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one authcore latency histogram for exporters.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Tokens issued by Login."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Login calls that did not issue a token."},
	{ID: authcore.MetricAuthenticateSuccess, Name: "authcore_authenticate_success_total", Help: "Requests resolved to a principal."},
	{ID: authcore.MetricAuthenticateNotAuthenticated, Name: "authcore_authenticate_not_authenticated_total", Help: "Requests without a credential."},
	{ID: authcore.MetricAuthenticateFailure, Name: "authcore_authenticate_failure_total", Help: "Requests whose credential did not resolve."},
	{ID: authcore.MetricTokenExpired, Name: "authcore_token_expired_total", Help: "Rejected expired tokens."},
	{ID: authcore.MetricTokenInvalid, Name: "authcore_token_invalid_total", Help: "Rejected malformed or forged tokens."},
	{ID: authcore.MetricSessionMiss, Name: "authcore_session_miss_total", Help: "Stateful requests without a live session."},
	{ID: authcore.MetricCacheUnavailable, Name: "authcore_cache_unavailable_total", Help: "Session backend failures."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful token refreshes."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Sessions saved at login."},
	{ID: authcore.MetricSessionUpdated, Name: "authcore_session_updated_total", Help: "Session updates."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Logout calls."},
	{ID: authcore.MetricPrincipalInvalidated, Name: "authcore_principal_invalidated_total", Help: "InvalidatePrincipal calls."},
	{ID: authcore.MetricFieldSealed, Name: "authcore_field_sealed_total", Help: "Field values sealed."},
	{ID: authcore.MetricFieldOpened, Name: "authcore_field_opened_total", Help: "Field values opened."},
	{ID: authcore.MetricFieldFallbackRawCBC, Name: "authcore_field_fallback_raw_cbc_total", Help: "Untagged values opened as raw CBC ciphertext."},
	{ID: authcore.MetricFieldFallbackLegacyECB, Name: "authcore_field_fallback_legacy_ecb_total", Help: "Untagged values opened with the legacy ECB key."},
	{ID: authcore.MetricFieldFallbackPlaintext, Name: "authcore_field_fallback_plaintext_total", Help: "Untagged values returned as plaintext."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricAuthenticateLatency, Name: "authcore_authenticate_latency_seconds", Help: "Authenticate latency."},
}

// AuditDroppedName is the counter for events dropped by the audit dispatcher.
const AuditDroppedName = "authcore_audit_dropped_total"

// HistogramUpperBounds are the finite bucket bounds in seconds. The eighth
// bucket is +Inf.
var HistogramUpperBounds = []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1}

// HistogramBoundLabels renders every bound, +Inf included, as an le label.
var HistogramBoundLabels = []string{"0.001", "0.002", "0.005", "0.01", "0.025", "0.05", "0.1", "+Inf"}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
