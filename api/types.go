package api

// SweepRequest starts a host sweep over the given targets. Concurrency
// and timeout of zero use the server's configured defaults.
type SweepRequest struct {
	Targets     []string `json:"targets" binding:"required,min=1"`
	Concurrency int      `json:"concurrency"`
	TimeoutMS   int      `json:"timeout_ms"`
}

// SweepAcceptedResponse acknowledges a sweep with the generation that
// identifies it. Poll GET /sweeps/current to observe progress.
type SweepAcceptedResponse struct {
	Generation uint64 `json:"generation"`
}

// PortScanRequest asks for the open-port set of one host. Zero ports use
// the configured range, zero TTL the configured cache TTL.
type PortScanRequest struct {
	StartPort  int `json:"start_port"`
	EndPort    int `json:"end_port"`
	TTLSeconds int `json:"ttl_seconds"`
}

// RateRequest reconfigures the shared probe rate limiter.
type RateRequest struct {
	Rate  float64 `json:"rate"`
	Burst float64 `json:"burst"`
}

// CacheAgeResponse reports the age of a cached port result.
type CacheAgeResponse struct {
	Host       string  `json:"host"`
	AgeSeconds float64 `json:"age_seconds"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
