package crawler

import "errors"

// Error taxonomy. Only ErrSinkWrite is fatal to a run; everything else is
// absorbed by the visit and shows up as missing evidence plus a PageOutcome.
var (
	// ErrTransport covers timeouts, refused connections and DNS failures.
	ErrTransport = errors.New("transport failure")
	// ErrPolicyBlocked marks a path disallowed by the host's robots rules.
	ErrPolicyBlocked = errors.New("blocked by robots policy")
	// ErrRender marks a failed rendering fallback.
	ErrRender = errors.New("render failure")
	// ErrMalformedSignature marks a signature pattern that could not be loaded.
	ErrMalformedSignature = errors.New("malformed signature")
	// ErrSinkWrite marks a failed durable write.
	ErrSinkWrite = errors.New("sink write failure")
	// ErrHostBlocked marks a host skipped by configuration or cut off after repeated errors.
	ErrHostBlocked = errors.New("host blocked")
	// ErrChallenge marks a page that served a bot challenge instead of content.
	ErrChallenge = errors.New("bot challenge page")
	// ErrRendererDisabled is returned when rendering is requested but not configured.
	ErrRendererDisabled = errors.New("renderer disabled")
)
