package apperror

import "strings"

// Class groups codes by how the pipeline reacts to them.
type Class uint8

const (
	// ClassAborted stops work on a single opportunity; the pass continues.
	ClassAborted Class = iota
	// ClassTransient may succeed on retry.
	ClassTransient
	// ClassPolicy is a gating decision, recorded but not treated as failure.
	ClassPolicy
	// ClassFatal stops startup.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPolicy:
		return "policy"
	case ClassFatal:
		return "fatal"
	default:
		return "aborted"
	}
}

// ClassOf returns the default class for code.
func ClassOf(code Code) Class {
	switch code {
	case CodeConfigurationInvalid:
		return ClassFatal
	case CodeBreakerTripped, CodeStrategyDisabled, CodeStrategySkipped, CodeUnprofitable:
		return ClassPolicy
	case CodeRelayTimeout, CodeRelayUnavailable, CodeRelayMalformed, CodeRateLimitExceeded,
		CodeCircuitOpen, CodeCircuitHalfOpen, CodeSimulationTimeout:
		return ClassTransient
	}

	s := string(code)
	switch {
	case strings.Contains(s, "CONNECTION"), strings.Contains(s, "TIMEOUT"),
		strings.HasPrefix(s, "EXTERNAL"), strings.HasPrefix(s, "WEBSOCKET"):
		return ClassTransient
	default:
		return ClassAborted
	}
}
