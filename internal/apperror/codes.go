package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeValidationError Code = "VALIDATION_ERROR"

	// External service errors
	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeServiceTimeout       Code = "SERVICE_TIMEOUT"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"

	// System errors
	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnknownError  Code = "UNKNOWN_ERROR"
)

// Pipeline error taxonomy
const (
	// Fatal, startup only.
	CodeConfigurationInvalid Code = "CONFIGURATION_INVALID"

	// Search results no longer valid; re-run with a fresh snapshot.
	CodeStaleSnapshot Code = "STALE_SNAPSHOT"

	// Bundle build failures abort one opportunity only.
	CodeSimulationDivergence Code = "SIMULATION_DIVERGENCE"
	CodeSimulationReverted   Code = "SIMULATION_REVERTED"
	CodeSimulationTimeout    Code = "SIMULATION_TIMEOUT"
	CodeBundleInvalid        Code = "BUNDLE_INVALID"
	CodeSigningFailed        Code = "SIGNING_FAILED"

	// Relay outcomes.
	CodeRelayTimeout     Code = "RELAY_TIMEOUT"
	CodeRelayRejected    Code = "RELAY_REJECTED"
	CodeRelayUnavailable Code = "RELAY_UNAVAILABLE"
	CodeRelayMalformed   Code = "RELAY_MALFORMED_RESPONSE"
	CodeBundleExpired    Code = "BUNDLE_EXPIRED"
	CodeResubmitDenied   Code = "RESUBMIT_DENIED"

	// Policy decisions, not failures.
	CodeBreakerTripped   Code = "BREAKER_TRIPPED"
	CodeStrategyDisabled Code = "STRATEGY_DISABLED"
	CodeStrategySkipped  Code = "STRATEGY_SKIPPED"
	CodeUnprofitable     Code = "UNPROFITABLE"
)

// Chain and market data errors
const (
	CodeEthereumConnectionFailed Code = "ETHEREUM_CONNECTION_FAILED"
	CodeEthereumSubscribeFailed  Code = "ETHEREUM_SUBSCRIBE_FAILED"
	CodeEthereumRPCError         Code = "ETHEREUM_RPC_ERROR"
	CodeBlockNotFound            Code = "BLOCK_NOT_FOUND"
	CodeGasEstimationFailed      Code = "GAS_ESTIMATION_FAILED"
	CodeContractCallFailed       Code = "CONTRACT_CALL_FAILED"
	CodeMalformedPool            Code = "MALFORMED_POOL"
	CodeStalePool                Code = "STALE_POOL"
	CodeInsufficientLiquidity    Code = "INSUFFICIENT_LIQUIDITY"
	CodeTickWindowExceeded       Code = "TICK_WINDOW_EXCEEDED"

	// WebSocket errors
	CodeWebSocketConnectionError Code = "WEBSOCKET_CONNECTION_ERROR"
	CodeWebSocketClosed          Code = "WEBSOCKET_CLOSED"
	CodeWebSocketSendError       Code = "WEBSOCKET_SEND_ERROR"

	// Archive errors
	CodeArchiveWriteFailed Code = "ARCHIVE_WRITE_FAILED"

	// Circuit breaker errors
	CodeCircuitOpen     Code = "CIRCUIT_OPEN"
	CodeCircuitHalfOpen Code = "CIRCUIT_HALF_OPEN"
)
