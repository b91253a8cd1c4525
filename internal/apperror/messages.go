package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	CodeInvalidInput:    "Invalid input provided",
	CodeInvalidState:    "Invalid state for this operation",
	CodeNotFound:        "Resource not found",
	CodeValidationError: "Validation error",

	CodeExternalServiceError: "External service error",
	CodeServiceTimeout:       "Service request timeout",
	CodeRateLimitExceeded:    "Rate limit exceeded",

	CodeInternalError: "Internal error",
	CodeUnknownError:  "An unknown error occurred",

	CodeConfigurationInvalid: "Configuration is invalid",
	CodeStaleSnapshot:        "Market snapshot superseded by a newer one",
	CodeSimulationDivergence: "Simulated profit diverges from the estimate beyond tolerance",
	CodeSimulationReverted:   "Bundle simulation reverted",
	CodeSimulationTimeout:    "Bundle simulation timed out",
	CodeBundleInvalid:        "Bundle violates ordering invariants",
	CodeSigningFailed:        "Transaction signing failed",
	CodeRelayTimeout:         "Relay did not respond in time",
	CodeRelayRejected:        "Relay rejected the bundle",
	CodeRelayUnavailable:     "Relay unavailable after retries",
	CodeRelayMalformed:       "Relay returned a malformed response",
	CodeBundleExpired:        "Bundle expired without inclusion",
	CodeResubmitDenied:       "Resubmission not permitted",
	CodeBreakerTripped:       "Risk breaker is tripped",
	CodeStrategyDisabled:     "Strategy is disabled",
	CodeStrategySkipped:      "Market conditions skip this strategy",
	CodeUnprofitable:         "Opportunity is not profitable",

	CodeEthereumConnectionFailed: "Failed to connect to Ethereum node",
	CodeEthereumSubscribeFailed:  "Failed to subscribe to Ethereum events",
	CodeEthereumRPCError:         "Ethereum RPC call failed",
	CodeBlockNotFound:            "Block not found",
	CodeGasEstimationFailed:      "Gas estimation failed",
	CodeContractCallFailed:       "Smart contract call failed",
	CodeMalformedPool:            "Pool state is malformed",
	CodeStalePool:                "Pool state is older than the allowed age",
	CodeInsufficientLiquidity:    "Insufficient liquidity for trade size",
	CodeTickWindowExceeded:       "Swap leaves the allowed tick window",

	CodeWebSocketConnectionError: "WebSocket connection error",
	CodeWebSocketClosed:          "WebSocket connection closed",
	CodeWebSocketSendError:       "Failed to send WebSocket message",

	CodeArchiveWriteFailed: "Failed to archive submission record",

	CodeCircuitOpen:     "Circuit breaker is open",
	CodeCircuitHalfOpen: "Circuit breaker is half-open",
}
