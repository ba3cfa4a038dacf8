package apperror

// Code represents a unique error code for the application
type Code string

// Validation error codes. These are terminal: the request itself is wrong,
// so they are never retried and never counted against a circuit breaker.
const (
	CodeValidationError  Code = "VALIDATION_ERROR"
	CodeInvalidAddress   Code = "INVALID_ADDRESS"
	CodeInvalidTxHash    Code = "INVALID_TX_HASH"
	CodeInvalidAmount    Code = "INVALID_AMOUNT"
	CodeInvalidABI       Code = "INVALID_ABI"
	CodeUnsupportedChain Code = "UNSUPPORTED_CHAIN"
	CodeUnsupportedAsset Code = "UNSUPPORTED_ASSET"
)

// Transient error codes. Retried under the retry policy; exhaustion counts
// toward the circuit breaker failure tally.
const (
	CodeNetworkError      Code = "NETWORK_ERROR"
	CodeServiceTimeout    Code = "SERVICE_TIMEOUT"
	CodeRPCError          Code = "RPC_ERROR"
	CodeExplorerAPIError  Code = "EXPLORER_API_ERROR"
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
)

// Circuit breaker codes
const (
	CodeCircuitOpen Code = "CIRCUIT_OPEN"
)

// Domain error codes: non-retryable outcomes of an otherwise healthy call.
const (
	CodeTxNotFound            Code = "TX_NOT_FOUND"
	CodeConsensusMismatch     Code = "CONSENSUS_MISMATCH"
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeInsufficientAllowance Code = "INSUFFICIENT_ALLOWANCE"
	CodeSlippageExceeded      Code = "SLIPPAGE_EXCEEDED"
	CodeUnprofitableLoan      Code = "UNPROFITABLE_LOAN"
	CodeLoanTooLarge          Code = "LOAN_TOO_LARGE"
	CodeProviderUnavailable   Code = "PROVIDER_UNAVAILABLE"
	CodeBlacklistedAddress    Code = "BLACKLISTED_ADDRESS"
	CodeDailyLimitExceeded    Code = "DAILY_LIMIT_EXCEEDED"
	CodeWithdrawalTooSoon     Code = "WITHDRAWAL_TOO_SOON"
	CodeContractCallFailed    Code = "CONTRACT_CALL_FAILED"
	CodeNotAContract          Code = "NOT_A_CONTRACT"
)

// System error codes
const (
	CodeConfigurationError Code = "CONFIGURATION_ERROR"
	CodeStorageError       Code = "STORAGE_ERROR"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeUnknownError       Code = "UNKNOWN_ERROR"
)

// retryable is the set of codes the retry policy may re-attempt.
var retryable = map[Code]bool{
	CodeNetworkError:      true,
	CodeServiceTimeout:    true,
	CodeRPCError:          true,
	CodeExplorerAPIError:  true,
	CodeRateLimitExceeded: true,
}
