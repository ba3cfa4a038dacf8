package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	// Validation
	CodeValidationError:  "Validation error",
	CodeInvalidAddress:   "Invalid address format",
	CodeInvalidTxHash:    "Invalid transaction hash format",
	CodeInvalidAmount:    "Amount must be positive",
	CodeInvalidABI:       "Invalid contract ABI",
	CodeUnsupportedChain: "Chain is not configured",
	CodeUnsupportedAsset: "Asset is not supported by this provider",

	// Transient
	CodeNetworkError:      "Network error",
	CodeServiceTimeout:    "Service request timeout",
	CodeRPCError:          "RPC call failed",
	CodeExplorerAPIError:  "Explorer API error",
	CodeRateLimitExceeded: "Rate limit exceeded",

	// Circuit breaker
	CodeCircuitOpen: "Circuit breaker is open",

	// Domain
	CodeTxNotFound:            "Transaction not found",
	CodeConsensusMismatch:     "Verification sources disagree",
	CodeInsufficientBalance:   "Insufficient balance",
	CodeInsufficientAllowance: "Insufficient allowance",
	CodeSlippageExceeded:      "Output amount outside slippage tolerance",
	CodeUnprofitableLoan:      "Expected profit does not cover loan fee",
	CodeLoanTooLarge:          "Requested amount exceeds provider maximum",
	CodeProviderUnavailable:   "Liquidity provider unavailable",
	CodeBlacklistedAddress:    "Destination address is blacklisted",
	CodeDailyLimitExceeded:    "Daily withdrawal limit exceeded",
	CodeWithdrawalTooSoon:     "Minimum interval since last withdrawal not elapsed",
	CodeContractCallFailed:    "Smart contract call failed",
	CodeNotAContract:          "No contract code at address",

	// System
	CodeConfigurationError: "Configuration error",
	CodeStorageError:       "History store error",
	CodeInternalError:      "Internal error",
	CodeUnknownError:       "An unknown error occurred",
}
