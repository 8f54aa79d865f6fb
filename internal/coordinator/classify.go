package coordinator

import "strings"

// ErrorClass is the category assigned to a failed purchase attempt
type ErrorClass string

const (
	ErrorClassUserRejected      ErrorClass = "user_rejected"
	ErrorClassInsufficientFunds ErrorClass = "insufficient_funds"
	ErrorClassNetwork           ErrorClass = "network"
	ErrorClassReverted          ErrorClass = "reverted"
	ErrorClassGasFee            ErrorClass = "gas_fee"
	ErrorClassUnknown           ErrorClass = "unknown"
)

// Classify maps a raw chain or wallet error to its class and user-facing
// message. Matching is case-insensitive substring matching on the raw
// message; the order of checks is significant (RPC noise is checked before
// the broader "rejected" match, which would otherwise swallow it).
func Classify(err error) (ErrorClass, string) {
	if err == nil {
		return ErrorClassUnknown, "Transaction failed. Please try again."
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies a raw error message string
func ClassifyMessage(message string) (ErrorClass, string) {
	if message == "" {
		return ErrorClassUnknown, "Transaction failed. Please try again."
	}

	lower := strings.ToLower(message)

	if strings.Contains(lower, "internal json-rpc error") ||
		strings.Contains(lower, "rpc error") ||
		strings.Contains(lower, "network error") {
		return ErrorClassNetwork, "Network connection issue. Please try again."
	}

	if strings.Contains(lower, "insufficient funds") ||
		strings.Contains(lower, "insufficient balance") {
		return ErrorClassInsufficientFunds, "Insufficient funds in your wallet."
	}

	if strings.Contains(lower, "user rejected") ||
		strings.Contains(lower, "rejected") ||
		strings.Contains(lower, "user denied") {
		return ErrorClassUserRejected, "Transaction was cancelled by user."
	}

	if strings.Contains(lower, "reverted") {
		return ErrorClassReverted, "Transaction failed. Please check your balance and try again."
	}

	if strings.Contains(lower, "gas") && strings.Contains(lower, "fee") {
		return ErrorClassGasFee, "Transaction failed due to gas fees. Please try again."
	}

	return ErrorClassUnknown, "Transaction failed. Please try again."
}
