package coordinator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		name        string
		message     string
		wantClass   ErrorClass
		wantMessage string
	}{
		{
			name:        "user rejected",
			message:     "User rejected the request.",
			wantClass:   ErrorClassUserRejected,
			wantMessage: "Transaction was cancelled by user.",
		},
		{
			name:        "user denied",
			message:     "MetaMask Tx Signature: User denied transaction signature.",
			wantClass:   ErrorClassUserRejected,
			wantMessage: "Transaction was cancelled by user.",
		},
		{
			name:        "insufficient funds",
			message:     "insufficient funds for gas * price + value",
			wantClass:   ErrorClassInsufficientFunds,
			wantMessage: "Insufficient funds in your wallet.",
		},
		{
			name:        "insufficient balance",
			message:     "Insufficient balance to cover transfer",
			wantClass:   ErrorClassInsufficientFunds,
			wantMessage: "Insufficient funds in your wallet.",
		},
		{
			name:        "internal json-rpc error",
			message:     "Internal JSON-RPC error.",
			wantClass:   ErrorClassNetwork,
			wantMessage: "Network connection issue. Please try again.",
		},
		{
			name:        "rpc error",
			message:     "RPC Error: something went wrong",
			wantClass:   ErrorClassNetwork,
			wantMessage: "Network connection issue. Please try again.",
		},
		{
			name:        "execution reverted",
			message:     "execution reverted: stage cap reached",
			wantClass:   ErrorClassReverted,
			wantMessage: "Transaction failed. Please check your balance and try again.",
		},
		{
			name:        "gas fee failure",
			message:     "gas required exceeds max fee per gas",
			wantClass:   ErrorClassGasFee,
			wantMessage: "Transaction failed due to gas fees. Please try again.",
		},
		{
			name:        "unknown",
			message:     "something completely different",
			wantClass:   ErrorClassUnknown,
			wantMessage: "Transaction failed. Please try again.",
		},
		{
			name:        "empty message",
			message:     "",
			wantClass:   ErrorClassUnknown,
			wantMessage: "Transaction failed. Please try again.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, message := ClassifyMessage(tt.message)
			assert.Equal(t, tt.wantClass, class)
			assert.Equal(t, tt.wantMessage, message)
		})
	}
}

func TestClassifyOrderRPCBeforeRejected(t *testing.T) {
	// RPC noise often carries the word "rejected"; the network match must
	// win because it is checked first
	class, _ := ClassifyMessage("rpc error: request rejected by node")
	assert.Equal(t, ErrorClassNetwork, class)
}

func TestClassifyNilError(t *testing.T) {
	class, message := Classify(nil)
	assert.Equal(t, ErrorClassUnknown, class)
	assert.Equal(t, "Transaction failed. Please try again.", message)
}

func TestClassifyWrapsError(t *testing.T) {
	class, _ := Classify(fmt.Errorf("submit: %w", fmt.Errorf("user rejected")))
	assert.Equal(t, ErrorClassUserRejected, class)
}
