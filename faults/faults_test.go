package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeOfWrappedChain(t *testing.T) {
	base := errors.New("connection refused")
	f := Wrap(CodeSendFailed, base, "broadcast to %s", "pool-a")
	wrapped := fmt.Errorf("tick 7: %w", f)

	require.Equal(t, CodeSendFailed, CodeOf(wrapped))
	require.True(t, HasCode(wrapped, CodeSendFailed))
	require.False(t, HasCode(wrapped, CodePolicyBlocked))
	require.True(t, errors.Is(wrapped, base))
}

func TestIsMatchesByCode(t *testing.T) {
	err := New(CodePolicyBlocked, "cooldown active")
	require.True(t, errors.Is(err, New(CodePolicyBlocked, "")))
	require.False(t, errors.Is(err, New(CodeScanEmpty, "")))
}

func TestWithDetail(t *testing.T) {
	err := New(CodeAdapterUnavailable, "pool read failed").WithDetail("poolId", "aave-usdc")
	require.Equal(t, "aave-usdc", err.Details["poolId"])
	require.Contains(t, err.Error(), "ADAPTER_UNAVAILABLE")
}

func TestCodeOfPlainError(t *testing.T) {
	require.Equal(t, Code(""), CodeOf(errors.New("plain")))
}
