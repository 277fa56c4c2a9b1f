package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapClassifiesAndHidesCause(t *testing.T) {
	cause := fmt.Errorf("disk read failed at offset 42")
	e := Wrap(KindInternal, cause)

	require.Equal(t, KindInternal, e.Kind)
	require.NotEmpty(t, e.ErrorID)
	require.ErrorIs(t, e, cause)
}

func TestAsExtractsWrappedError(t *testing.T) {
	e := New(KindBudgetExhausted, "max_pages exceeded", nil)
	wrapped := fmt.Errorf("pipeline step failed: %w", e)

	got, ok := As(wrapped)
	require.True(t, ok)
	require.Equal(t, KindBudgetExhausted, got.Kind)
}

func TestAsReturnsFalseForPlainError(t *testing.T) {
	_, ok := As(fmt.Errorf("plain"))
	require.False(t, ok)
}
