package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKindAndIdentity(t *testing.T) {
	errLocked := NewError("request_locked", ErrPrecondition, "request is locked")
	wrapped := fmt.Errorf("submit: %w", errLocked)

	require.ErrorIs(t, wrapped, errLocked)
	require.ErrorIs(t, wrapped, ErrPrecondition)
	require.False(t, errors.Is(wrapped, ErrNotFound))
	require.Equal(t, "request_locked", CodeOf(wrapped))
	require.Equal(t, "", CodeOf(errors.New("plain")))
}

func TestReminderKeyIsStablePerDeadline(t *testing.T) {
	require.Equal(t, ReminderKey("quotation", 7, 100), ReminderKey("quotation", 7, 100))
	require.NotEqual(t, ReminderKey("quotation", 7, 100), ReminderKey("quotation", 7, 200))
}

func TestNormalizePage(t *testing.T) {
	page, per := NormalizePage(0, 500)
	require.Equal(t, 1, page)
	require.Equal(t, 100, per)
	p := NewPagination(3, 10, 45)
	require.Equal(t, 5, p.TotalPages)
	require.Equal(t, 20, p.Offset())
}
