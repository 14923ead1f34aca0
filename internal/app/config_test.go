package app

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 48*time.Hour, cfg.QuotationValidity)
	require.Equal(t, 72*time.Hour, cfg.PaymentWindow)
	require.Equal(t, 12*time.Hour, cfg.ReminderLead)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidateRejectsNonPositiveWindows(t *testing.T) {
	cfg := &Config{JWTSecret: "x", QuotationValidity: 0, PaymentWindow: time.Hour}
	require.Error(t, cfg.Validate())
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel(&Config{LogLevel: "DEBUG"}))
	require.Equal(t, slog.LevelInfo, parseLevel(nil))
}
