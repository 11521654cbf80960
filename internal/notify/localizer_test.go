package notify_test

import (
	"os"
	"path/filepath"
	"testing"

	"claimhub/backend/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalizer_EmbeddedDefaults(t *testing.T) {
	loc := newLocalizer(t)

	assert.Equal(t, []string{"en", "uk"}, loc.Languages())
	assert.Equal(t, "Your ClaimHub verification code", loc.GetString("en", "otp.subject"))
	assert.Equal(t, "Your ClaimHub verification code", loc.GetString("de", "otp.subject"), "unknown languages fall back to English")
	assert.Equal(t, "missing.key", loc.GetString("uk", "missing.key"))
}

func TestLocalizer_Format(t *testing.T) {
	loc := newLocalizer(t)

	got := loc.Format("en", "email_alert.subject", map[string]string{"subject": "Claim c42 escalated"})
	assert.Equal(t, "ClaimHub alert: Claim c42 escalated", got)
}

func TestLocalizer_DirectoryOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en.json"), []byte(`{"otp.subject": "Your code"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pl.json"), []byte(`{"otp.subject": "Twój kod"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0o644))

	loc, err := notify.NewLocalizer(dir)
	require.NoError(t, err)

	assert.Equal(t, "Your code", loc.GetString("en", "otp.subject"))
	assert.Equal(t, "Twój kod", loc.GetString("pl", "otp.subject"))
	assert.Contains(t, loc.GetString("en", "otp.body"), "{code}", "keys not overridden keep the built-in text")
}

func TestLocalizer_BadDirectory(t *testing.T) {
	_, err := notify.NewLocalizer(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en.json"), []byte(`{not json`), 0o644))
	_, err = notify.NewLocalizer(dir)
	assert.Error(t, err)
}
