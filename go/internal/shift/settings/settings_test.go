package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string, modTime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
}

func TestParse(t *testing.T) {
	v, err := Parse([]byte(`
shift_color_theme_interval_min: 5
shift_font_family_interval_min: 0.5
automatically_start_shift_interval: true
server_id: window-1
`))
	require.NoError(t, err)

	assert.Equal(t, 5.0, v.ColorThemeIntervalMin)
	assert.Equal(t, 0.5, v.FontFamilyIntervalMin)
	assert.True(t, v.AutomaticallyStart)
	assert.Equal(t, "window-1", v.ServerID)
	assert.Equal(t, "shifter", v.SubjectPrefix, "unset keys keep defaults")
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte("shift_color_theme_interval_min: [oops"))
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	s := Static{ColorTheme: time.Minute, AutoStart: true}

	assert.Equal(t, time.Minute, s.ColorThemeInterval())
	assert.Zero(t, s.FontFamilyInterval())
	assert.True(t, s.AutomaticallyStart())
}

func TestFileMissingUsesDefaults(t *testing.T) {
	f, err := Open(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)

	assert.Zero(t, f.ColorThemeInterval())
	assert.Zero(t, f.FontFamilyInterval())
	assert.False(t, f.AutomaticallyStart())
}

func TestFileReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	base := time.Now().Add(-time.Hour)
	writeFile(t, path, "shift_color_theme_interval_min: 5\n", base)

	f, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, f.ColorThemeInterval())
	assert.Zero(t, f.FontFamilyInterval())

	writeFile(t, path, "shift_color_theme_interval_min: 0\nshift_font_family_interval_min: 10\n", base.Add(time.Minute))

	assert.Zero(t, f.ColorThemeInterval(), "disabled after edit")
	assert.Equal(t, 10*time.Minute, f.FontFamilyInterval())
}

func TestFileKeepsLastGoodValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	base := time.Now().Add(-time.Hour)
	writeFile(t, path, "shift_color_theme_interval_min: 2\n", base)

	f, err := Open(path)
	require.NoError(t, err)

	writeFile(t, path, "shift_color_theme_interval_min: [broken\n", base.Add(time.Minute))
	assert.Equal(t, 2*time.Minute, f.ColorThemeInterval())
}

func TestOpenRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeFile(t, path, "automatically_start_shift_interval: {", time.Now())

	_, err := Open(path)
	assert.Error(t, err)
}

func TestNegativeIntervalDisables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeFile(t, path, "shift_color_theme_interval_min: -3\n", time.Now())

	f, err := Open(path)
	require.NoError(t, err)
	assert.Zero(t, f.ColorThemeInterval())
}
