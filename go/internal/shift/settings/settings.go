package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Settings is the live configuration the coordinator reads on every tick.
// An interval of zero or less disables that timer.
type Settings interface {
	ColorThemeInterval() time.Duration
	FontFamilyInterval() time.Duration
	AutomaticallyStart() bool
}

// Static is a fixed Settings value
type Static struct {
	ColorTheme time.Duration
	FontFamily time.Duration
	AutoStart  bool
}

// ColorThemeInterval returns the fixed color theme interval
func (s Static) ColorThemeInterval() time.Duration { return s.ColorTheme }

// FontFamilyInterval returns the fixed font family interval
func (s Static) FontFamilyInterval() time.Duration { return s.FontFamily }

// AutomaticallyStart reports whether a fresh coordinator starts on its own
func (s Static) AutomaticallyStart() bool { return s.AutoStart }

// Values mirrors the settings file
type Values struct {
	ColorThemeIntervalMin float64 `yaml:"shift_color_theme_interval_min"`
	FontFamilyIntervalMin float64 `yaml:"shift_font_family_interval_min"`
	AutomaticallyStart    bool    `yaml:"automatically_start_shift_interval"`
	ServerID              string  `yaml:"server_id"`
	SocketDir             string  `yaml:"socket_dir"`
	StatusAddr            string  `yaml:"status_addr"`
	NatsURL               string  `yaml:"nats_url"`
	SubjectPrefix         string  `yaml:"subject_prefix"`
}

// DefaultValues matches a fresh editor install
func DefaultValues() Values {
	return Values{
		ColorThemeIntervalMin: 0,
		FontFamilyIntervalMin: 0,
		AutomaticallyStart:    false,
		ServerID:              "shifter",
		SubjectPrefix:         "shifter",
	}
}

// Parse decodes a settings document on top of DefaultValues
func Parse(data []byte) (Values, error) {
	v := DefaultValues()
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Values{}, fmt.Errorf("failed to parse settings: %w", err)
	}
	return v, nil
}

func minutes(m float64) time.Duration {
	if m <= 0 {
		return 0
	}
	return time.Duration(m * float64(time.Minute))
}

// File is a Settings backed by a YAML file.
// The file is stat'ed on every read and re-parsed when its modification time
// or size changes; a broken edit keeps the last good values.
type File struct {
	path string

	mu      sync.Mutex
	values  Values
	modTime time.Time
	size    int64
}

// Open loads path. A missing file yields defaults and is picked up once created.
func Open(path string) (*File, error) {
	f := &File{path: path, values: DefaultValues()}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the backing file path
func (f *File) Path() string {
	return f.path
}

// Values returns the current values, reloading if the file changed
func (f *File) Values() Values {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.reloadLocked(); err != nil {
		log.Warn().Err(err).Str("path", f.path).Msg("keeping previous settings")
	}
	return f.values
}

// ColorThemeInterval converts shift_color_theme_interval_min
func (f *File) ColorThemeInterval() time.Duration {
	return minutes(f.Values().ColorThemeIntervalMin)
}

// FontFamilyInterval converts shift_font_family_interval_min
func (f *File) FontFamilyInterval() time.Duration {
	return minutes(f.Values().FontFamilyIntervalMin)
}

// AutomaticallyStart reads automatically_start_shift_interval
func (f *File) AutomaticallyStart() bool {
	return f.Values().AutomaticallyStart
}

func (f *File) reload() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloadLocked()
}

func (f *File) reloadLocked() error {
	info, err := os.Stat(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat settings file: %w", err)
	}
	if info.ModTime().Equal(f.modTime) && info.Size() == f.size {
		return nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read settings file: %w", err)
	}
	values, err := Parse(data)
	if err != nil {
		return err
	}

	f.values = values
	f.modTime = info.ModTime()
	f.size = info.Size()

	log.Debug().
		Str("path", f.path).
		Float64("color_theme_interval_min", values.ColorThemeIntervalMin).
		Float64("font_family_interval_min", values.FontFamilyIntervalMin).
		Msg("settings loaded")
	return nil
}
