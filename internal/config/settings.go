package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/unkn0wn-root/restbro/internal/util"
)

const (
	SettingsFormatTOML SettingsFormat = "toml"
	SettingsFormatJSON SettingsFormat = "json"

	SecretsBackendVault  = "vault"
	SecretsBackendMemory = "memory"

	defaultHTTPTimeout    = 30 * time.Second
	defaultScriptTimeout  = 5 * time.Second
	defaultHistoryEntries = 200
)

type HTTPSettings struct {
	Timeout            string `json:"timeout,omitempty"              toml:"timeout,omitempty"`
	FollowRedirects    bool   `json:"follow_redirects,omitempty"     toml:"follow_redirects,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty" toml:"insecure_skip_verify,omitempty"`
	Proxy              string `json:"proxy,omitempty"                toml:"proxy,omitempty"`
}

type ScriptSettings struct {
	Timeout string `json:"timeout,omitempty" toml:"timeout,omitempty"`
}

type SecretsSettings struct {
	Backend string `json:"backend,omitempty"  toml:"backend,omitempty"`
	Path    string `json:"path,omitempty"     toml:"path,omitempty"`
	KeyPath string `json:"key_path,omitempty" toml:"key_path,omitempty"`
}

type HistorySettings struct {
	Path       string `json:"path,omitempty"        toml:"path,omitempty"`
	MaxEntries int    `json:"max_entries,omitempty" toml:"max_entries,omitempty"`
}

type TelemetrySettings struct {
	Endpoint string `json:"endpoint,omitempty" toml:"endpoint,omitempty"`
	Insecure bool   `json:"insecure,omitempty" toml:"insecure,omitempty"`
}

type Settings struct {
	CollectionsRoot    string            `json:"collections_root,omitempty"    toml:"collections_root,omitempty"`
	DefaultEnvironment string            `json:"default_environment,omitempty" toml:"default_environment,omitempty"`
	HTTP               HTTPSettings      `json:"http"                          toml:"http"`
	Scripts            ScriptSettings    `json:"scripts"                       toml:"scripts"`
	Secrets            SecretsSettings   `json:"secrets"                       toml:"secrets"`
	History            HistorySettings   `json:"history"                       toml:"history"`
	Telemetry          TelemetrySettings `json:"telemetry"                     toml:"telemetry"`
}

// Defaults returns settings with every path rooted at dir.
func Defaults(dir string) Settings {
	return Settings{
		CollectionsRoot: filepath.Join(dir, "collections"),
		HTTP:            HTTPSettings{Timeout: defaultHTTPTimeout.String()},
		Scripts:         ScriptSettings{Timeout: defaultScriptTimeout.String()},
		Secrets: SecretsSettings{
			Backend: SecretsBackendVault,
			Path:    filepath.Join(dir, "secrets.db"),
			KeyPath: filepath.Join(dir, "secrets.key"),
		},
		History: HistorySettings{
			Path:       filepath.Join(dir, "history.json"),
			MaxEntries: defaultHistoryEntries,
		},
	}
}

// Normalise fills blank fields from Defaults(dir).
func Normalise(s Settings, dir string) Settings {
	def := Defaults(dir)
	if strings.TrimSpace(s.CollectionsRoot) == "" {
		s.CollectionsRoot = def.CollectionsRoot
	}
	if strings.TrimSpace(s.HTTP.Timeout) == "" {
		s.HTTP.Timeout = def.HTTP.Timeout
	}
	if strings.TrimSpace(s.Scripts.Timeout) == "" {
		s.Scripts.Timeout = def.Scripts.Timeout
	}
	s.Secrets.Backend = strings.ToLower(strings.TrimSpace(s.Secrets.Backend))
	if s.Secrets.Backend == "" {
		s.Secrets.Backend = def.Secrets.Backend
	}
	if strings.TrimSpace(s.Secrets.Path) == "" {
		s.Secrets.Path = def.Secrets.Path
	}
	if strings.TrimSpace(s.Secrets.KeyPath) == "" {
		s.Secrets.KeyPath = def.Secrets.KeyPath
	}
	if strings.TrimSpace(s.History.Path) == "" {
		s.History.Path = def.History.Path
	}
	if s.History.MaxEntries <= 0 {
		s.History.MaxEntries = def.History.MaxEntries
	}
	return s
}

// HTTPTimeout parses HTTP.Timeout, falling back to the default on bad input.
func (s Settings) HTTPTimeout() time.Duration {
	return parseDuration(s.HTTP.Timeout, defaultHTTPTimeout)
}

func (s Settings) ScriptTimeout() time.Duration {
	return parseDuration(s.Scripts.Timeout, defaultScriptTimeout)
}

func (s Settings) Validate() error {
	var errs []error
	for name, raw := range map[string]string{"http.timeout": s.HTTP.Timeout, "scripts.timeout": s.Scripts.Timeout} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if d, err := time.ParseDuration(strings.TrimSpace(raw)); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", name, raw))
		}
	}
	switch strings.ToLower(strings.TrimSpace(s.Secrets.Backend)) {
	case "", SecretsBackendVault, SecretsBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("secrets.backend: unknown backend %q", s.Secrets.Backend))
	}
	return errors.Join(errs...)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

type SettingsFormat string
type SettingsHandle struct {
	Path   string
	Format SettingsFormat
}

// tries loading TOML first, then JSON, then returns defaults if neither exists.
// parse errors fail immediately but missing files just skip to the next format.
func LoadSettings() (Settings, SettingsHandle, error) {
	dir := Dir()
	candidates := []SettingsHandle{
		{Path: filepath.Join(dir, "settings.toml"), Format: SettingsFormatTOML},
		{Path: filepath.Join(dir, "settings.json"), Format: SettingsFormatJSON},
	}

	var accumulated error
	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate.Path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			accumulated = errors.Join(
				accumulated,
				fmt.Errorf("read settings %q: %w", candidate.Path, err),
			)
			continue
		}

		settings, err := decodeSettings(data, candidate.Format)
		if err != nil {
			return Settings{}, SettingsHandle{}, fmt.Errorf(
				"parse settings %q: %w",
				candidate.Path,
				err,
			)
		}
		if err := settings.Validate(); err != nil {
			return Settings{}, SettingsHandle{}, fmt.Errorf("settings %q: %w", candidate.Path, err)
		}
		return Normalise(settings, dir), candidate, nil
	}

	if accumulated != nil {
		return Settings{}, SettingsHandle{}, accumulated
	}

	return Defaults(dir), SettingsHandle{
		Path:   candidates[0].Path,
		Format: SettingsFormatTOML,
	}, nil
}

func decodeSettings(data []byte, format SettingsFormat) (Settings, error) {
	var settings Settings
	switch format {
	case SettingsFormatTOML:
		if err := toml.Unmarshal(data, &settings); err != nil {
			return Settings{}, err
		}
	case SettingsFormatJSON:
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&settings); err != nil {
			return Settings{}, err
		}
	default:
		return Settings{}, fmt.Errorf("unsupported settings format %q", format)
	}
	return settings, nil
}

func SaveSettings(settings Settings, handle SettingsHandle) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	path := handle.Path
	format := handle.Format
	if path == "" {
		path = filepath.Join(Dir(), "settings.toml")
	}
	if format == "" {
		format = SettingsFormatTOML
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure settings directory: %w", err)
	}

	var (
		data []byte
		err  error
	)

	switch format {
	case SettingsFormatTOML:
		data, err = toml.Marshal(settings)
	case SettingsFormatJSON:
		buffer := &bytes.Buffer{}
		encoder := json.NewEncoder(buffer)
		encoder.SetIndent("", "  ")
		if err = encoder.Encode(settings); err == nil {
			data = buffer.Bytes()
		}
	default:
		return fmt.Errorf("unsupported settings format %q", format)
	}
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if err := util.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings %q: %w", path, err)
	}
	return nil
}
