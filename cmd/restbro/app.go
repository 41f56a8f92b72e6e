package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unkn0wn-root/restbro/internal/collection"
	"github.com/unkn0wn-root/restbro/internal/config"
	"github.com/unkn0wn-root/restbro/internal/errdef"
	"github.com/unkn0wn-root/restbro/internal/history"
	"github.com/unkn0wn-root/restbro/internal/httpclient"
	"github.com/unkn0wn-root/restbro/internal/pipeline"
	"github.com/unkn0wn-root/restbro/internal/scripts"
	"github.com/unkn0wn-root/restbro/internal/secrets"
	"github.com/unkn0wn-root/restbro/internal/telemetry"
)

const envPrefix = "RESTBRO"

// app holds the services commands share. They are built once, in the root
// command's PersistentPreRunE, after flags and environment are known.
type app struct {
	out    io.Writer
	errOut io.Writer
	styles styles
	v      *viper.Viper

	settings    config.Settings
	log         *log.Logger
	secrets     secrets.Store
	collections *collection.Store
	history     *history.Store
	telemetry   telemetry.Instrumenter

	// httpFactory replaces the HTTP client construction; tests only.
	httpFactory func(httpclient.Options) (*http.Client, error)

	closers []func() error
}

func newApp(out, errOut io.Writer) *app {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return &app{
		out:       out,
		errOut:    errOut,
		styles:    newStyles(),
		v:         v,
		telemetry: telemetry.Noop(),
	}
}

func (a *app) init(cmd *cobra.Command) error {
	if a.collections != nil {
		return nil
	}
	settings, _, err := config.LoadSettings()
	if err != nil {
		return errdef.Wrap(errdef.CodeParse, err, "load settings")
	}
	a.settings = a.applyOverrides(settings)

	level, err := log.ParseLevel(a.v.GetString("log_level"))
	if err != nil {
		level = log.WarnLevel
	}
	a.log = log.NewWithOptions(a.errOut, log.Options{
		Level:           level,
		Prefix:          "restbro",
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})

	if err := a.openSecrets(); err != nil {
		return err
	}
	a.collections = collection.NewStore(a.secrets, collection.WithLogger(a.log.WithPrefix("collections")))
	a.history = history.NewStore(a.settings.History.Path, a.settings.History.MaxEntries)
	if err := a.history.Load(); err != nil {
		a.log.Warn("history load failed", "err", err)
	}
	a.initTelemetry(cmd.Context())
	return nil
}

// applyOverrides layers RESTBRO_* environment variables and flags over the
// settings file.
func (a *app) applyOverrides(s config.Settings) config.Settings {
	if a.v.IsSet("root") {
		s.CollectionsRoot = a.v.GetString("root")
	}
	if a.v.IsSet("env") {
		s.DefaultEnvironment = a.v.GetString("env")
	}
	if a.v.IsSet("timeout") {
		s.HTTP.Timeout = a.v.GetDuration("timeout").String()
	}
	if a.v.IsSet("script_timeout") {
		s.Scripts.Timeout = a.v.GetDuration("script_timeout").String()
	}
	if a.v.IsSet("follow") {
		s.HTTP.FollowRedirects = a.v.GetBool("follow")
	}
	if a.v.IsSet("insecure") {
		s.HTTP.InsecureSkipVerify = a.v.GetBool("insecure")
	}
	if a.v.IsSet("proxy") {
		s.HTTP.Proxy = a.v.GetString("proxy")
	}
	if a.v.IsSet("secrets") {
		s.Secrets.Backend = strings.ToLower(a.v.GetString("secrets"))
	}
	if a.v.IsSet("history_path") {
		s.History.Path = a.v.GetString("history_path")
	}
	return s
}

func (a *app) openSecrets() error {
	switch a.settings.Secrets.Backend {
	case config.SecretsBackendMemory:
		a.secrets = secrets.NewMemory()
		return nil
	case config.SecretsBackendVault, "":
		vault, err := secrets.OpenVault(a.settings.Secrets.Path, a.settings.Secrets.KeyPath)
		if err != nil {
			return err
		}
		a.secrets = vault
		a.closers = append(a.closers, vault.Close)
		return nil
	default:
		return errdef.New(errdef.CodeSecret, "unknown secrets backend %q", a.settings.Secrets.Backend)
	}
}

func (a *app) initTelemetry(ctx context.Context) {
	cfg := telemetry.ConfigFromEnv(os.Getenv)
	if cfg.Endpoint == "" {
		cfg.Endpoint = strings.TrimSpace(a.settings.Telemetry.Endpoint)
		cfg.Insecure = cfg.Insecure || a.settings.Telemetry.Insecure
	}
	cfg.Version = version
	if !cfg.Enabled() {
		return
	}
	instr, err := telemetry.New(cfg)
	if err != nil {
		a.log.Warn("telemetry init failed", "err", err)
		return
	}
	a.telemetry = instr
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return instr.Shutdown(shutdownCtx)
	})
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) httpOptions() httpclient.Options {
	return httpclient.Options{
		Timeout:            a.settings.HTTPTimeout(),
		FollowRedirects:    a.settings.HTTP.FollowRedirects,
		InsecureSkipVerify: a.settings.HTTP.InsecureSkipVerify,
		ProxyURL:           a.settings.HTTP.Proxy,
	}
}

func (a *app) executor(observer func(pipeline.State)) *pipeline.Executor {
	client := httpclient.NewClient(nil, a.httpOptions())
	if a.httpFactory != nil {
		client.SetHTTPFactory(a.httpFactory)
	}
	runner := scripts.NewRunner(scripts.Options{
		Logger:  a.log.WithPrefix("script"),
		Timeout: a.settings.ScriptTimeout(),
	})
	opts := []pipeline.Option{
		pipeline.WithLogger(a.log.WithPrefix("pipeline")),
		pipeline.WithScriptRunner(runner),
		pipeline.WithTelemetry(a.telemetry),
	}
	if observer != nil {
		opts = append(opts, pipeline.WithStateObserver(observer))
	}
	return pipeline.New(client, a.secrets, opts...)
}

// collectionPath accepts either a directory or a collection name under the
// configured collections root.
func (a *app) collectionPath(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return a.settings.CollectionsRoot
	}
	if filepath.IsAbs(ref) {
		return ref
	}
	if _, err := os.Stat(filepath.Join(ref, collection.DescriptorFile)); err == nil {
		return ref
	}
	return filepath.Join(a.settings.CollectionsRoot, ref)
}

func (a *app) loadCollection(ref string) (*collection.Collection, error) {
	return a.collections.Load(a.collectionPath(ref))
}
