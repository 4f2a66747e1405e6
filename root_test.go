package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/pansave/internal/config"
)

// quietLogger discards everything below error.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// writeTestConfig writes a config file keeping all state inside a temp dir
// and points PANSAVE_CONFIG at it.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	body := "[session]\ncookie_file = " + quote(filepath.Join(dir, "cookies.json")) + "\n\n" +
		"[tasks]\ndatabase = " + quote(filepath.Join(dir, "tasks.db")) + "\n\n" + extra

	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv(config.EnvConfig, path)
	t.Setenv(config.EnvCookies, "")
	t.Setenv(config.EnvDownloadDir, "")

	return dir
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestBuildLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		flags    CLIFlags
		debugOn  bool
		infoOn   bool
		errorsOn bool
	}{
		{"config info", "info", CLIFlags{}, false, true, true},
		{"config debug", "debug", CLIFlags{}, true, true, true},
		{"config error", "error", CLIFlags{}, false, false, true},
		{"verbose beats config", "error", CLIFlags{Verbose: true}, true, true, true},
		{"quiet beats config", "debug", CLIFlags{Quiet: true}, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Logging.LogLevel = tt.level

			logger := buildLogger(cfg, tt.flags, io.Discard)
			ctx := context.Background()

			assert.Equal(t, tt.debugOn, logger.Enabled(ctx, slog.LevelDebug))
			assert.Equal(t, tt.infoOn, logger.Enabled(ctx, slog.LevelInfo))
			assert.Equal(t, tt.errorsOn, logger.Enabled(ctx, slog.LevelError))
		})
	}
}

func TestBuildLogger_Format(t *testing.T) {
	tests := []struct {
		format string
		json   bool
	}{
		{"json", true},
		{"text", false},
		// A buffer is not a terminal.
		{"auto", true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Logging.LogFormat = tt.format

			var buf bytes.Buffer
			buildLogger(cfg, CLIFlags{}, &buf).Info("hello", slog.String("share", "ABC123"))

			var rec map[string]any
			err := json.Unmarshal(buf.Bytes(), &rec)

			if tt.json {
				require.NoError(t, err, buf.String())
				assert.Equal(t, "hello", rec["msg"])
				assert.Equal(t, "ABC123", rec["share"])
			} else {
				assert.Error(t, err)
				assert.Contains(t, buf.String(), "share=ABC123")
			}
		})
	}
}

func TestBuildLogger_NilConfig(t *testing.T) {
	logger := buildLogger(nil, CLIFlags{}, io.Discard)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestLoadConfig_OverrideChain(t *testing.T) {
	dir := writeTestConfig(t, "[transfers]\ndownload_dir = \"from-file\"\n")

	cfg, err := loadConfig(CLIFlags{})
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Transfers.DownloadDir)
	assert.Equal(t, filepath.Join(dir, "tasks.db"), cfg.Tasks.Database)

	t.Setenv(config.EnvDownloadDir, "from-env")

	cfg, err = loadConfig(CLIFlags{})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Transfers.DownloadDir)

	cfg, err = loadConfig(CLIFlags{DownloadDir: "from-flag", CookieFile: "/tmp/c.json"})
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Transfers.DownloadDir)
	assert.Equal(t, "/tmp/c.json", cfg.Session.CookieFile)
}

func TestLoadConfig_UnknownKey(t *testing.T) {
	writeTestConfig(t, "[transfers]\ndownload_dri = \"x\"\n")

	_, err := loadConfig(CLIFlags{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download_dir")
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}

	for _, want := range []string{"login", "logout", "whoami", "ls", "get", "share", "transfer", "batch", "tasks", "config"} {
		assert.Contains(t, names, want)
	}
}

func TestCLIContext_Missing(t *testing.T) {
	assert.Nil(t, cliContextFrom(context.Background()))
	assert.Panics(t, func() { mustCLIContext(context.Background()) })
}

func TestExecute_SetsCLIContext(t *testing.T) {
	writeTestConfig(t, "")

	var got *CLIContext

	root := newRootCmd()
	root.AddCommand(&cobra.Command{
		Use: "probe",
		RunE: func(cmd *cobra.Command, _ []string) error {
			got = cliContextFrom(cmd.Context())
			return nil
		},
	})
	root.SetArgs([]string{"probe", "--download-dir", "dl", "-q"})

	require.NoError(t, root.ExecuteContext(t.Context()))
	require.NotNil(t, got)
	assert.Equal(t, "dl", got.Cfg.Transfers.DownloadDir)
	assert.True(t, got.Flags.Quiet)
	assert.NotNil(t, got.Logger)
}

func TestExecute_RejectsBadFlagsBeforeNetwork(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"output without download", []string{"transfer", "https://pan.baidu.com/s/1abc", "-o", "x"}, "--output needs --download"},
		{"bad duplicate policy", []string{"transfer", "https://pan.baidu.com/s/1abc", "--on-duplicate", "skip"}, "invalid --on-duplicate"},
		{"bad order", []string{"ls", "--order", "colour"}, "invalid --order"},
		{"get needs a path", []string{"get"}, "requires at least 1 arg"},
		{"get url takes no path", []string{"get", "--url", "https://example.com/f", "/a"}, "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeTestConfig(t, "")

			root := newRootCmd()
			root.SetArgs(tt.args)
			root.SetOut(io.Discard)
			root.SetErr(io.Discard)

			err := root.ExecuteContext(t.Context())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRenderEffective(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, renderEffective(config.DefaultConfig(), &buf))

	out := buf.String()
	assert.Contains(t, out, "[transfers]")
	assert.Contains(t, out, `on_duplicate = "newcopy"`)
	assert.Contains(t, out, "[tasks]")
}
