package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil && strings.Contains(err.Error(), DefaultConfigPath) {
		t.Skip("host has a config file at the default path")
	}
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.CommandTimeout)
	assert.Equal(t, DefaultStatePath, cfg.StatePath)
	assert.Equal(t, 22, cfg.Hardening.SSHPort)
	assert.Equal(t, "1", cfg.Hardening.SysctlSettings["net.ipv4.tcp_syncookies"])
	assert.Equal(t, "no", cfg.Hardening.SSHSettings["permitrootlogin"])
	assert.Equal(t, 5*time.Minute, cfg.Update.RebootDelay)
}

func TestLoadExplicitFileMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
backend: DNF
command_timeout: 10m
journal_path: ""
package_manager:
  extra_args: "--setopt=install_weak_deps=False --disablerepo='epel testing'"
hardening:
  ssh_port: 2222
  ssh_settings:
    MaxAuthTries: "4"
  sysctl_settings:
    net.ipv4.ip_forward: "0"
update:
  reboot_delay: 15m
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "dnf", cfg.Backend)
	assert.Equal(t, 10*time.Minute, cfg.CommandTimeout)
	assert.Empty(t, cfg.JournalPath)
	assert.Equal(t, 2222, cfg.Hardening.SSHPort)
	assert.Equal(t, 15*time.Minute, cfg.Update.RebootDelay)

	// File entries merge with the defaults.
	assert.Equal(t, "4", cfg.Hardening.SSHSettings["maxauthtries"])
	assert.Equal(t, "no", cfg.Hardening.SSHSettings["x11forwarding"])
	assert.Equal(t, "0", cfg.Hardening.SysctlSettings["net.ipv4.ip_forward"])
	assert.Equal(t, "1", cfg.Hardening.SysctlSettings["net.ipv4.conf.all.rp_filter"])

	args, err := cfg.PackageManager.Args()
	require.NoError(t, err)
	assert.Equal(t, []string{"--setopt=install_weak_deps=False", "--disablerepo=epel testing"}, args)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "backend: apt\nhardening:\n  ssh_port: 2222\n")

	t.Setenv("SYSMAINT_HEADLESS", "1")
	t.Setenv("SYSMAINT_DRY_RUN", "true")
	t.Setenv("SYSMAINT_BACKEND", "pacman")
	t.Setenv("SYSMAINT_HARDENING_SSH_PORT", "2200")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.True(t, cfg.Headless)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "pacman", cfg.Backend)
	assert.Equal(t, 2200, cfg.Hardening.SSHPort)
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	path := writeConfig(t, "backend: apt\n")
	t.Setenv("SYSMAINT_BACKEND", "dnf")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("backend", "", "")
	flags.Bool("dry-run", false, "")
	flags.CountP("verbose", "v", "")
	flags.String("state-file", "", "")
	require.NoError(t, flags.Parse([]string{"--backend", "zypper", "--dry-run", "-vv", "--state-file", "/tmp/s.json"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "zypper", cfg.Backend)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 2, cfg.Verbose)
	assert.Equal(t, "/tmp/s.json", cfg.StatePath)
}

func TestLoadUnsetFlagsKeepFileValues(t *testing.T) {
	path := writeConfig(t, "backend: apt\n")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("backend", "", "")
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "apt", cfg.Backend)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "brew" }, wantErr: "Backend"},
		{name: "zero timeout", mutate: func(c *Config) { c.CommandTimeout = 0 }, wantErr: "CommandTimeout"},
		{name: "port out of range", mutate: func(c *Config) { c.Hardening.SSHPort = 70000 }, wantErr: "SSHPort"},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Exporter = "jaeger" }, wantErr: "Exporter"},
		{name: "otlp needs endpoint", mutate: func(c *Config) { c.Tracing.Exporter = "otlp"; c.Tracing.Endpoint = "" }, wantErr: "Endpoint"},
		{name: "unbalanced quotes", mutate: func(c *Config) { c.PackageManager.ExtraArgs = `--opt "unterminated` }, wantErr: "extra_args"},
		{name: "missing state path", mutate: func(c *Config) { c.StatePath = "" }, wantErr: "StatePath"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRender(t *testing.T) {
	cfg := Default()
	cfg.Backend = "apt"

	out, err := Render(cfg)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, "apt", decoded["backend"])
	assert.Equal(t, "30m0s", decoded["command_timeout"])

	hardening, ok := decoded["hardening"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 22, hardening["ssh_port"])
}
