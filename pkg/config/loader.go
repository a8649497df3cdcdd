package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SYSMAINT"

// keyDelimiter separates nested keys. Sysctl keys contain dots, so the
// viper default cannot be used.
const keyDelimiter = "::"

// FlagBindings maps configuration keys to the command-line flags that
// override them.
var FlagBindings = map[string]string{
	"backend":    "backend",
	"dry_run":    "dry-run",
	"headless":   "headless",
	"json":       "json",
	"verbose":    "verbose",
	"state_path": "state-file",
}

var validate = validator.New()

// Load reads the configuration. An empty path reads DefaultConfigPath if it
// exists; an explicit path must exist. Flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range FlagBindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	set := func(key string, value interface{}) {
		v.SetDefault(strings.ReplaceAll(key, ".", keyDelimiter), value)
	}

	set("backend", d.Backend)
	set("dry_run", d.DryRun)
	set("headless", d.Headless)
	set("json", d.JSON)
	set("verbose", d.Verbose)
	set("command_timeout", d.CommandTimeout)
	set("state_path", d.StatePath)
	set("journal_path", d.JournalPath)
	set("lock_dir", d.LockDir)
	set("metrics.textfile", d.Metrics.Textfile)
	set("tracing.enabled", d.Tracing.Enabled)
	set("tracing.exporter", d.Tracing.Exporter)
	set("tracing.endpoint", d.Tracing.Endpoint)
	set("tracing.insecure", d.Tracing.Insecure)
	set("package_manager.extra_args", d.PackageManager.ExtraArgs)
	set("hardening.ssh_config_path", d.Hardening.SSHConfigPath)
	set("hardening.ssh_port", d.Hardening.SSHPort)
	set("hardening.authorized_keys_paths", d.Hardening.AuthorizedKeysPaths)
	set("hardening.policy_paths", d.Hardening.PolicyPaths)
	set("hardening.sysctl_path", d.Hardening.SysctlPath)
	set("hardening.unattended_config_path", d.Hardening.UnattendedConfigPath)
	set("update.reboot_delay", d.Update.RebootDelay)

	// Map entries are set one key at a time so files merge into them.
	for k, val := range d.Hardening.SSHSettings {
		v.SetDefault("hardening"+keyDelimiter+"ssh_settings"+keyDelimiter+k, val)
	}
	for k, val := range d.Hardening.SysctlSettings {
		v.SetDefault("hardening"+keyDelimiter+"sysctl_settings"+keyDelimiter+k, val)
	}
}

// Validate checks struct constraints and derived values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msg := fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag())
				if fe.Param() != "" {
					msg += " (" + fe.Param() + ")"
				}
				msgs = append(msgs, msg)
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := c.PackageManager.Args(); err != nil {
		return err
	}
	return nil
}

// Render returns the configuration as YAML.
func Render(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}
