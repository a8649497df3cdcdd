package config

import (
	"fmt"
	"time"

	"github.com/google/shlex"
)

// Config is the effective sysmaint configuration.
type Config struct {
	// Backend is the package manager identifier (apt, apt-get, dnf, yum, pacman, zypper).
	Backend string `mapstructure:"backend" yaml:"backend" validate:"omitempty,oneof=apt apt-get dnf yum pacman zypper"`

	DryRun   bool `mapstructure:"dry_run" yaml:"dry_run"`
	Headless bool `mapstructure:"headless" yaml:"headless"`
	JSON     bool `mapstructure:"json" yaml:"json"`
	Verbose  int  `mapstructure:"verbose" yaml:"verbose" validate:"gte=0"`

	// CommandTimeout bounds every external command.
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout" validate:"gt=0"`

	StatePath string `mapstructure:"state_path" yaml:"state_path" validate:"required"`

	// JournalPath enables the SQLite run journal; empty disables it.
	JournalPath string `mapstructure:"journal_path" yaml:"journal_path"`

	LockDir string `mapstructure:"lock_dir" yaml:"lock_dir" validate:"required"`

	Metrics        MetricsConfig        `mapstructure:"metrics" yaml:"metrics"`
	Tracing        TracingConfig        `mapstructure:"tracing" yaml:"tracing"`
	PackageManager PackageManagerConfig `mapstructure:"package_manager" yaml:"package_manager"`
	Hardening      HardeningConfig      `mapstructure:"hardening" yaml:"hardening"`
	Update         UpdateConfig         `mapstructure:"update" yaml:"update"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile is the node_exporter textfile collector output; empty disables metrics.
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Exporter string `mapstructure:"exporter" yaml:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure bool   `mapstructure:"insecure" yaml:"insecure"`
}

// PackageManagerConfig holds backend-agnostic package manager options.
type PackageManagerConfig struct {
	// ExtraArgs is a shell-quoted string appended to mutating commands.
	ExtraArgs string `mapstructure:"extra_args" yaml:"extra_args"`
}

// Args splits ExtraArgs with shell quoting rules.
func (c PackageManagerConfig) Args() ([]string, error) {
	if c.ExtraArgs == "" {
		return nil, nil
	}
	args, err := shlex.Split(c.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid package_manager.extra_args: %w", err)
	}
	return args, nil
}

// HardeningConfig configures the hardening steps.
type HardeningConfig struct {
	SSHConfigPath string `mapstructure:"ssh_config_path" yaml:"ssh_config_path" validate:"required"`
	SSHPort       int    `mapstructure:"ssh_port" yaml:"ssh_port" validate:"min=1,max=65535"`

	// SSHSettings are the sshd keywords enforced by HardenSSH.
	SSHSettings map[string]string `mapstructure:"ssh_settings" yaml:"ssh_settings"`

	// AuthorizedKeysPaths replaces the default lockout check, which reads
	// ~/.ssh/authorized_keys of root and every regular login account.
	AuthorizedKeysPaths []string `mapstructure:"authorized_keys_paths" yaml:"authorized_keys_paths"`

	// PolicyPaths are extra Rego policy files or directories for sshd.
	PolicyPaths []string `mapstructure:"policy_paths" yaml:"policy_paths"`

	SysctlPath     string            `mapstructure:"sysctl_path" yaml:"sysctl_path" validate:"required"`
	SysctlSettings map[string]string `mapstructure:"sysctl_settings" yaml:"sysctl_settings"`

	UnattendedConfigPath string `mapstructure:"unattended_config_path" yaml:"unattended_config_path" validate:"required"`
}

// UpdateConfig configures the update workflow.
type UpdateConfig struct {
	// RebootDelay is how far in the future a headless reboot is scheduled.
	RebootDelay time.Duration `mapstructure:"reboot_delay" yaml:"reboot_delay" validate:"gte=0"`
}
