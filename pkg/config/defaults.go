package config

import "time"

// Default locations.
const (
	DefaultConfigPath  = "/etc/sysmaint/config.yaml"
	DefaultStatePath   = "/var/lib/sysmaint/last_run.json"
	DefaultJournalPath = "/var/lib/sysmaint/journal.db"
	DefaultLockDir     = "/run/lock/sysmaint"
)

// DefaultSSHSettings is the sshd baseline written by HardenSSH.
func DefaultSSHSettings() map[string]string {
	return map[string]string{
		"PermitRootLogin":        "no",
		"PasswordAuthentication": "no",
		"X11Forwarding":          "no",
		"MaxAuthTries":           "3",
		"ClientAliveInterval":    "300",
		"ClientAliveCountMax":    "2",
	}
}

// DefaultSysctlSettings is the kernel network baseline.
func DefaultSysctlSettings() map[string]string {
	return map[string]string{
		"net.ipv4.conf.all.rp_filter":                "1",
		"net.ipv4.conf.default.rp_filter":            "1",
		"net.ipv4.conf.all.accept_redirects":         "0",
		"net.ipv4.conf.default.accept_redirects":     "0",
		"net.ipv6.conf.all.accept_redirects":         "0",
		"net.ipv4.conf.all.send_redirects":           "0",
		"net.ipv4.conf.all.accept_source_route":      "0",
		"net.ipv6.conf.all.accept_source_route":      "0",
		"net.ipv4.tcp_syncookies":                    "1",
		"net.ipv4.conf.all.log_martians":             "1",
		"net.ipv4.icmp_echo_ignore_broadcasts":       "1",
		"net.ipv4.icmp_ignore_bogus_error_responses": "1",
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CommandTimeout: 30 * time.Minute,
		StatePath:      DefaultStatePath,
		JournalPath:    DefaultJournalPath,
		LockDir:        DefaultLockDir,
		Tracing: TracingConfig{
			Exporter: "none",
			Endpoint: "localhost:4317",
			Insecure: true,
		},
		Hardening: HardeningConfig{
			SSHConfigPath:        "/etc/ssh/sshd_config",
			SSHPort:              22,
			SSHSettings:          DefaultSSHSettings(),
			SysctlPath:           "/etc/sysctl.d/99-sysmaint.conf",
			SysctlSettings:       DefaultSysctlSettings(),
			UnattendedConfigPath: "/etc/apt/apt.conf.d/20auto-upgrades",
		},
		Update: UpdateConfig{
			RebootDelay: 5 * time.Minute,
		},
	}
}
