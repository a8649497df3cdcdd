// Package config loads sysmaint configuration.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// YAML file (default /etc/sysmaint/config.yaml), SYSMAINT_* environment
// variables and command-line flags. Nested keys map to environment variables
// by joining the path with underscores, so hardening.ssh_port is read from
// SYSMAINT_HARDENING_SSH_PORT.
//
// Map-valued settings (hardening.ssh_settings, hardening.sysctl_settings) are
// merged key by key with their defaults; a file can override a default value
// but not remove the key.
package config
