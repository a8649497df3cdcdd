package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		sshdBaselinePolicy(),
	}
}

// sshdBaselinePolicy is the hardening baseline every sshd rewrite must meet.
func sshdBaselinePolicy() Policy {
	return Policy{
		Name:        "sshd-baseline",
		Description: "Root login off, key-only auth when keys exist, bounded auth attempts, no X11 forwarding",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package sysmaint.sshd.baseline

setting(name) := lower(input.sshd[name])

setting(name) := "" if not input.sshd[name]

deny contains violation if {
	setting("permitrootlogin") != "no"
	violation := {
		"message": sprintf("PermitRootLogin must be no, got %q", [setting("permitrootlogin")]),
		"setting": "PermitRootLogin",
	}
}

deny contains violation if {
	input.authorized_keys > 0
	setting("passwordauthentication") != "no"
	violation := {
		"message": sprintf("PasswordAuthentication must be no when %d authorized key(s) exist", [input.authorized_keys]),
		"setting": "PasswordAuthentication",
	}
}

deny contains violation if {
	tries := to_number(input.sshd.maxauthtries)
	tries > 6
	violation := {
		"message": sprintf("MaxAuthTries must be at most 6, got %v", [tries]),
		"setting": "MaxAuthTries",
	}
}

deny contains violation if {
	setting("x11forwarding") == "yes"
	violation := {
		"message": "X11Forwarding must be disabled",
		"setting": "X11Forwarding",
	}
}
`,
	}
}
