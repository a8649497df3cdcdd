// Package policy evaluates sshd settings against Rego policies using the Open
// Policy Agent.
//
// A built-in baseline is always loaded. It requires root login to be
// disabled, password authentication to be disabled whenever an authorized key
// exists, MaxAuthTries to be at most 6 and X11 forwarding to be off. Operators
// can add their own .rego or .json policy files; every policy must define a
// deny set in its package:
//
//	package site.sshd
//
//	deny contains msg if {
//		input.sshd.allowtcpforwarding == "yes"
//		msg := "AllowTcpForwarding must be disabled"
//	}
//
// The input document has the shape:
//
//	{
//	  "sshd": {"permitrootlogin": "no", ...},  // keywords lowercased
//	  "authorized_keys": 2
//	}
//
// Violations with error or critical severity make the result disallowed;
// Result.Err converts them into an engine ValidationFailed error.
package policy
