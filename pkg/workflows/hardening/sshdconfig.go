package hardening

import (
	"sort"
	"strings"
)

// canonicalKeywords spells the sshd keywords sysmaint commonly writes the way
// sshd_config(5) does. Keywords are case-insensitive, so anything else is
// written as configured.
var canonicalKeywords = map[string]string{
	"allowagentforwarding":            "AllowAgentForwarding",
	"allowgroups":                     "AllowGroups",
	"allowtcpforwarding":              "AllowTcpForwarding",
	"allowusers":                      "AllowUsers",
	"banner":                          "Banner",
	"challengeresponseauthentication": "ChallengeResponseAuthentication",
	"clientalivecountmax":             "ClientAliveCountMax",
	"clientaliveinterval":             "ClientAliveInterval",
	"kbdinteractiveauthentication":    "KbdInteractiveAuthentication",
	"logingracetime":                  "LoginGraceTime",
	"loglevel":                        "LogLevel",
	"maxauthtries":                    "MaxAuthTries",
	"maxsessions":                     "MaxSessions",
	"passwordauthentication":          "PasswordAuthentication",
	"permitemptypasswords":            "PermitEmptyPasswords",
	"permitrootlogin":                 "PermitRootLogin",
	"port":                            "Port",
	"pubkeyauthentication":            "PubkeyAuthentication",
	"usepam":                          "UsePAM",
	"x11forwarding":                   "X11Forwarding",
}

func canonicalKeyword(keyword string) string {
	if c, ok := canonicalKeywords[strings.ToLower(keyword)]; ok {
		return c
	}
	return keyword
}

// sshdEdit is one changed directive.
type sshdEdit struct {
	Keyword string
	From    string
	To      string
}

// splitDirective parses "Keyword value" or "Keyword=value". Comments and
// blank lines are not directives.
func splitDirective(line string) (keyword, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}

	end := strings.IndexAny(trimmed, " \t=")
	if end < 0 {
		return trimmed, "", true
	}
	keyword = trimmed[:end]
	value = strings.TrimLeft(trimmed[end:], " \t")
	value = strings.TrimPrefix(value, "=")
	value = strings.Join(strings.Fields(value), " ")
	return keyword, value, true
}

// parseSSHDSettings returns the global settings sshd would use: keywords are
// lowercased, the first occurrence wins, and parsing stops at the first Match
// block.
func parseSSHDSettings(content string) map[string]string {
	settings := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		keyword, value, ok := splitDirective(line)
		if !ok {
			continue
		}
		lk := strings.ToLower(keyword)
		if lk == "match" {
			break
		}
		if _, seen := settings[lk]; !seen {
			settings[lk] = value
		}
	}
	return settings
}

// rewriteSSHDConfig applies desired (lowercased keyword to value) to content.
// The first global occurrence of each keyword is rewritten in place, keeping
// its spelling and indentation; comments, ordering and Match blocks are left
// alone. Keywords not present are added before the first Match block. When
// nothing changes the original content is returned with no edits.
func rewriteSSHDConfig(content string, desired map[string]string) (string, []sshdEdit) {
	lines := strings.Split(content, "\n")
	if strings.HasSuffix(content, "\n") {
		lines = lines[:len(lines)-1]
	}

	var edits []sshdEdit
	seen := make(map[string]bool)
	matchAt := -1

	for i, line := range lines {
		keyword, value, ok := splitDirective(line)
		if !ok {
			continue
		}
		lk := strings.ToLower(keyword)
		if lk == "match" {
			matchAt = i
			break
		}
		if seen[lk] {
			continue
		}
		seen[lk] = true

		target, ok := desired[lk]
		if !ok || target == "" || value == target {
			continue
		}

		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		lines[i] = indent + keyword + " " + target
		edits = append(edits, sshdEdit{Keyword: keyword, From: value, To: target})
	}

	var missing []string
	for lk, value := range desired {
		if !seen[lk] && value != "" {
			missing = append(missing, lk)
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		return canonicalKeyword(missing[i]) < canonicalKeyword(missing[j])
	})

	if len(missing) > 0 {
		block := []string{"# Added by sysmaint"}
		for _, lk := range missing {
			keyword := canonicalKeyword(lk)
			block = append(block, keyword+" "+desired[lk])
			edits = append(edits, sshdEdit{Keyword: keyword, To: desired[lk]})
		}

		if matchAt >= 0 {
			block = append(block, "")
			rest := append(block, lines[matchAt:]...)
			lines = append(lines[:matchAt:matchAt], rest...)
		} else {
			if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) != "" {
				lines = append(lines, "")
			}
			lines = append(lines, block...)
		}
	}

	if len(edits) == 0 {
		return content, nil
	}
	return strings.Join(lines, "\n") + "\n", edits
}

// normalizeSettings lowercases keywords and trims values.
func normalizeSettings(settings map[string]string) map[string]string {
	out := make(map[string]string, len(settings))
	for k, v := range settings {
		out[strings.ToLower(strings.TrimSpace(k))] = strings.Join(strings.Fields(v), " ")
	}
	return out
}

// parseEffectiveSettings reads the "keyword value" lines printed by sshd -T.
func parseEffectiveSettings(out string) map[string]string {
	settings := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		k := strings.ToLower(fields[0])
		if _, seen := settings[k]; !seen {
			settings[k] = strings.Join(fields[1:], " ")
		}
	}
	return settings
}

// overriddenSettings returns the desired keywords, sorted, whose effective
// value differs. Keywords sshd does not report are not compared.
func overriddenSettings(desired, effective map[string]string) []string {
	var out []string
	for k, want := range desired {
		got, ok := effective[k]
		if !ok {
			continue
		}
		if canonicalValue(got) != canonicalValue(want) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func canonicalValue(v string) string {
	v = strings.ToLower(strings.Join(strings.Fields(v), " "))
	if v == "without-password" {
		return "prohibit-password"
	}
	return v
}
