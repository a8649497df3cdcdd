package hardening

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/sysmaint/sysmaint/pkg/telemetry"
)

// DefaultPasswdPath lists the accounts whose authorized_keys are counted.
const DefaultPasswdPath = "/etc/passwd"

// minUserUID is the first UID handed to regular accounts.
const minUserUID = 1000

var noLoginShells = []string{"/nologin", "/false", "/sync", "/shutdown", "/halt"}

// keyFile is an authorized_keys file and whether it belongs to root.
type keyFile struct {
	path string
	root bool
}

// account is a passwd entry that can log in.
type account struct {
	name string
	uid  int
	home string
}

// readAccounts parses passwd content and keeps root and regular accounts
// with a login shell.
func readAccounts(data []byte) []account {
	var out []account
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 7 {
			continue
		}
		uid, err := strconv.Atoi(fields[2])
		if err != nil || (uid != 0 && uid < minUserUID) || fields[5] == "" {
			continue
		}
		if loginDisabled(fields[6]) {
			continue
		}
		out = append(out, account{name: fields[0], uid: uid, home: fields[5]})
	}
	return out
}

func loginDisabled(shell string) bool {
	for _, suffix := range noLoginShells {
		if strings.HasSuffix(shell, suffix) {
			return true
		}
	}
	return false
}

// authorizedKeyFiles returns the key files to inspect. Explicit paths win;
// otherwise every account from passwd contributes ~/.ssh/authorized_keys.
func authorizedKeyFiles(explicit []string, passwdPath string, logger *telemetry.Logger) []keyFile {
	if passwdPath == "" {
		passwdPath = DefaultPasswdPath
	}

	var accounts []account
	data, err := os.ReadFile(passwdPath)
	if err != nil {
		logger.Warn("cannot read account database", telemetry.Fields{"path": passwdPath, "error": err.Error()})
	} else {
		accounts = readAccounts(data)
	}

	rootHome := "/root"
	for _, a := range accounts {
		if a.uid == 0 {
			rootHome = a.home
			break
		}
	}

	if len(explicit) > 0 {
		files := make([]keyFile, 0, len(explicit))
		for _, p := range explicit {
			files = append(files, keyFile{path: p, root: within(p, rootHome)})
		}
		return files
	}

	files := make([]keyFile, 0, len(accounts))
	for _, a := range accounts {
		files = append(files, keyFile{
			path: filepath.Join(a.home, ".ssh", "authorized_keys"),
			root: a.uid == 0,
		})
	}
	return files
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, "../")
}

// countAuthorizedKeys returns the number of parseable public keys across
// files, leaving out root's when root will not be allowed to log in with
// them. Missing files count as zero; unreadable ones are logged.
func countAuthorizedKeys(files []keyFile, includeRoot bool, logger *telemetry.Logger) int {
	total := 0
	for _, f := range files {
		if f.root && !includeRoot {
			logger.Debug("root login disabled; ignoring root's authorized keys", telemetry.Fields{"path": f.path})
			continue
		}

		data, err := os.ReadFile(f.path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			logger.Warn("cannot read authorized_keys", telemetry.Fields{"path": f.path, "error": err.Error()})
			continue
		}

		n := parseAuthorizedKeys(data)
		logger.Debug("authorized keys found", telemetry.Fields{"path": f.path, "count": n})
		total += n
	}
	return total
}

// rootKeyLoginAllowed reports whether a PermitRootLogin value still lets
// root log in interactively with a key.
func rootKeyLoginAllowed(value string) bool {
	switch strings.ToLower(value) {
	case "no", "forced-commands-only":
		return false
	default:
		return true
	}
}

func parseAuthorizedKeys(data []byte) int {
	n := 0
	rest := data
	for len(rest) > 0 {
		_, _, _, next, err := ssh.ParseAuthorizedKey(rest)
		if err != nil {
			break
		}
		n++
		rest = next
	}
	return n
}
