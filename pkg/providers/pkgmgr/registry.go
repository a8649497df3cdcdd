package pkgmgr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/executor"
)

// factory builds a backend.
type factory func(exec *executor.Executor, opts Options) Provider

var backends = map[string]factory{
	"apt":     func(e *executor.Executor, o Options) Provider { return NewApt(e, o) },
	"apt-get": func(e *executor.Executor, o Options) Provider { return NewApt(e, o) },
	"dnf":     func(e *executor.Executor, o Options) Provider { return NewDnf("dnf", e, o) },
	"yum":     func(e *executor.Executor, o Options) Provider { return NewDnf("yum", e, o) },
	"pacman":  func(e *executor.Executor, o Options) Provider { return NewPacman(e, o) },
	"zypper":  func(e *executor.Executor, o Options) Provider { return NewZypper(e, o) },
}

// Resolve returns the backend for an identifier such as "apt" or "dnf".
func Resolve(backend string, exec *executor.Executor, opts Options) (Provider, error) {
	id := strings.ToLower(strings.TrimSpace(backend))
	if id == "" {
		return nil, engine.NewBackendUnavailable("no package-manager backend configured", nil)
	}
	f, ok := backends[id]
	if !ok {
		return nil, engine.NewBackendUnavailable(
			fmt.Sprintf("unsupported backend %q (known: %s)", backend, strings.Join(Backends(), ", ")), nil)
	}
	return f(exec, opts), nil
}

// Backends returns the known backend identifiers.
func Backends() []string {
	ids := make([]string, 0, len(backends))
	for id := range backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
