package pkgmgr

import (
	debversion "github.com/knqyf263/go-deb-version"
	rpmversion "github.com/knqyf263/go-rpm-version"
)

// debNewer reports whether candidate sorts after current in Debian version
// order. Unparseable or missing versions count as newer so that the package
// manager, not this filter, has the last word.
func debNewer(current, candidate string) bool {
	if current == "" || candidate == "" {
		return true
	}
	cur, err := debversion.NewVersion(current)
	if err != nil {
		return true
	}
	cand, err := debversion.NewVersion(candidate)
	if err != nil {
		return true
	}
	return cur.LessThan(cand)
}

// rpmNewer reports whether candidate sorts after current in rpm version
// order. pacman's epoch:version-release scheme orders the same way.
func rpmNewer(current, candidate string) bool {
	if current == "" || candidate == "" {
		return true
	}
	return rpmversion.NewVersion(current).LessThan(rpmversion.NewVersion(candidate))
}

// filterNewer drops candidates that are not newer than the installed version.
func filterNewer(pkgs []Package, newer func(current, candidate string) bool) []Package {
	out := pkgs[:0]
	for _, p := range pkgs {
		if newer(p.CurrentVersion, p.CandidateVersion) {
			out = append(out, p)
		}
	}
	return out
}
