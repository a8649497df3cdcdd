package hardening

import (
	"context"
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/executor"
	"github.com/sysmaint/sysmaint/pkg/providers/pkgmgr"
	"github.com/sysmaint/sysmaint/pkg/workflows"
	"github.com/sysmaint/sysmaint/pkg/workflows/workflowtest"
)

const originalSSHD = "# stock\nPermitRootLogin yes\nPasswordAuthentication yes\nX11Forwarding yes\n"

// fakeProvider covers what EnableUnattendedUpgrades needs.
type fakeProvider struct {
	name      string
	installed bool
	installs  []string
}

func (p *fakeProvider) Name() string { return p.name }
func (p *fakeProvider) RefreshCache(context.Context) error { return nil }
func (p *fakeProvider) ListUpgradable(context.Context) ([]pkgmgr.Package, error) {
	return nil, nil
}
func (p *fakeProvider) SecurityUpdates(context.Context) ([]string, error) { return nil, nil }
func (p *fakeProvider) PlanUpgrade([]string, bool) engine.CommandSpec {
	return engine.Command(p.name, "upgrade")
}
func (p *fakeProvider) Upgrade(context.Context, []string, bool) (pkgmgr.UpgradeResult, error) {
	return pkgmgr.UpgradeResult{}, nil
}
func (p *fakeProvider) Install(_ context.Context, name string) error {
	p.installs = append(p.installs, name)
	return nil
}
func (p *fakeProvider) Remove(context.Context, string) error { return nil }
func (p *fakeProvider) IsInstalled(context.Context, string) (bool, error) {
	return p.installed, nil
}
func (p *fakeProvider) RebootRequired(context.Context) bool { return false }
func (p *fakeProvider) Clean(context.Context) error { return nil }

type fixture struct {
	dir        string
	passwdPath string
	sshdPath   string
	keysPath   string
	sysctlPath string
	aptPath    string
}

func newFixture(t *testing.T, withKey bool) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:        dir,
		passwdPath: filepath.Join(dir, "passwd"),
		sshdPath:   filepath.Join(dir, "sshd_config"),
		keysPath:   filepath.Join(dir, "authorized_keys"),
		sysctlPath: filepath.Join(dir, "99-sysmaint.conf"),
		aptPath:    filepath.Join(dir, "20auto-upgrades"),
	}
	require.NoError(t, os.WriteFile(f.sshdPath, []byte(originalSSHD), 0o600))
	require.NoError(t, os.WriteFile(f.passwdPath, []byte("root:x:0:0:root:"+filepath.Join(dir, "root")+":/bin/bash\n"), 0o644))

	if withKey {
		writeAuthorizedKey(t, f.keysPath)
	}
	return f
}

// writeAuthorizedKey writes a fresh ed25519 public key to path.
func writeAuthorizedKey(t *testing.T, path string) {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, ssh.MarshalAuthorizedKey(key), 0o600))
}

func (f fixture) config() Config {
	return Config{
		SSH: SSHConfig{
			ConfigPath: f.sshdPath,
			Settings: map[string]string{
				"PermitRootLogin":        "no",
				"PasswordAuthentication": "no",
				"X11Forwarding":          "no",
				"MaxAuthTries":           "3",
			},
			AuthorizedKeysPaths: []string{f.keysPath},
			PasswdPath:          f.passwdPath,
		},
		SysctlPath:          f.sysctlPath,
		SysctlSettings:      map[string]string{"net.ipv4.tcp_syncookies": "1", "net.ipv4.conf.all.rp_filter": "1"},
		AptAutoUpgradesPath: f.aptPath,
		ManagementPort:      22,
		LockDir:             filepath.Join(f.dir, "lock"),
		LookPath:            lookPathFor("ufw"),
	}
}

func lookPathFor(available ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, a := range available {
			if a == name {
				return "/usr/sbin/" + name, nil
			}
		}
		return "", errors.New("not found")
	}
}

func runHardening(t *testing.T, env *workflowtest.Env, p pkgmgr.Provider, cfg Config, sel Selection) engine.WorkflowOutcome {
	t.Helper()
	wf, err := New(env.Deps, p, nil, cfg, sel)
	require.NoError(t, err)
	return wf.Run(context.Background())
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestSSHOnlyRunsOnlyHardenSSH(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	f := newFixture(t, true)
	p := &fakeProvider{name: "apt"}

	outcome := runHardening(t, env, p, f.config(), Selection{SSHOnly: true})

	assert.Equal(t, engine.StatusApplied, outcome.Status)
	assert.Equal(t, 1, outcome.Counts[CountStepsRun])
	assert.Equal(t, 1, outcome.Counts[CountStepsSucceeded])
	assert.Empty(t, p.installs)
	assert.False(t, env.Runner.Called("sysctl"))
	assert.False(t, env.Runner.Called("ufw"))
	assert.NoFileExists(t, f.sysctlPath)

	config := readFile(t, f.sshdPath)
	assert.Contains(t, config, "PermitRootLogin no\n")
	assert.Contains(t, config, "PasswordAuthentication no\n")
	assert.Contains(t, config, "MaxAuthTries 3\n")
	assert.Equal(t, originalSSHD, readFile(t, f.sshdPath+BackupSuffix))
	assert.True(t, env.Runner.Called("sshd -t -f "+f.sshdPath))
	assert.True(t, env.Runner.Called("sshd -T -f "+f.sshdPath))
	assert.True(t, env.Runner.Called("systemctl reload sshd"))

	requests := env.Gate.Requests()
	require.Len(t, requests, 1)
	assert.True(t, requests[0].Reversible)
}

func TestSSHValidationFailureRollsBack(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	env.Runner.On("sshd -t", executor.Result{ExitCode: 255, Stderr: "line 3: Bad configuration option"})
	f := newFixture(t, true)

	outcome := runHardening(t, env, &fakeProvider{name: "apt"}, f.config(), Selection{SSHOnly: true})

	assert.Equal(t, engine.StatusPartialFailure, outcome.Status)
	assert.Equal(t, engine.ExitPartialFailure, outcome.ExitCode())
	assert.Equal(t, 1, outcome.Counts[CountStepsFailed])
	assert.Equal(t, originalSSHD, readFile(t, f.sshdPath))
	assert.False(t, env.Runner.Called("systemctl reload"))

	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, StepHardenSSH, outcome.Failures[0].Step)
	assert.Equal(t, engine.StepFailed, outcome.Failures[0].Result)
	assert.True(t, engine.IsKind(outcome.Err, engine.KindValidationFailed))
	assert.NotEmpty(t, env.EventsWithPrefix(t, "sshd configuration rolled back"))
}

func TestSSHPolicyViolationRollsBack(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	f := newFixture(t, true)
	cfg := f.config()
	cfg.SSH.Settings["MaxAuthTries"] = "10"

	outcome := runHardening(t, env, &fakeProvider{name: "apt"}, cfg, Selection{SSHOnly: true})

	assert.Equal(t, engine.StatusPartialFailure, outcome.Status)
	assert.Equal(t, 1, outcome.Counts[CountStepsFailed])
	assert.Equal(t, originalSSHD, readFile(t, f.sshdPath))
	assert.Contains(t, outcome.Err.Error(), "MaxAuthTries")
}

func TestSSHReloadFailureRollsBack(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	env.Runner.On("systemctl reload", executor.Result{ExitCode: 5, Stderr: "Unit not found."})
	f := newFixture(t, true)

	outcome := runHardening(t, env, &fakeProvider{name: "apt"}, f.config(), Selection{SSHOnly: true})

	assert.Equal(t, 1, outcome.Counts[CountStepsFailed])
	assert.Equal(t, originalSSHD, readFile(t, f.sshdPath))
	assert.True(t, env.Runner.Called("systemctl reload sshd"))
	assert.True(t, env.Runner.Called("systemctl reload ssh"))
}

func TestSSHLockoutGuardKeepsPasswordAuthentication(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	f := newFixture(t, false)

	outcome := runHardening(t, env, &fakeProvider{name: "apt"}, f.config(), Selection{SSHOnly: true})

	assert.Equal(t, engine.StatusApplied, outcome.Status)
	config := readFile(t, f.sshdPath)
	assert.Contains(t, config, "PasswordAuthentication yes\n")
	assert.Contains(t, config, "PermitRootLogin no\n")
	assert.NotEmpty(t, env.EventsWithPrefix(t, "no usable authorized keys found"))
}

func TestSSHAlreadyHardenedIsNoop(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	f := newFixture(t, true)
	cfg := f.config()

	first := runHardening(t, env, &fakeProvider{name: "apt"}, cfg, Selection{SSHOnly: true})
	require.Equal(t, engine.StatusApplied, first.Status)
	hardened := readFile(t, f.sshdPath)
	requests := len(env.Gate.Requests())
	reloads := env.Runner.Count("systemctl reload")

	second := runHardening(t, env, &fakeProvider{name: "apt"}, cfg, Selection{SSHOnly: true})

	assert.Equal(t, engine.StatusApplied, second.Status)
	assert.Equal(t, hardened, readFile(t, f.sshdPath))
	assert.Len(t, env.Gate.Requests(), requests)
	assert.Equal(t, reloads, env.Runner.Count("systemctl reload"))
	assert.Equal(t, originalSSHD, readFile(t, f.sshdPath+BackupSuffix))
}

func TestSSHExistingBackupIsKept(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	f := newFixture(t, true)
	require.NoError(t, os.WriteFile(f.sshdPath+BackupSuffix, []byte("# older backup\n"), 0o600))

	runHardening(t, env, &fakeProvider{name: "apt"}, f.config(), Selection{SSHOnly: true})

	assert.Equal(t, "# older backup\n", readFile(t, f.sshdPath+BackupSuffix))
}

func TestSSHDeclinedIsSkipped(t *testing.T) {
	gate := workflowtest.NewGate(engine.Proceed).Answer("Harden", engine.Skip)
	env := workflowtest.NewEnv(t, workflowtest.Options{Gate: gate})
	f := newFixture(t, true)

	outcome := runHardening(t, env, &fakeProvider{name: "apt"}, f.config(), Selection{SSHOnly: true})

	assert.Equal(t, engine.StatusApplied, outcome.Status)
	assert.Equal(t, 1, outcome.Counts[CountStepsSkipped])
	assert.Equal(t, 0, outcome.Counts[CountStepsFailed])
	assert.Equal(t, originalSSHD, readFile(t, f.sshdPath))
	assert.NoFileExists(t, f.sshdPath+BackupSuffix)
}

func TestSSHDryRunLeavesConfigUntouched(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{DryRun: true})
	f := newFixture(t, true)

	outcome := runHardening(t, env, &fakeProvider{name: "apt"}, f.config(), Selection{SSHOnly: true})

	assert.Equal(t, engine.StatusApplied, outcome.Status)
	assert.Equal(t, originalSSHD, readFile(t, f.sshdPath))
	assert.NoFileExists(t, f.sshdPath+BackupSuffix)
	assert.False(t, env.Runner.Called("sshd -t"))
	assert.False(t, env.Runner.Called("systemctl reload"))
	assert.NotEmpty(t, env.EventsWithPrefix(t, "would execute: systemctl reload sshd"))
	assert.Empty(t, env.State.Records)
}

func TestFirewallOnlyDeclinedDenyStillAllowsPort(t *testing.T) {
	gate := workflowtest.NewGate(engine.Proceed).Answer("Deny incoming", engine.Skip)
	env := workflowtest.NewEnv(t, workflowtest.Options{Gate: gate})
	f := newFixture(t, true)

	outcome := runHardening(t, env, &fakeProvider{name: "apt"}, f.config(), Selection{FirewallOnly: true})

	assert.Equal(t, engine.StatusApplied, outcome.Status)
	assert.Equal(t, 0, outcome.Counts[CountStepsFailed])
	assert.Equal(t, 1, outcome.Counts[CountStepsSkipped])
	assert.True(t, env.Runner.Called("ufw allow 22/tcp"))
	assert.False(t, env.Runner.Called("ufw default"))
	assert.False(t, env.Runner.Called("ufw --force enable"))
	assert.Equal(t, originalSSHD, readFile(t, f.sshdPath))

	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, "SKIPPED ConfigureFirewall: operator declined default-deny firewall policy", outcome.Failures[0].String())
}

func TestFirewallUFWAllowsBeforeDeny(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	f := newFixture(t, true)

	outcome := runHardening(t, env, &fakeProvider{name: "apt"}, f.config(), Selection{FirewallOnly: true})

	assert.Equal(t, engine.StatusApplied, outcome.Status)
	assert.Equal(t, []string{
		"ufw allow 22/tcp",
		"ufw default deny incoming",
		"ufw --force enable",
	}, env.Runner.Calls())
	for _, req := range env.Gate.Requests() {
		assert.False(t, req.Reversible, req.Description)
	}
}

func TestFirewallFirewalldOffline(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	env.Runner.On("systemctl is-active --quiet firewalld", executor.Result{ExitCode: 3})
	f := newFixture(t, true)
	cfg := f.config()
	cfg.LookPath = lookPathFor("firewall-cmd")
	cfg.ManagementPort = 2222

	outcome := runHardening(t, env, &fakeProvider{name: "dnf"}, cfg, Selection{FirewallOnly: true})

	assert.Equal(t, engine.StatusApplied, outcome.Status)
	assert.Equal(t, []string{
		"systemctl is-active --quiet firewalld",
		"firewall-offline-cmd --zone=public --add-port=2222/tcp",
		"systemctl enable --now firewalld",
		"firewall-cmd --permanent --zone=public --set-target=DROP",
		"firewall-cmd --reload",
	}, env.Runner.Calls())
}

func TestAllStepsAccumulateFailures(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	f := newFixture(t, true)
	cfg := f.config()
	cfg.LookPath = lookPathFor()
	p := &fakeProvider{name: "apt"}

	outcome := runHardening(t, env, p, cfg, Selection{})

	assert.Equal(t, engine.StatusPartialFailure, outcome.Status)
	assert.Equal(t, 4, outcome.Counts[CountStepsRun])
	assert.Equal(t, 3, outcome.Counts[CountStepsSucceeded])
	assert.Equal(t, 1, outcome.Counts[CountStepsFailed])
	assert.ErrorIs(t, outcome.Err, ErrNoFirewall)

	assert.Equal(t, []string{"unattended-upgrades"}, p.installs)
	assert.Equal(t, AptAutoUpgrades, readFile(t, f.aptPath))
	assert.Equal(t, "# Managed by sysmaint. Local changes are overwritten.\n"+
		"net.ipv4.conf.all.rp_filter = 1\n"+
		"net.ipv4.tcp_syncookies = 1\n", readFile(t, f.sysctlPath))
	assert.True(t, env.Runner.Called("sysctl --system"))

	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, StepConfigureFirewall, outcome.Failures[0].Step)

	require.Len(t, env.State.Records, 1)
	assert.Equal(t, engine.StatusPartialFailure, env.State.Records[0].Status)
	assert.Equal(t, engine.ExitPartialFailure, env.State.Records[0].ExitCode)
}

func TestSkipSelectors(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	f := newFixture(t, true)

	outcome := runHardening(t, env, &fakeProvider{name: "apt"}, f.config(), Selection{SkipSSH: true, SkipFirewall: true})

	assert.Equal(t, engine.StatusApplied, outcome.Status)
	assert.Equal(t, 2, outcome.Counts[CountStepsRun])
	assert.Equal(t, originalSSHD, readFile(t, f.sshdPath))
	assert.False(t, env.Runner.Called("ufw"))
}

func TestUnattendedUpgrades(t *testing.T) {
	t.Run("dnf already enabled", func(t *testing.T) {
		env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
		p := &fakeProvider{name: "dnf", installed: true}
		u := &unattendedUpgrades{provider: p, exec: env.Deps.Exec, gate: env.Gate, services: services{exec: env.Deps.Exec}}

		err := u.Run(context.Background(), env.Deps.Telemetry.Logger)

		assert.NoError(t, err)
		assert.Empty(t, env.Gate.Requests())
		assert.False(t, env.Runner.Called("systemctl enable"))
	})

	t.Run("dnf enables timer", func(t *testing.T) {
		env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
		env.Runner.On("systemctl is-active", executor.Result{ExitCode: 3})
		p := &fakeProvider{name: "dnf"}
		u := &unattendedUpgrades{provider: p, exec: env.Deps.Exec, gate: env.Gate, services: services{exec: env.Deps.Exec}}

		err := u.Run(context.Background(), env.Deps.Telemetry.Logger)

		assert.NoError(t, err)
		assert.Equal(t, []string{"dnf-automatic"}, p.installs)
		assert.True(t, env.Runner.Called("systemctl enable --now dnf-automatic.timer"))
	})

	for _, backend := range []string{"pacman", "zypper"} {
		t.Run(backend+" is skipped", func(t *testing.T) {
			env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
			u := &unattendedUpgrades{provider: &fakeProvider{name: backend}, exec: env.Deps.Exec, gate: env.Gate}

			err := u.Run(context.Background(), env.Deps.Telemetry.Logger)

			assert.True(t, workflows.IsSkipped(err))
		})
	}
}

func TestSysctlUnchangedIsNoop(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	path := filepath.Join(t.TempDir(), "99-sysmaint.conf")
	settings := map[string]string{"kernel.kptr_restrict": "2"}
	require.NoError(t, os.WriteFile(path, renderSysctl(settings), 0o644))
	s := &sysctlBaseline{path: path, settings: settings, exec: env.Deps.Exec, gate: env.Gate}

	require.NoError(t, s.Run(context.Background(), env.Deps.Telemetry.Logger))

	assert.False(t, env.Runner.Called("sysctl"))
	assert.Empty(t, env.Gate.Requests())
}

func TestSelectionValidate(t *testing.T) {
	tests := []struct {
		name    string
		sel     Selection
		wantErr bool
	}{
		{"none", Selection{}, false},
		{"skip both", Selection{SkipSSH: true, SkipFirewall: true}, false},
		{"ssh only with skip firewall", Selection{SSHOnly: true, SkipFirewall: true}, false},
		{"ssh only and skip ssh", Selection{SSHOnly: true, SkipSSH: true}, true},
		{"firewall only and skip firewall", Selection{FirewallOnly: true, SkipFirewall: true}, true},
		{"both only flags", Selection{SSHOnly: true, FirewallOnly: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sel.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCancelledRunFails(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	f := newFixture(t, true)
	wf, err := New(env.Deps, &fakeProvider{name: "apt"}, nil, f.config(), Selection{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome := wf.Run(ctx)

	assert.Equal(t, engine.StatusFailed, outcome.Status)
	assert.Equal(t, engine.ExitFailed, outcome.ExitCode())
	assert.ErrorIs(t, outcome.Err, workflows.ErrInterrupted)
	assert.Equal(t, originalSSHD, readFile(t, f.sshdPath))
}

func TestNilProviderFailsOnlyUnattended(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	f := newFixture(t, true)

	outcome := runHardening(t, env, nil, f.config(), Selection{SkipSSH: true, SkipFirewall: true})

	assert.Equal(t, engine.StatusPartialFailure, outcome.Status)
	assert.Equal(t, 2, outcome.Counts[CountStepsRun])
	assert.Equal(t, 1, outcome.Counts[CountStepsSucceeded])
	assert.Equal(t, 1, outcome.Counts[CountStepsFailed])
	assert.True(t, engine.IsKind(outcome.Err, engine.KindBackendUnavailable))
	assert.True(t, env.Runner.Called("sysctl --system"))

	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, StepEnableUnattendedUpgrades, outcome.Failures[0].Step)
}

func TestSSHLockoutGuardIgnoresRootKeysWhenRootLoginDisabled(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	f := newFixture(t, false)
	writeAuthorizedKey(t, filepath.Join(f.dir, "root", ".ssh", "authorized_keys"))
	cfg := f.config()
	cfg.SSH.AuthorizedKeysPaths = nil

	outcome := runHardening(t, env, &fakeProvider{name: "apt"}, cfg, Selection{SSHOnly: true})

	assert.Equal(t, engine.StatusApplied, outcome.Status)
	config := readFile(t, f.sshdPath)
	assert.Contains(t, config, "PermitRootLogin no\n")
	assert.Contains(t, config, "PasswordAuthentication yes\n")
	assert.NotEmpty(t, env.EventsWithPrefix(t, "no usable authorized keys found"))
}

func TestSSHLockoutGuardCountsRootKeysWhenRootMayLogIn(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	f := newFixture(t, false)
	writeAuthorizedKey(t, filepath.Join(f.dir, "root", ".ssh", "authorized_keys"))
	cfg := f.config()
	cfg.SSH.AuthorizedKeysPaths = nil
	cfg.SSH.Settings["PermitRootLogin"] = "prohibit-password"

	outcome := runHardening(t, env, &fakeProvider{name: "apt"}, cfg, Selection{SSHOnly: true})

	assert.Equal(t, engine.StatusApplied, outcome.Status)
	config := readFile(t, f.sshdPath)
	assert.Contains(t, config, "PermitRootLogin prohibit-password\n")
	assert.Contains(t, config, "PasswordAuthentication no\n")
}

func TestSSHLockoutGuardUsesRegularAccountKeys(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	f := newFixture(t, false)
	aliceHome := filepath.Join(f.dir, "home", "alice")
	require.NoError(t, os.WriteFile(f.passwdPath, []byte(
		"root:x:0:0:root:"+filepath.Join(f.dir, "root")+":/bin/bash\n"+
			"alice:x:1000:1000:Alice:"+aliceHome+":/bin/bash\n"), 0o644))
	writeAuthorizedKey(t, filepath.Join(aliceHome, ".ssh", "authorized_keys"))
	cfg := f.config()
	cfg.SSH.AuthorizedKeysPaths = nil

	outcome := runHardening(t, env, &fakeProvider{name: "apt"}, cfg, Selection{SSHOnly: true})

	assert.Equal(t, engine.StatusApplied, outcome.Status)
	assert.Contains(t, readFile(t, f.sshdPath), "PasswordAuthentication no\n")
}

func TestAuthorizedKeyFiles(t *testing.T) {
	dir := t.TempDir()
	passwd := filepath.Join(dir, "passwd")
	require.NoError(t, os.WriteFile(passwd, []byte(`# local accounts
root:x:0:0:root:/root:/bin/bash
daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin
svc:x:998:998::/var/lib/svc:/bin/sh
alice:x:1000:1000:Alice:/home/alice:/bin/bash
nobody:x:65534:65534:nobody:/nonexistent:/usr/sbin/nologin
ops:x:1001:1001::/home/ops:/bin/false
broken:x:abc:1::/home/broken:/bin/sh
`), 0o644))
	logger := workflowtest.NewEnv(t, workflowtest.Options{}).Deps.Logger("test")

	files := authorizedKeyFiles(nil, passwd, logger)
	assert.Equal(t, []keyFile{
		{path: "/root/.ssh/authorized_keys", root: true},
		{path: "/home/alice/.ssh/authorized_keys"},
	}, files)

	files = authorizedKeyFiles([]string{"/root/.ssh/authorized_keys2", "/home/alice/.ssh/authorized_keys", "/rootless/keys"}, passwd, logger)
	assert.Equal(t, []keyFile{
		{path: "/root/.ssh/authorized_keys2", root: true},
		{path: "/home/alice/.ssh/authorized_keys"},
		{path: "/rootless/keys"},
	}, files)
}

func TestRootKeyLoginAllowed(t *testing.T) {
	for value, want := range map[string]bool{
		"":                     true,
		"yes":                  true,
		"prohibit-password":    true,
		"without-password":     true,
		"no":                   false,
		"NO":                   false,
		"forced-commands-only": false,
	} {
		assert.Equal(t, want, rootKeyLoginAllowed(value), value)
	}
}

func TestSSHIncludedOverrideRollsBack(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	f := newFixture(t, true)
	dropIns := filepath.Join(f.dir, "sshd_config.d")
	require.NoError(t, os.MkdirAll(dropIns, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dropIns, "50-cloud-init.conf"), []byte("PasswordAuthentication yes\n"), 0o600))
	original := "Include " + dropIns + "/*.conf\n" + originalSSHD
	require.NoError(t, os.WriteFile(f.sshdPath, []byte(original), 0o600))

	env.Runner.On("sshd -T -f "+f.sshdPath, executor.Result{Stdout: "port 22\n" +
		"permitrootlogin no\n" +
		"passwordauthentication yes\n" +
		"x11forwarding no\n" +
		"maxauthtries 3\n"})

	outcome := runHardening(t, env, &fakeProvider{name: "apt"}, f.config(), Selection{SSHOnly: true})

	assert.Equal(t, engine.StatusPartialFailure, outcome.Status)
	assert.Equal(t, 1, outcome.Counts[CountStepsFailed])
	assert.True(t, engine.IsKind(outcome.Err, engine.KindValidationFailed))
	assert.Contains(t, outcome.Err.Error(), "passwordauthentication")
	assert.Equal(t, original, readFile(t, f.sshdPath))
	assert.False(t, env.Runner.Called("systemctl reload"))
}

func TestSSHEffectiveValuesFeedPolicy(t *testing.T) {
	env := workflowtest.NewEnv(t, workflowtest.Options{Headless: true})
	f := newFixture(t, true)
	original := "MaxAuthTries 3\n" + originalSSHD
	require.NoError(t, os.WriteFile(f.sshdPath, []byte(original), 0o600))
	cfg := f.config()
	delete(cfg.SSH.Settings, "MaxAuthTries")

	env.Runner.On("sshd -T -f "+f.sshdPath, executor.Result{Stdout: "permitrootlogin no\n" +
		"passwordauthentication no\n" +
		"x11forwarding no\n" +
		"maxauthtries 10\n"})

	outcome := runHardening(t, env, &fakeProvider{name: "apt"}, cfg, Selection{SSHOnly: true})

	assert.Equal(t, engine.StatusPartialFailure, outcome.Status)
	assert.Contains(t, outcome.Err.Error(), "MaxAuthTries")
	assert.Equal(t, original, readFile(t, f.sshdPath))
}
