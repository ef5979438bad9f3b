package mountmgr

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mingyue/diskman/runner"
)

type call struct {
	name string
	args []string
	opts runner.Options
}

// fakeRunner returns canned results keyed by command name and records every
// invocation.
type fakeRunner struct {
	results map[string]*runner.Result
	errs    map[string]error
	calls   []call
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string, opts runner.Options) (*runner.Result, error) {
	f.calls = append(f.calls, call{name: name, args: args, opts: opts})
	res := f.results[name]
	if res == nil {
		res = &runner.Result{}
	}
	return res, f.errs[name]
}

func testManager(t *testing.T, fake *fakeRunner) *Manager {
	t.Helper()
	dir := t.TempDir()
	m := NewManager(fake)
	m.Fstab = Table{Path: filepath.Join(dir, "fstab")}
	m.MountsPath = filepath.Join(dir, "mounts")
	m.SmbConfPath = filepath.Join(dir, "smb.conf")
	m.CredentialDir = dir
	return m
}

func TestMountRejectsBadInputBeforeSubprocess(t *testing.T) {
	fake := &fakeRunner{}
	m := testManager(t, fake)

	cases := []struct {
		device, mountPoint string
	}{
		{"/dev/sda; rm -rf /", "/mnt/data"},
		{"sda1", "/mnt/data"},
		{"", "/mnt/data"},
		{"/dev/sda1", "relative/path"},
		{"/dev/sda1", ""},
		{"/dev/sda1", "/mnt/da ta"},
	}
	for _, c := range cases {
		res := m.Mount(context.Background(), c.device, c.mountPoint, "", "")
		if res.Success {
			t.Errorf("Mount(%q, %q) accepted", c.device, c.mountPoint)
		}
	}
	if len(fake.calls) != 0 {
		t.Fatalf("validation failures must not spawn subprocesses, got %d calls", len(fake.calls))
	}
}

func TestMountBuildsArgumentList(t *testing.T) {
	fake := &fakeRunner{}
	m := testManager(t, fake)
	mp := filepath.Join(t.TempDir(), "data")

	res := m.Mount(context.Background(), "/dev/sdb1", mp, "ext4", "noatime")
	if !res.Success {
		t.Fatalf("unexpected failure: %s %s", res.Message, res.Detail)
	}

	if len(fake.calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(fake.calls))
	}
	c := fake.calls[0]
	if c.name != "mount" {
		t.Errorf("ran %q, want mount", c.name)
	}
	if !c.opts.Sudo {
		t.Error("mount must run with privilege escalation")
	}
	want := []string{"-t", "ext4", "-o", "noatime", "/dev/sdb1", mp}
	if strings.Join(c.args, " ") != strings.Join(want, " ") {
		t.Errorf("args = %v, want %v", c.args, want)
	}
}

func TestMountClassifiesPermissionErrors(t *testing.T) {
	cases := []struct {
		stderr      string
		wantMessage string
		wantDetail  string
	}{
		{
			stderr:      "sudo: a password is required",
			wantMessage: "passwordless sudo",
			wantDetail:  "sudoers",
		},
		{
			stderr:      "user mingyue is not allowed to execute '/bin/mount' as root, sudo denied",
			wantMessage: "passwordless sudo",
			wantDetail:  "sudoers",
		},
		{
			stderr:      "mount: cannot set up: no new privileges flag is set",
			wantMessage: "NoNewPrivileges",
			wantDetail:  "daemon-reload",
		},
		{
			stderr:      "mount: /mnt/data: Operation not permitted",
			wantMessage: "capabilities",
			wantDetail:  "AmbientCapabilities=CAP_SYS_ADMIN",
		},
	}

	for _, c := range cases {
		fake := &fakeRunner{
			results: map[string]*runner.Result{"mount": {ExitCode: 1, Stderr: c.stderr}},
			errs:    map[string]error{"mount": errors.New("mount: exit status 1")},
		}
		m := testManager(t, fake)

		res := m.Mount(context.Background(), "/dev/sdb1", filepath.Join(t.TempDir(), "x"), "", "")
		if res.Success {
			t.Fatalf("stderr %q: expected failure", c.stderr)
		}
		if !strings.Contains(res.Message, c.wantMessage) {
			t.Errorf("stderr %q: message = %q, want substring %q", c.stderr, res.Message, c.wantMessage)
		}
		if !strings.Contains(res.Detail, c.wantDetail) {
			t.Errorf("stderr %q: detail = %q, want substring %q", c.stderr, res.Detail, c.wantDetail)
		}
	}
}

func TestMountUnknownErrorPassesStderrThrough(t *testing.T) {
	fake := &fakeRunner{
		results: map[string]*runner.Result{"mount": {ExitCode: 32, Stderr: "mount: unknown filesystem type 'zzfs'"}},
		errs:    map[string]error{"mount": errors.New("mount: exit status 32")},
	}
	m := testManager(t, fake)

	res := m.Mount(context.Background(), "/dev/sdb1", filepath.Join(t.TempDir(), "x"), "zzfs", "")
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Detail, "unknown filesystem type 'zzfs'") {
		t.Errorf("detail = %q, want raw stderr passthrough", res.Detail)
	}
}

func TestMountPersistentWritesUUIDEntry(t *testing.T) {
	fake := &fakeRunner{
		results: map[string]*runner.Result{
			"lsblk": {Stdout: "9a3c-11ff ext4\n"},
		},
	}
	m := testManager(t, fake)
	mp := filepath.Join(t.TempDir(), "data")

	res := m.MountPersistent(context.Background(), "/dev/sdb1", mp, "", "")
	if !res.Success {
		t.Fatalf("unexpected failure: %s %s", res.Message, res.Detail)
	}
	if res.Warning != "" {
		t.Fatalf("unexpected warning: %s", res.Warning)
	}

	entry := "UUID=9a3c-11ff " + mp + " ext4 defaults 0 2"
	exists, err := m.Fstab.HasExactLine(entry)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatalf("expected entry %q in table", entry)
	}

	// mounting the same device again must not duplicate the entry
	res = m.MountPersistent(context.Background(), "/dev/sdb1", mp, "", "")
	if !res.Success || !strings.Contains(res.Message, "already present") {
		t.Fatalf("second mount result = %+v, want already-present success", res)
	}

	lines, err := m.Fstab.Lines()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 {
		t.Errorf("got %d table lines, want 1: %v", len(lines), lines)
	}
}

func TestMountPersistentFallsBackToDevicePath(t *testing.T) {
	fake := &fakeRunner{
		errs: map[string]error{"lsblk": errors.New("lsblk: exit status 1")},
	}
	m := testManager(t, fake)
	mp := filepath.Join(t.TempDir(), "data")

	res := m.MountPersistent(context.Background(), "/dev/sdb1", mp, "", "")
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Message)
	}

	exists, err := m.Fstab.HasExactLine("/dev/sdb1 " + mp + " auto defaults 0 2")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("expected device-path fallback entry")
	}
}

func TestMountPersistentPersistFailureIsWarningNotFailure(t *testing.T) {
	fake := &fakeRunner{}
	m := testManager(t, fake)
	// point the table at a directory that does not exist so the atomic
	// replace fails
	m.Fstab = Table{Path: filepath.Join(t.TempDir(), "missing", "fstab")}
	mp := filepath.Join(t.TempDir(), "data")

	res := m.MountPersistent(context.Background(), "/dev/sdb1", mp, "ext4", "")
	if !res.Success {
		t.Fatalf("mount itself succeeded, result must carry Success: %+v", res)
	}
	if res.Warning == "" {
		t.Fatal("expected a persistence warning")
	}
	if !strings.Contains(res.Warning, "/dev/sdb1") {
		t.Errorf("warning should carry the entry text, got %q", res.Warning)
	}
}

func TestUnmount(t *testing.T) {
	fake := &fakeRunner{}
	m := testManager(t, fake)

	if res := m.Unmount(context.Background(), "relative/path"); res.Success {
		t.Error("relative mount point accepted")
	}
	if len(fake.calls) != 0 {
		t.Fatal("validation failure must not spawn a subprocess")
	}

	res := m.Unmount(context.Background(), "/mnt/data")
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Message)
	}
	c := fake.calls[0]
	if c.name != "umount" || len(c.args) != 1 || c.args[0] != "/mnt/data" {
		t.Errorf("call = %s %v, want umount [/mnt/data]", c.name, c.args)
	}
	if !c.opts.Sudo {
		t.Error("umount must run with privilege escalation")
	}
}

func TestClassifyPermissionErrorUnrelatedStderr(t *testing.T) {
	if _, ok := classifyPermissionError("mount", "mount: /dev/sdz1: special device does not exist"); ok {
		t.Error("unrelated stderr classified as a permission error")
	}
}
