package blockdev

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mingyue/diskman/runner"
)

const sampleLsblk = `{
  "blockdevices": [
    {
      "name": "sda", "type": "disk", "size": 1000204886016,
      "mountpoint": null, "fstype": null, "uuid": null, "label": null,
      "rm": false, "ro": false, "model": "WDC WD10EZEX-08W", "serial": "WD-ABC123",
      "children": [
        {
          "name": "sda1", "type": "part", "size": 1000203091968,
          "mountpoint": "/mnt/data", "fstype": "ext4",
          "uuid": "5f8a9b2c-1d3e-4f5a-9b8c-7d6e5f4a3b2c", "label": "data",
          "rm": false, "ro": false, "model": null, "serial": null
        }
      ]
    },
    {
      "name": "loop0", "type": "loop", "size": 67108864,
      "mountpoint": "/snap/core/1234", "fstype": "squashfs",
      "uuid": null, "label": null, "rm": false, "ro": true,
      "model": null, "serial": null
    },
    {
      "name": "sr0", "type": "rom", "size": 1073741312,
      "mountpoint": null, "fstype": null, "uuid": null, "label": null,
      "rm": true, "ro": false, "model": "DVD-RAM", "serial": null
    }
  ]
}`

func TestParseTree(t *testing.T) {
	devices, err := ParseTree([]byte(sampleLsblk))
	if err != nil {
		t.Fatalf("ParseTree: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("got %d root devices, want 3", len(devices))
	}

	sda := devices[0]
	if sda.DevicePath != "/dev/sda" {
		t.Errorf("device path = %q, want /dev/sda", sda.DevicePath)
	}
	if sda.Type != TypeDisk {
		t.Errorf("type = %q, want disk", sda.Type)
	}
	if sda.SizeBytes != 1000204886016 {
		t.Errorf("size = %d", sda.SizeBytes)
	}
	if sda.Model != "WDC WD10EZEX-08W" {
		t.Errorf("model = %q", sda.Model)
	}
	if sda.MountPoint != "" || sda.Ready {
		t.Error("unmounted disk should have empty mount point and not be ready")
	}
	if len(sda.Children) != 1 {
		t.Fatalf("sda children = %d, want 1", len(sda.Children))
	}

	sda1 := sda.Children[0]
	if sda1.Type != TypePart || sda1.Filesystem != "ext4" || !sda1.Ready {
		t.Errorf("unexpected partition: %+v", sda1)
	}
	if sda1.UUID != "5f8a9b2c-1d3e-4f5a-9b8c-7d6e5f4a3b2c" {
		t.Errorf("uuid = %q", sda1.UUID)
	}
}

func TestParseTreeBadJSON(t *testing.T) {
	if _, err := ParseTree([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFilterLocalExcludesLoopEvenIfMounted(t *testing.T) {
	devices, err := ParseTree([]byte(sampleLsblk))
	if err != nil {
		t.Fatalf("ParseTree: %v", err)
	}

	filtered := FilterLocal(devices)
	for _, d := range filtered {
		if d.Name == "loop0" {
			t.Error("mounted loop device must be excluded")
		}
		if d.Name == "sr0" {
			t.Error("rom device must be excluded")
		}
	}
}

func TestFilterLocalKeepsUnmountedDisk(t *testing.T) {
	devices := []Device{{Name: "sdb", DevicePath: "/dev/sdb", Type: TypeDisk}}
	filtered := FilterLocal(devices)
	if len(filtered) != 1 || filtered[0].Name != "sdb" {
		t.Fatalf("unmounted disk was filtered out: %+v", filtered)
	}
}

func TestFilterLocalKeepsMountedMapperDevice(t *testing.T) {
	devices := []Device{{
		Name:       "dm-0",
		DevicePath: "/dev/dm-0",
		Type:       TypeOther,
		MountPoint: "/",
		Ready:      true,
	}}
	if filtered := FilterLocal(devices); len(filtered) != 1 {
		t.Fatal("mounted non-virtual device should be kept")
	}
}

func TestFilterLocalDropsLoopByNamePrefix(t *testing.T) {
	// Type says disk but the name gives it away.
	devices := []Device{{Name: "loop7", DevicePath: "/dev/loop7", Type: TypeDisk}}
	if filtered := FilterLocal(devices); len(filtered) != 0 {
		t.Fatal("loop-named device must be excluded regardless of type")
	}
}

func TestFilterLocalDoesNotMutateInput(t *testing.T) {
	devices, _ := ParseTree([]byte(sampleLsblk))
	before := len(devices[0].Children)
	_ = FilterLocal(devices)
	if len(devices[0].Children) != before {
		t.Error("FilterLocal mutated its input")
	}
}

func TestFindByPath(t *testing.T) {
	devices, _ := ParseTree([]byte(sampleLsblk))
	if d := FindByPath(devices, "/dev/sda1"); d == nil || d.Name != "sda1" {
		t.Fatalf("FindByPath(/dev/sda1) = %+v", d)
	}
	if d := FindByPath(devices, "/dev/sdz"); d != nil {
		t.Fatalf("FindByPath(/dev/sdz) = %+v, want nil", d)
	}
}

// fakeRunner returns canned results per command name.
type fakeRunner struct {
	results map[string]*runner.Result
	errs    map[string]error
	calls   []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string, opts runner.Options) (*runner.Result, error) {
	f.calls = append(f.calls, name)
	if err, ok := f.errs[name]; ok {
		return &runner.Result{ExitCode: 1}, err
	}
	if res, ok := f.results[name]; ok {
		return res, nil
	}
	return &runner.Result{}, nil
}

func TestListAllDegradesToMountedVolumes(t *testing.T) {
	mounts := filepath.Join(t.TempDir(), "mounts")
	content := "/dev/sdb1 / ext4 rw,relatime 0 0\n" +
		"proc /proc proc rw 0 0\n" +
		"/dev/loop3 /snap/foo squashfs ro 0 0\n"
	if err := os.WriteFile(mounts, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewScanner(&fakeRunner{errs: map[string]error{"lsblk": errors.New("boom")}})
	s.MountsPath = mounts

	devices := s.ListAll(context.Background())
	if len(devices) != 1 {
		t.Fatalf("got %d devices, want 1 (loop and proc excluded): %+v", len(devices), devices)
	}
	if devices[0].DevicePath != "/dev/sdb1" || devices[0].MountPoint != "/" {
		t.Errorf("unexpected degraded device: %+v", devices[0])
	}
	if len(devices[0].Children) != 0 {
		t.Error("degraded enumeration must be flat")
	}
}

func TestListParsesRunnerOutput(t *testing.T) {
	s := NewScanner(&fakeRunner{results: map[string]*runner.Result{
		"lsblk": {Stdout: sampleLsblk},
	}})

	devices := s.List(context.Background())
	if len(devices) != 1 || devices[0].Name != "sda" {
		t.Fatalf("List = %+v", devices)
	}
}
