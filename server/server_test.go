package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	diskman "github.com/mingyue/diskman"
	"github.com/mingyue/diskman/blockdev"
	"github.com/mingyue/diskman/journal"
	"github.com/mingyue/diskman/metrics"
	"github.com/mingyue/diskman/smart"
)

type fakeDevices struct{ devices []blockdev.Device }

func (f *fakeDevices) List(ctx context.Context) []blockdev.Device { return f.devices }

type fakeMounter struct {
	lastOp   string
	result   diskman.OperationResult
	panicMsg string
}

func (f *fakeMounter) Mount(ctx context.Context, devicePath, mountPoint, fstype, options string) diskman.OperationResult {
	f.lastOp = "mount"
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.result
}

func (f *fakeMounter) MountPersistent(ctx context.Context, devicePath, mountPoint, fstype, options string) diskman.OperationResult {
	f.lastOp = "mount-persistent"
	return f.result
}

func (f *fakeMounter) Unmount(ctx context.Context, mountPoint string) diskman.OperationResult {
	f.lastOp = "unmount"
	return f.result
}

func (f *fakeMounter) MountNetworkShare(ctx context.Context, req diskman.NetworkMountRequest) diskman.OperationResult {
	f.lastOp = "netmount"
	return f.result
}

func (f *fakeMounter) MountNetworkSharePersistent(ctx context.Context, req diskman.NetworkMountRequest) diskman.OperationResult {
	f.lastOp = "netmount-persistent"
	return f.result
}

func (f *fakeMounter) NetworkShares() []diskman.NetworkShare { return nil }
func (f *fakeMounter) Shares() []string                      { return []string{"media"} }

type fakePower struct{}

func (fakePower) SetSpinDown(ctx context.Context, devicePath string, minutes int) diskman.OperationResult {
	return diskman.Successful("spindown set")
}

func (fakePower) SetAPMLevel(ctx context.Context, devicePath string, level int) diskman.OperationResult {
	return diskman.Successful("apm set")
}

func (fakePower) PowerStatus(ctx context.Context, devicePath string) diskman.PowerStatus {
	return diskman.PowerStatus{Success: true, Status: "standby"}
}

func (fakePower) PowerSettings(devicePath string) diskman.PowerSettings {
	return diskman.PowerSettings{SpinDownTimeoutMinutes: 30}
}

type fakeSmart struct{}

func (fakeSmart) Read(ctx context.Context, devicePath string) smart.Info {
	return smart.Info{Success: true, HealthStatus: "PASSED"}
}

type fakeFeatures struct{}

func (fakeFeatures) Detect(ctx context.Context) diskman.FeatureReport {
	return diskman.FeatureReport{Ready: true, Summary: "all tools installed"}
}

type fakeHistory struct {
	recorded []string
	entries  []journal.Entry
}

func (f *fakeHistory) RecordResult(ctx context.Context, operation, target string, res diskman.OperationResult, duration time.Duration) {
	f.recorded = append(f.recorded, operation+" "+target)
}

func (f *fakeHistory) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func testServer(t *testing.T) (*Server, *fakeMounter, *fakeHistory) {
	t.Helper()
	mounter := &fakeMounter{result: diskman.Successful("ok")}
	history := &fakeHistory{}
	reg := prometheus.NewRegistry()
	s := New(Config{
		Devices:  &fakeDevices{devices: []blockdev.Device{{Name: "sda", DevicePath: "/dev/sda"}}},
		Mounts:   mounter,
		Power:    fakePower{},
		Smart:    fakeSmart{},
		Features: fakeFeatures{},
		History:  history,
		Metrics:  metrics.New(reg),
		Registry: reg,
	})
	return s, mounter, history
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDevices(t *testing.T) {
	s, _, _ := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/v1/devices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var devices []blockdev.Device
	if err := json.Unmarshal(rec.Body.Bytes(), &devices); err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 || devices[0].DevicePath != "/dev/sda" {
		t.Errorf("devices = %+v", devices)
	}
}

func TestMountDispatchesOnPersistentFlag(t *testing.T) {
	s, mounter, history := testServer(t)

	rec := doJSON(t, s, http.MethodPost, "/v1/mount", `{"device":"/dev/sdb1","mount_point":"/mnt/data"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if mounter.lastOp != "mount" {
		t.Errorf("dispatched %q, want mount", mounter.lastOp)
	}

	rec = doJSON(t, s, http.MethodPost, "/v1/mount", `{"device":"/dev/sdb1","mount_point":"/mnt/data","persistent":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if mounter.lastOp != "mount-persistent" {
		t.Errorf("dispatched %q, want mount-persistent", mounter.lastOp)
	}

	if len(history.recorded) != 2 || !strings.HasPrefix(history.recorded[1], "mount-persistent ") {
		t.Errorf("journal records = %v", history.recorded)
	}
}

func TestMountFailureStillHTTP200(t *testing.T) {
	s, mounter, _ := testServer(t)
	mounter.result = diskman.Failed("mount failed", "unknown filesystem")

	rec := doJSON(t, s, http.MethodPost, "/v1/mount", `{"device":"/dev/sdb1","mount_point":"/mnt/data"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, operation failures ride in the body", rec.Code)
	}

	var res diskman.OperationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Detail != "unknown filesystem" {
		t.Errorf("result = %+v", res)
	}
}

func TestMountRejectsBadJSON(t *testing.T) {
	s, _, _ := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/mount", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMountRejectsGet(t *testing.T) {
	s, _, _ := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/v1/mount", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestNetMount(t *testing.T) {
	s, mounter, _ := testServer(t)

	body := `{"server":"nas.local","share_path":"media","mount_point":"/mnt/media","type":"cifs","persistent":true}`
	rec := doJSON(t, s, http.MethodPost, "/v1/netmount", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if mounter.lastOp != "netmount-persistent" {
		t.Errorf("dispatched %q", mounter.lastOp)
	}
}

func TestSmartRequiresDeviceParam(t *testing.T) {
	s, _, _ := testServer(t)

	rec := doJSON(t, s, http.MethodGet, "/v1/smart", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/v1/smart?device=/dev/sda", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var info smart.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if !info.Success || info.HealthStatus != "PASSED" {
		t.Errorf("info = %+v", info)
	}
}

func TestPowerEndpoints(t *testing.T) {
	s, _, history := testServer(t)

	rec := doJSON(t, s, http.MethodPost, "/v1/power/spindown", `{"device":"/dev/sda","minutes":30}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("spindown status = %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodPost, "/v1/power/apm", `{"device":"/dev/sda","level":127}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("apm status = %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodGet, "/v1/power/status?device=/dev/sda", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status status = %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodGet, "/v1/power/settings?device=/dev/sda", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("settings status = %d", rec.Code)
	}

	if len(history.recorded) != 2 {
		t.Errorf("journal records = %v, want spindown and apm only", history.recorded)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	s, _, history := testServer(t)
	history.entries = []journal.Entry{
		{ID: "01HX", Operation: "mount", Target: "/dev/sdb1", Success: true},
	}

	rec := doJSON(t, s, http.MethodGet, "/v1/history?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var entries []journal.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Operation != "mount" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestPersistentMountCountedUnderPersistentOperation(t *testing.T) {
	s, _, history := testServer(t)

	rec := doJSON(t, s, http.MethodPost, "/v1/mount", `{"device":"/dev/sdb1","mount_point":"/mnt/data","persistent":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if len(history.recorded) != 1 || !strings.HasPrefix(history.recorded[0], "mount-persistent ") {
		t.Fatalf("journal records = %v", history.recorded)
	}

	rec = doJSON(t, s, http.MethodGet, "/metrics", "")
	body := rec.Body.String()
	if !strings.Contains(body, `operation="mount-persistent"`) {
		t.Errorf("metrics missing mount-persistent label:\n%s", body)
	}
	if strings.Contains(body, `diskman_operations_total{operation="mount",`) {
		t.Errorf("persistent mount counted under plain mount:\n%s", body)
	}
}

func TestMountPanicReportedAsFailure(t *testing.T) {
	s, mounter, history := testServer(t)
	mounter.panicMsg = "nil device tree"

	rec := doJSON(t, s, http.MethodPost, "/v1/mount", `{"device":"/dev/sdb1","mount_point":"/mnt/data"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var res diskman.OperationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Errorf("panicking operation reported success: %+v", res)
	}
	if !strings.Contains(res.Detail, "nil device tree") {
		t.Errorf("panic detail lost: %+v", res)
	}
	if len(history.recorded) != 1 {
		t.Errorf("journal records = %v, panic outcome must still be recorded", history.recorded)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := testServer(t)

	// drive one operation so the counter exists
	doJSON(t, s, http.MethodPost, "/v1/mount", `{"device":"/dev/sdb1","mount_point":"/mnt/data"}`)

	rec := doJSON(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "diskman_operations_total") {
		t.Error("metrics output missing diskman_operations_total")
	}
}
