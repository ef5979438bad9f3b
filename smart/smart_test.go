package smart

import (
	"context"
	"strings"
	"testing"

	"github.com/mingyue/diskman/runner"
)

const sampleReport = `smartctl 7.4 2023-08-01 r5530 [x86_64-linux-6.8.0] (local build)
Copyright (C) 2002-23, Bruce Allen, Christian Franke, www.smartmontools.org

=== START OF INFORMATION SECTION ===
Device Model:     WDC WD40EFRX-68N32N0
Serial Number:    WD-WCC7K4LA9PHV
Firmware Version: 82.00A82
User Capacity:    4,000,787,030,016 bytes [4.00 TB]
SMART support is: Available - device has SMART capability.
SMART support is: Enabled

=== START OF READ SMART DATA SECTION ===
SMART overall-health self-assessment test result: PASSED

SMART Attributes Data Structure revision number: 16
Vendor Specific SMART Attributes with Thresholds:
ID# ATTRIBUTE_NAME          FLAG     VALUE WORST THRESH TYPE      UPDATED  WHEN_FAILED RAW_VALUE
  1 Raw_Read_Error_Rate     0x002f   200   200   051    Pre-fail  Always       -       0
  9 Power_On_Hours          0x0032   053   053   000    Old_age   Always       -       34587
 12 Power_Cycle_Count       0x0032   100   100   000    Old_age   Always       -       87
194 Temperature_Celsius     0x0022   112   103   000    Old_age   Always       -       34 (Min/Max 19/45)

SMART Error Log Version: 1
No Errors Logged
`

type fakeRunner struct {
	result *runner.Result
	err    error
	calls  int
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string, opts runner.Options) (*runner.Result, error) {
	f.calls++
	if f.result != nil {
		return f.result, f.err
	}
	return &runner.Result{}, f.err
}

func TestReadParsesReport(t *testing.T) {
	fake := &fakeRunner{result: &runner.Result{Stdout: sampleReport}}
	info := NewReader(fake).Read(context.Background(), "/dev/sda")

	if !info.Success {
		t.Fatalf("unexpected failure: %s", info.ErrorMessage)
	}
	if !info.Supported || !info.Enabled {
		t.Errorf("support flags = %v/%v, want true/true", info.Supported, info.Enabled)
	}
	if info.HealthStatus != "PASSED" {
		t.Errorf("health = %q, want PASSED", info.HealthStatus)
	}
	if info.Model != "WDC WD40EFRX-68N32N0" {
		t.Errorf("model = %q", info.Model)
	}
	if info.SerialNumber != "WD-WCC7K4LA9PHV" {
		t.Errorf("serial = %q", info.SerialNumber)
	}
	if info.FirmwareVersion != "82.00A82" {
		t.Errorf("firmware = %q", info.FirmwareVersion)
	}
	if info.Capacity != "4,000,787,030,016 bytes [4.00 TB]" {
		t.Errorf("capacity = %q", info.Capacity)
	}

	if len(info.Attributes) != 4 {
		t.Fatalf("got %d attributes, want 4: %+v", len(info.Attributes), info.Attributes)
	}
	first := info.Attributes[0]
	if first.ID != 1 || first.Name != "Raw_Read_Error_Rate" || first.Value != 200 || first.Worst != 200 || first.Threshold != 51 {
		t.Errorf("first attribute = %+v", first)
	}
	temp := info.Attributes[3]
	if temp.RawValue != "34 (Min/Max 19/45)" {
		t.Errorf("temperature raw value = %q", temp.RawValue)
	}

	if info.Temperature != 34 {
		t.Errorf("temperature = %d, want 34", info.Temperature)
	}
	if info.PowerOnHours != 34587 {
		t.Errorf("power-on hours = %d, want 34587", info.PowerOnHours)
	}
	if info.PowerCycleCount != 87 {
		t.Errorf("power cycles = %d, want 87", info.PowerCycleCount)
	}
	if info.RawOutput == "" {
		t.Error("raw output not preserved")
	}
}

func TestReadRejectsBadDevicePath(t *testing.T) {
	fake := &fakeRunner{}
	info := NewReader(fake).Read(context.Background(), "/dev/sda; reboot")

	if info.Success {
		t.Fatal("injection in device path accepted")
	}
	if fake.calls != 0 {
		t.Error("validation failure must not spawn a subprocess")
	}
}

func TestReadTimeout(t *testing.T) {
	fake := &fakeRunner{
		result: &runner.Result{},
		err:    &runner.TimeoutError{Name: "smartctl", Timeout: readTimeout},
	}
	info := NewReader(fake).Read(context.Background(), "/dev/sda")

	if info.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(info.ErrorMessage, "timed out") {
		t.Errorf("error = %q, want timeout wording", info.ErrorMessage)
	}
}

func TestReadExitFailure(t *testing.T) {
	fake := &fakeRunner{
		result: &runner.Result{ExitCode: 2, Stderr: "Smartctl open device: /dev/sdz failed: No such device"},
		err:    &runner.ExitError{Name: "smartctl", ExitCode: 2},
	}
	info := NewReader(fake).Read(context.Background(), "/dev/sdz")

	if info.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(info.ErrorMessage, "exit code 2") || !strings.Contains(info.ErrorMessage, "No such device") {
		t.Errorf("error = %q", info.ErrorMessage)
	}
}

func TestParseOutputAttributeSectionEndsAtNonNumericLine(t *testing.T) {
	output := `ID# ATTRIBUTE_NAME FLAG VALUE WORST THRESH TYPE UPDATED WHEN_FAILED RAW_VALUE
  5 Reallocated_Sector_Ct 0x0033 200 200 140 Pre-fail Always - 0
SMART Error Log Version: 1
  3 not an attribute row anymore x y z a b c d
`
	info := parseOutput(output)
	if len(info.Attributes) != 1 {
		t.Fatalf("got %d attributes, want 1: %+v", len(info.Attributes), info.Attributes)
	}
	if info.Attributes[0].ID != 5 {
		t.Errorf("attribute = %+v", info.Attributes[0])
	}
}

func TestParseOutputDisabledSmart(t *testing.T) {
	output := `SMART support is: Available - device has SMART capability.
SMART support is: Disabled
`
	info := parseOutput(output)
	if !info.Supported {
		t.Error("supported flag lost")
	}
	if info.Enabled {
		t.Error("disabled device reported as enabled")
	}
}
