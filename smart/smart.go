// Package smart reads drive health reports via smartctl and parses the
// free-text output into a structured form.
package smart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	diskman "github.com/mingyue/diskman"
	"github.com/mingyue/diskman/runner"
)

// readTimeout bounds the smartctl invocation; a hung drive must not hang the
// caller.
const readTimeout = 30 * time.Second

// Attribute is one row of the SMART attribute table.
type Attribute struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Value     int    `json:"value"`
	Worst     int    `json:"worst"`
	Threshold int    `json:"threshold"`
	RawValue  string `json:"raw_value"`
}

// Info is a parsed SMART report.
type Info struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`

	Supported bool `json:"supported"`
	Enabled   bool `json:"enabled"`

	HealthStatus    string `json:"health_status,omitempty"`
	Model           string `json:"model,omitempty"`
	SerialNumber    string `json:"serial_number,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	Capacity        string `json:"capacity,omitempty"`

	// Promoted from the attribute table when the matching attributes exist.
	Temperature     int   `json:"temperature,omitempty"`
	PowerOnHours    int64 `json:"power_on_hours,omitempty"`
	PowerCycleCount int64 `json:"power_cycle_count,omitempty"`

	Attributes []Attribute `json:"attributes,omitempty"`
	RawOutput  string      `json:"raw_output,omitempty"`
}

// Reader queries drives for SMART data.
type Reader struct {
	runner runner.Runner
	logger logrus.FieldLogger
}

// NewReader creates a Reader.
func NewReader(r runner.Runner) *Reader {
	return &Reader{runner: r, logger: logrus.StandardLogger()}
}

// SetLogger sets a custom logger.
func (r *Reader) SetLogger(logger logrus.FieldLogger) { r.logger = logger }

// Read runs smartctl -a against the device and parses the report. Failures
// come back inside Info; Read never panics or propagates parse errors.
func (r *Reader) Read(ctx context.Context, devicePath string) Info {
	if !diskman.ValidDevicePath(devicePath) {
		return Info{ErrorMessage: "invalid device path"}
	}

	res, err := r.runner.Run(ctx, "smartctl", []string{"-a", devicePath}, runner.Options{Timeout: readTimeout})
	if err != nil {
		var timeoutErr *runner.TimeoutError
		if errors.As(err, &timeoutErr) {
			return Info{ErrorMessage: "smartctl timed out"}
		}
		detail := err.Error()
		if res != nil && strings.TrimSpace(res.Stderr) != "" {
			detail = strings.TrimSpace(res.Stderr)
		}
		exitCode := 0
		if res != nil {
			exitCode = res.ExitCode
		}
		return Info{ErrorMessage: fmt.Sprintf("smartctl failed (exit code %d): %s", exitCode, detail)}
	}

	info := parseOutput(res.Stdout)
	info.Success = true
	info.RawOutput = res.Stdout
	return info
}

// parseOutput walks the line-oriented smartctl report: labelled key/value
// header fields first, then the attribute table introduced by a header line
// carrying both an ID and a name column. The table ends at the first line
// that does not start with a digit.
func parseOutput(output string) Info {
	var info Info
	inAttributes := false

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			inAttributes = false
			continue
		}

		switch {
		case strings.Contains(trimmed, "SMART support is:"):
			// Newer smartctl emits two of these lines, one for capability
			// and one for state; update each flag only when its keyword
			// appears.
			if strings.Contains(trimmed, "Unavailable") {
				info.Supported = false
			} else if strings.Contains(trimmed, "Available") {
				info.Supported = true
			}
			if strings.Contains(trimmed, "Disabled") {
				info.Enabled = false
			} else if strings.Contains(trimmed, "Enabled") {
				info.Enabled = true
			}

		case hasLabel(trimmed, "SMART overall-health self-assessment test result:"),
			hasLabel(trimmed, "SMART Health Status:"):
			info.HealthStatus = labelValue(trimmed)

		case hasLabel(trimmed, "Device Model:"), hasLabel(trimmed, "Model Number:"):
			info.Model = labelValue(trimmed)

		case hasLabel(trimmed, "Serial Number:"):
			info.SerialNumber = labelValue(trimmed)

		case hasLabel(trimmed, "Firmware Version:"):
			info.FirmwareVersion = labelValue(trimmed)

		case hasLabel(trimmed, "User Capacity:"):
			info.Capacity = labelValue(trimmed)

		case strings.Contains(trimmed, "ID#") && strings.Contains(trimmed, "ATTRIBUTE_NAME"):
			inAttributes = true

		case inAttributes:
			if trimmed[0] < '0' || trimmed[0] > '9' {
				inAttributes = false
				continue
			}
			if attr, ok := parseAttribute(trimmed); ok {
				info.Attributes = append(info.Attributes, attr)
				promote(&info, attr)
			}
		}
	}
	return info
}

// parseAttribute decomposes one table row:
//
//	ID# ATTRIBUTE_NAME FLAG VALUE WORST THRESH TYPE UPDATED WHEN_FAILED RAW_VALUE
func parseAttribute(line string) (Attribute, bool) {
	fields := strings.Fields(line)
	if len(fields) < 10 {
		return Attribute{}, false
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return Attribute{}, false
	}
	return Attribute{
		ID:        id,
		Name:      fields[1],
		Value:     atoiOrZero(fields[3]),
		Worst:     atoiOrZero(fields[4]),
		Threshold: atoiOrZero(fields[5]),
		RawValue:  strings.Join(fields[9:], " "),
	}, true
}

// promote lifts well-known attributes into top-level fields.
func promote(info *Info, attr Attribute) {
	lower := strings.ToLower(attr.Name)
	switch {
	case strings.Contains(lower, "temperature"):
		// raw values look like "34 (Min/Max 19/45)"
		first := strings.Fields(attr.RawValue)
		if len(first) > 0 {
			if temp, err := strconv.Atoi(first[0]); err == nil {
				info.Temperature = temp
			}
		}
	case strings.Contains(lower, "power_on_hours"):
		if hours, err := strconv.ParseInt(attr.RawValue, 10, 64); err == nil {
			info.PowerOnHours = hours
		}
	case strings.Contains(lower, "power_cycle_count"):
		if cycles, err := strconv.ParseInt(attr.RawValue, 10, 64); err == nil {
			info.PowerCycleCount = cycles
		}
	}
}

func hasLabel(line, label string) bool {
	return len(line) >= len(label) && strings.EqualFold(line[:len(label)], label)
}

func labelValue(line string) string {
	_, value, _ := strings.Cut(line, ":")
	return strings.TrimSpace(value)
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
