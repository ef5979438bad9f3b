package hdparm

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	diskman "github.com/mingyue/diskman"
	"github.com/mingyue/diskman/runner"
)

// DefaultConfPath is the system hdparm configuration file.
const DefaultConfPath = "/etc/hdparm.conf"

// Manager applies and persists drive power settings.
//
// Persisting goes straight to the configuration file and therefore requires
// the process itself to run with elevated privileges; there is no secondary
// sudo escalation for file writes. The live hdparm invocation runs unprefixed
// for the same reason.
type Manager struct {
	runner runner.Runner
	conf   ConfFile
	logger logrus.FieldLogger

	// euid is swappable in tests to simulate running unprivileged.
	euid func() int
}

// NewManager creates a Manager writing to DefaultConfPath.
func NewManager(r runner.Runner) *Manager {
	return &Manager{
		runner: r,
		conf:   ConfFile{Path: DefaultConfPath},
		logger: logrus.StandardLogger(),
		euid:   os.Geteuid,
	}
}

// SetConfPath overrides the configuration file location.
func (m *Manager) SetConfPath(path string) { m.conf.Path = path }

// SetLogger sets a custom logger.
func (m *Manager) SetLogger(logger logrus.FieldLogger) { m.logger = logger }

// SetSpinDown persists and immediately applies a spindown timeout.
// minutes must be in 0..330; 0 disables spindown.
func (m *Manager) SetSpinDown(ctx context.Context, devicePath string, minutes int) diskman.OperationResult {
	if !diskman.ValidDevicePath(devicePath) {
		return diskman.Failed("invalid device path")
	}
	if minutes < 0 || minutes > 330 {
		return diskman.Failed("spindown timeout must be between 0 and 330 minutes (0 = disabled, max 5.5 hours)")
	}

	if err := m.persist(devicePath, &minutes, nil); err != nil {
		return diskman.Failed(err.Error())
	}

	code := MinutesToCode(minutes)
	m.logger.WithFields(logrus.Fields{
		"device":  devicePath,
		"minutes": minutes,
		"code":    code,
	}).Info("applying spindown timeout")

	res, err := m.runner.Run(ctx, "hdparm", []string{"-S", strconv.Itoa(code), devicePath}, runner.Options{Timeout: 15 * time.Second})
	if err != nil {
		return diskman.Failed("configuration saved, but applying it immediately failed", stderrOf(res, err))
	}

	if minutes == 0 {
		return diskman.Successful(fmt.Sprintf("disabled automatic spindown for %s (persisted)", devicePath))
	}
	return diskman.Successful(fmt.Sprintf("set spindown timeout for %s to %d minutes (persisted)", devicePath, minutes))
}

// SetAPMLevel persists and immediately applies an APM level in 1..255
// (1 = maximum power saving, 255 = maximum performance).
func (m *Manager) SetAPMLevel(ctx context.Context, devicePath string, level int) diskman.OperationResult {
	if !diskman.ValidDevicePath(devicePath) {
		return diskman.Failed("invalid device path")
	}
	if level < 1 || level > 255 {
		return diskman.Failed("APM level must be between 1 and 255 (1 = max power saving, 255 = max performance)")
	}

	if err := m.persist(devicePath, nil, &level); err != nil {
		return diskman.Failed(err.Error())
	}

	m.logger.WithFields(logrus.Fields{
		"device": devicePath,
		"level":  level,
	}).Info("applying APM level")

	res, err := m.runner.Run(ctx, "hdparm", []string{"-B", strconv.Itoa(level), devicePath}, runner.Options{Timeout: 15 * time.Second})
	if err != nil {
		return diskman.Failed("configuration saved, but applying it immediately failed", stderrOf(res, err))
	}
	return diskman.Successful(fmt.Sprintf("set APM level for %s to %d (persisted)", devicePath, level))
}

func (m *Manager) persist(devicePath string, spindownMinutes, apmLevel *int) error {
	if m.euid() != 0 {
		return fmt.Errorf("failed to update %s: permission denied, the process must run with elevated privileges", m.conf.Path)
	}
	return m.conf.update(devicePath, spindownMinutes, apmLevel)
}

// PowerSettings reads the persisted configuration for a device. An invalid
// path or missing block yields zero settings.
func (m *Manager) PowerSettings(devicePath string) diskman.PowerSettings {
	if !diskman.ValidDevicePath(devicePath) {
		return diskman.PowerSettings{}
	}
	settings, err := m.conf.ReadSettings(devicePath)
	if err != nil {
		m.logger.WithError(err).WithField("device", devicePath).Warn("failed to read power settings")
		return diskman.PowerSettings{}
	}
	return settings
}

// Known drive states reported by hdparm -C, checked in priority order: the
// combined state first, then substrings.
const (
	StateActiveIdle = "active/idle"
	StateStandby    = "standby"
	StateSleeping   = "sleeping"
	StateActive     = "active"
	StateIdle       = "idle"
	StateUnknown    = "unknown"
)

// PowerStatus queries the live drive state via hdparm -C.
func (m *Manager) PowerStatus(ctx context.Context, devicePath string) diskman.PowerStatus {
	if !diskman.ValidDevicePath(devicePath) {
		return diskman.PowerStatus{Success: false, Message: "invalid device path"}
	}

	res, err := m.runner.Run(ctx, "hdparm", []string{"-C", devicePath}, runner.Options{Timeout: 15 * time.Second})
	if err != nil {
		return diskman.PowerStatus{Success: false, Message: fmt.Sprintf("failed to query power status: %s", stderrOf(res, err))}
	}

	return diskman.PowerStatus{
		Success:   true,
		Status:    parseDriveState(res.Stdout),
		RawOutput: res.Stdout,
	}
}

// parseDriveState extracts and classifies the state from hdparm -C output,
// e.g. "/dev/sda:\n drive state is:  active/idle".  An unrecognized nonempty
// state is passed through verbatim rather than coerced to unknown.
func parseDriveState(output string) string {
	var statusLine string
	for _, line := range strings.FieldsFunc(output, func(r rune) bool { return r == '\n' || r == '\r' }) {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.Contains(lower, "drive state is:") || strings.Contains(lower, "drive state:") {
			statusLine = trimmed
			break
		}
	}
	if statusLine == "" {
		return StateUnknown
	}

	idx := strings.Index(statusLine, ":")
	if idx < 0 || idx+1 >= len(statusLine) {
		return StateUnknown
	}
	state := strings.ToLower(strings.TrimSpace(statusLine[idx+1:]))

	switch {
	case state == StateActiveIdle:
		return StateActiveIdle
	case strings.Contains(state, StateStandby):
		return StateStandby
	case strings.Contains(state, StateSleeping):
		return StateSleeping
	case strings.Contains(state, StateActive):
		return StateActive
	case strings.Contains(state, StateIdle):
		return StateIdle
	case state != "":
		return state
	default:
		return StateUnknown
	}
}

func stderrOf(res *runner.Result, err error) string {
	if res != nil && strings.TrimSpace(res.Stderr) != "" {
		return strings.TrimSpace(res.Stderr)
	}
	return err.Error()
}
