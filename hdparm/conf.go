package hdparm

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	diskman "github.com/mingyue/diskman"
	"github.com/mingyue/diskman/atomicfile"
)

// Known hdparm.conf flags (no assignment) that are preserved when a device
// block is rewritten.
var validConfFlags = map[string]bool{
	"quiet":           true,
	"standby":         true,
	"sleep":           true,
	"disable_seagate": true,
}

// Known hdparm.conf parameters (key = value) that are preserved when a device
// block is rewritten. Anything outside this list is dropped from the block.
var validConfParams = map[string]bool{
	"read_ahead_sect": true, "lookahead": true, "bus": true,
	"apm": true, "apm_battery": true, "io32_support": true,
	"dma": true, "defect_mgmt": true, "cd_speed": true,
	"keep_settings_over_reset": true, "keep_features_over_reset": true,
	"mult_sect_io": true, "prefetch_sect": true, "read_only": true,
	"write_read_verify": true, "poweron_standby": true,
	"spindown_time": true, "force_spindown_time": true,
	"interrupt_unmask": true, "write_cache": true, "transfer_mode": true,
	"acoustic_management": true, "chipset_pio_mode": true,
	"security_freeze": true, "security_unlock": true, "security_pass": true,
	"security_disable": true, "user-master": true, "security_mode": true,
}

var settingRegex = regexp.MustCompile(`(?i)^\s*([a-z_-]+)\s*=\s*(.+?)\s*$`)

// ConfFile reads and rewrites per-device blocks in an hdparm configuration
// file. The block syntax is:
//
//	/dev/sda {
//		spindown_time = 120
//		apm = 127
//	}
type ConfFile struct {
	Path string
}

// ReadSettings parses the device's block read-only. A missing file or missing
// block yields zero settings, not an error.
func (c *ConfFile) ReadSettings(devicePath string) (diskman.PowerSettings, error) {
	var settings diskman.PowerSettings

	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, fmt.Errorf("failed to read %s: %w", c.Path, err)
	}

	inBlock := false
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)

		// Exact header comparison so /dev/sda never matches /dev/sda1's
		// block.
		if trimmed == devicePath+" {" {
			inBlock = true
			continue
		}
		if inBlock && trimmed == "}" {
			break
		}
		if !inBlock || trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		m := settingRegex.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		name, value := strings.ToLower(m[1]), m[2]
		switch name {
		case "spindown_time", "force_spindown_time":
			var code int
			if _, err := fmt.Sscanf(value, "%d", &code); err == nil {
				settings.SpinDownTimeoutMinutes = CodeToMinutes(code)
			}
		case "apm":
			var level int
			if _, err := fmt.Sscanf(value, "%d", &level); err == nil {
				settings.APMLevel = &level
			}
		}
	}
	return settings, nil
}

// update rewrites the device's block, overwriting the given settings and
// preserving every other allow-listed line. The old block is removed and the
// rebuilt block appended at the end; the whole file is replaced atomically.
// Either spindownMinutes or apmLevel may be nil to leave that setting alone.
func (c *ConfFile) update(devicePath string, spindownMinutes, apmLevel *int) error {
	var lines []string
	data, err := os.ReadFile(c.Path)
	switch {
	case err == nil:
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		if len(lines) == 1 && lines[0] == "" {
			lines = nil
		}
	case os.IsNotExist(err):
		lines = []string{
			"## hdparm configuration file",
			"## Managed by mingyue disk management",
			"",
			"quiet",
			"",
		}
	default:
		return fmt.Errorf("failed to read %s: %w", c.Path, err)
	}

	blockStart, blockEnd := findBlock(lines, devicePath)

	var blockLines []string
	haveSpindown, haveAPM := false, false

	if blockStart >= 0 {
		for _, raw := range lines[blockStart+1 : blockEnd] {
			line := strings.TrimSpace(raw)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			name := strings.ToLower(strings.TrimSpace(strings.SplitN(line, "=", 2)[0]))
			switch {
			case name == "spindown_time" || name == "force_spindown_time":
				haveSpindown = true
				if spindownMinutes != nil {
					blockLines = append(blockLines, fmt.Sprintf("\tspindown_time = %d", MinutesToCode(*spindownMinutes)))
				} else {
					blockLines = append(blockLines, "\t"+line)
				}
			case name == "apm":
				haveAPM = true
				if apmLevel != nil {
					blockLines = append(blockLines, fmt.Sprintf("\tapm = %d", *apmLevel))
				} else {
					blockLines = append(blockLines, "\t"+line)
				}
			default:
				m := settingRegex.FindStringSubmatch(line)
				if m != nil && validConfParams[strings.ToLower(m[1])] {
					blockLines = append(blockLines, "\t"+line)
				} else if validConfFlags[name] {
					blockLines = append(blockLines, "\t"+line)
				}
			}
		}
	}

	if spindownMinutes != nil && !haveSpindown {
		blockLines = append(blockLines, fmt.Sprintf("\tspindown_time = %d", MinutesToCode(*spindownMinutes)))
	}
	if apmLevel != nil && !haveAPM {
		blockLines = append(blockLines, fmt.Sprintf("\tapm = %d", *apmLevel))
	}

	if blockStart >= 0 {
		rest := blockEnd + 1
		if rest > len(lines) {
			rest = len(lines)
		}
		lines = append(lines[:blockStart], lines[rest:]...)
	}

	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) != "" {
		lines = append(lines, "")
	}
	lines = append(lines, devicePath+" {")
	lines = append(lines, blockLines...)
	lines = append(lines, "}")

	content := strings.Join(lines, "\n") + "\n"
	if err := atomicfile.WriteFile(c.Path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to update %s: %w", c.Path, err)
	}
	return nil
}

// findBlock locates the first block whose header line is exactly
// "<devicePath> {", returning the header and closing-brace indexes, or -1s
// when there is no such block. A malformed block with no closing brace runs
// to the end of the file, so end is then len(lines).
func findBlock(lines []string, devicePath string) (start, end int) {
	for i, line := range lines {
		if strings.TrimSpace(line) == devicePath+" {" {
			for j := i + 1; j < len(lines); j++ {
				if strings.TrimSpace(lines[j]) == "}" {
					return i, j
				}
			}
			return i, len(lines)
		}
	}
	return -1, -1
}
