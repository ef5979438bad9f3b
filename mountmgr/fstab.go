package mountmgr

import (
	"fmt"
	"os"
	"strings"

	"github.com/mingyue/diskman/atomicfile"
)

// Table is the system mount table (/etc/fstab). All mutations replace the
// whole file through a temp-file rename; the table is never appended to in
// place, so a crash mid-write can never leave it truncated.
type Table struct {
	Path string
}

// Lines returns the table's lines. A missing file is an empty table.
func (t *Table) Lines() ([]string, error) {
	data, err := os.ReadFile(t.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", t.Path, err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n"), nil
}

// HasExactLine reports whether the table already contains entry, comparing
// whole trimmed lines. Used for device mounts where the entry is rebuilt
// deterministically from the same inputs.
func (t *Table) HasExactLine(entry string) (bool, error) {
	lines, err := t.Lines()
	if err != nil {
		return false, err
	}
	want := strings.TrimSpace(entry)
	for _, line := range lines {
		if strings.TrimSpace(line) == want {
			return true, nil
		}
	}
	return false, nil
}

// HasEntry reports whether any line's device and mountpoint fields both match,
// splitting on whitespace rather than substring searching. Used for network
// mounts whose option field varies between requests.
func (t *Table) HasEntry(device, mountPoint string) (bool, error) {
	lines, err := t.Lines()
	if err != nil {
		return false, err
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) >= 2 && fields[0] == device && fields[1] == mountPoint {
			return true, nil
		}
	}
	return false, nil
}

// Append adds entry as a new final line, rewriting the file atomically.
func (t *Table) Append(entry string) error {
	var content string
	data, err := os.ReadFile(t.Path)
	switch {
	case err == nil:
		content = string(data)
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
	case os.IsNotExist(err):
		// new table
	default:
		return fmt.Errorf("failed to read %s: %w", t.Path, err)
	}

	content += entry + "\n"
	if err := atomicfile.WriteFile(t.Path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to update %s: %w", t.Path, err)
	}
	return nil
}
