package mountmgr

import (
	"fmt"
	"strings"

	diskman "github.com/mingyue/diskman"
)

// permissionRule matches a known permission-failure fingerprint in subprocess
// stderr. A rule fires when any entry of anyOf is present, or when every entry
// of allOf is present. Matching is plain substring search; the table exists so
// new tool versions or locales can be covered without touching control flow.
type permissionRule struct {
	anyOf []string
	allOf []string

	message     string
	remediation string
}

var permissionRules = []permissionRule{
	{
		anyOf: []string{
			"sudo: a password is required",
			"sudo: password is required",
		},
		allOf:       []string{"sudo", "not allowed to execute"},
		message:     "passwordless sudo is not configured for this service",
		remediation: "allow the service account to run mount/umount without a password: sudo visudo -f /etc/sudoers.d/mingyue",
	},
	{
		anyOf:       []string{"no new privileges"},
		message:     "the service is blocked by the NoNewPrivileges restriction",
		remediation: "remove NoNewPrivileges=true from the systemd unit, then run 'sudo systemctl daemon-reload && sudo systemctl restart mingyue'",
	},
	{
		anyOf:       []string{"Operation not permitted", "Permission denied"},
		message:     "the service lacks the system capabilities for this operation",
		remediation: "add AmbientCapabilities=CAP_SYS_ADMIN to the systemd unit, then run 'sudo systemctl daemon-reload && sudo systemctl restart mingyue'",
	},
}

func (r permissionRule) matches(stderr string) bool {
	for _, s := range r.anyOf {
		if strings.Contains(stderr, s) {
			return true
		}
	}
	if len(r.allOf) == 0 {
		return false
	}
	for _, s := range r.allOf {
		if !strings.Contains(stderr, s) {
			return false
		}
	}
	return true
}

// classifyPermissionError inspects stderr for known permission failures.
// It returns a failure result with remediation text and true on a match, or a
// zero result and false when the stderr is something else entirely.
func classifyPermissionError(operation, stderr string) (diskman.OperationResult, bool) {
	for _, rule := range permissionRules {
		if rule.matches(stderr) {
			return diskman.Failed(
				fmt.Sprintf("%s failed: %s", operation, rule.message),
				rule.remediation,
			), true
		}
	}
	return diskman.OperationResult{}, false
}

// subprocessFailure classifies stderr and falls back to raw passthrough.
func subprocessFailure(operation, stderr string) diskman.OperationResult {
	if res, ok := classifyPermissionError(operation, stderr); ok {
		return res
	}
	return diskman.Failed(operation+" failed", strings.TrimSpace(stderr))
}
