package diskman

import (
	"path"
	"regexp"
	"strings"
)

// unsafeTokens is the injection denylist applied to every value destined for
// a subprocess argument list. Arguments are never shell-interpreted, but the
// denylist keeps hostile input out of config files and error messages too.
var unsafeTokens = []string{
	"&&", ";", "|", "`", "$", "(", ")", "<", ">", `"`, "'", "\n", "\r", " ",
}

// credentialUnsafe is the narrower denylist for CIFS credentials, which are
// written to a key=value credentials file rather than the command line.
const credentialUnsafe = "\n\r="

var safeNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.\-]+$`)

// ContainsUnsafe reports whether s contains any denylisted token.
func ContainsUnsafe(s string) bool {
	for _, tok := range unsafeTokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

// ValidDevicePath accepts absolute /dev paths free of denylisted characters.
func ValidDevicePath(devicePath string) bool {
	if strings.TrimSpace(devicePath) == "" {
		return false
	}
	if ContainsUnsafe(devicePath) {
		return false
	}
	return strings.HasPrefix(devicePath, "/dev/")
}

// ValidMountPoint accepts absolute, denylist-clean mount points.
func ValidMountPoint(mountPoint string) bool {
	if strings.TrimSpace(mountPoint) == "" {
		return false
	}
	if ContainsUnsafe(mountPoint) {
		return false
	}
	return path.IsAbs(mountPoint)
}

// ValidCredential accepts credential values safe for a key=value credentials
// file: no newlines, no carriage returns, no equals sign.
func ValidCredential(s string) bool {
	return !strings.ContainsAny(s, credentialUnsafe)
}

// ValidToolName accepts plain executable names for presence checks.
func ValidToolName(name string) bool {
	return safeNameRegex.MatchString(name)
}
