package policy

import "strings"

// dangerousCommandNames are literal base commands that are always denied
// regardless of allow lists, matching the reference shell-tool's static
// denylist.
var dangerousCommandNames = map[string]bool{
	"rm":     true,
	"rmdir":  true,
	"del":    true,
	"format": true,
	"fdisk":  true,
	"mkfs":   true,
	"dd":     true,
}

// dangerousPatterns are substrings that, anywhere in the full command line,
// mark it as unconditionally dangerous.
var dangerousPatterns = []string{
	"rm -rf /",
	"sudo rm",
	"mkfs",
	"fdisk",
	"format",
}

// isDangerousCommand reports whether the base command or full command line
// matches a known-dangerous name or pattern.
func isDangerousCommand(base, fullCommand string) (bool, string) {
	if dangerousCommandNames[base] {
		return true, "dangerous command not allowed: " + base
	}
	lower := strings.ToLower(fullCommand)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lower, pattern) {
			return true, "potentially dangerous command pattern detected: " + pattern
		}
	}
	return false, ""
}
