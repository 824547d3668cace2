package toolgate

import (
	"path/filepath"
	"regexp"
	"strings"
)

// defaultShellDenylist is the non-exhaustive literal list from spec §4.7.
var defaultShellDenylist = []string{
	"rm -rf",
	"dd if=",
	"mkfs",
	"shutdown",
	"reboot",
}

// ShellSafety evaluates shell-tool inputs against a denylist of literals and
// regexes, grounded on the teacher's internal/tools/policy.ApprovalPolicy
// Denylist pattern matcher but narrowed to the specific destructive-command
// shapes spec §4.7 names.
type ShellSafety struct {
	literals []string
	patterns []*regexp.Regexp
}

// NewShellSafety builds a ShellSafety checker. extraDenylist entries are
// treated as literal substrings unless they compile as a valid regexp, in
// which case they are matched as one; invalid regexes fall back to literal
// substring matching.
func NewShellSafety(extraDenylist []string) *ShellSafety {
	s := &ShellSafety{literals: append([]string{}, defaultShellDenylist...)}
	for _, d := range extraDenylist {
		if re, err := regexp.Compile(d); err == nil {
			s.patterns = append(s.patterns, re)
			continue
		}
		s.literals = append(s.literals, d)
	}
	return s
}

// IsDangerous reports whether cmd contains a denylisted literal or matches a
// denylisted pattern. Matching is case-insensitive since shells tolerate
// mixed-case binary invocation.
func (s *ShellSafety) IsDangerous(cmd string) bool {
	lower := strings.ToLower(cmd)
	for _, lit := range s.literals {
		if strings.Contains(lower, strings.ToLower(lit)) {
			return true
		}
	}
	for _, re := range s.patterns {
		if re.MatchString(cmd) {
			return true
		}
	}
	return false
}

// sensitivePathSuffixes are filesystem locations a gated tool must never
// touch even after approval is requested for the call; these resolve to a
// forbidden tier entirely rather than a gated one.
var sensitivePathSuffixes = []string{
	"/etc/shadow",
	"/etc/passwd",
	"/.ssh/id_rsa",
	"/.ssh/id_ed25519",
	"/.aws/credentials",
}

// IsSensitivePath reports whether path, once canonicalized (symlink-free,
// ".."-resolved), names a location the gate must never allow a tool to
// reach. Canonicalization happens via filepath.Clean so a traversal like
// "a/../../etc/shadow" cannot sneak past a naive suffix check.
func IsSensitivePath(path string) bool {
	clean := filepath.Clean(path)
	for _, suffix := range sensitivePathSuffixes {
		if strings.HasSuffix(clean, filepath.FromSlash(suffix)) {
			return true
		}
	}
	return false
}
