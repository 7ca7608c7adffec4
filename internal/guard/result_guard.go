// Package guard holds the two optional execution-time checks a deployment
// may turn on around tool calls: ToolResultGuard redacts or truncates what
// a tool returns before it enters history; ApprovalChecker decides whether
// a resolved, visible tool call is allowed to actually run. Both are off by
// default and orthogonal to internal/toolregistry's allow/deny cascade,
// which only decides visibility.
package guard

import (
	"regexp"
	"strings"

	"github.com/orcaforge/orcaforge/internal/toolregistry"
)

// builtinSecretPatterns catches the common shapes of accidentally-leaked
// credentials inside a tool result's string fields.
var builtinSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[\w-]{20,}['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[\w-\.]+`),
	regexp.MustCompile(`(?i)(aws|amazon).*?(key|secret|token)\s*[:=]\s*['"]?[\w/+=]{20,}['"]?`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
}

// ToolResultGuard redacts or truncates a tool result before it is appended
// to an AgentRuntime's history or persisted. The zero value is inert.
type ToolResultGuard struct {
	Enabled         bool
	MaxChars        int
	Denylist        []string // tool name patterns (path.Match syntax); a match fully redacts the result
	RedactPatterns  []string // extra regexps applied to every string field
	RedactionText   string
	TruncateSuffix  string
	SanitizeSecrets bool
}

func (g ToolResultGuard) active() bool {
	return g.Enabled || g.MaxChars > 0 || len(g.Denylist) > 0 || len(g.RedactPatterns) > 0 || g.SanitizeSecrets
}

// Apply returns a redacted/truncated copy of result according to g, or
// result itself if g is inert. A toolName matching the denylist has every
// field but success replaced by the redaction text; otherwise each
// string-valued field has secret and RedactPatterns matches replaced and is
// then truncated to MaxChars.
func (g ToolResultGuard) Apply(toolName string, result toolregistry.StructuredResult) toolregistry.StructuredResult {
	if !g.active() {
		return result
	}

	redaction := strings.TrimSpace(g.RedactionText)
	if redaction == "" {
		redaction = "[REDACTED]"
	}
	truncateSuffix := strings.TrimSpace(g.TruncateSuffix)
	if truncateSuffix == "" {
		truncateSuffix = "...[truncated]"
	}

	if matchesPattern(g.Denylist, toolName) {
		out := toolregistry.StructuredResult{}
		for k, v := range result {
			if k == "success" {
				out[k] = v
				continue
			}
			out[k] = redaction
		}
		return out
	}

	out := make(toolregistry.StructuredResult, len(result))
	for k, v := range result {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		out[k] = g.redactString(s, redaction, truncateSuffix)
	}
	return out
}

func (g ToolResultGuard) redactString(s, redaction, truncateSuffix string) string {
	if g.SanitizeSecrets {
		for _, re := range builtinSecretPatterns {
			s = re.ReplaceAllString(s, redaction)
		}
	}
	for _, pattern := range g.RedactPatterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		s = re.ReplaceAllString(s, redaction)
	}
	if g.MaxChars > 0 && len(s) > g.MaxChars {
		s = s[:g.MaxChars] + truncateSuffix
	}
	return s
}
