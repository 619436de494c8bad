package tether

import (
	"fmt"
	"regexp"
	"strings"
)

// -----------------------------------------------------------------------------
// Payload Sanitization
// -----------------------------------------------------------------------------
//
// Everything leaving the process through an EventEmitter passes through these
// rules first: sensitive keys are redacted, oversized values truncated, and
// filesystem paths stripped from error text. Internal exception detail never
// reaches the transport layer.

// redactedValue replaces values whose keys look sensitive.
const redactedValue = "[REDACTED]"

// truncationSuffix marks truncated strings and lists.
const truncationSuffix = "... (truncated)"

// sensitiveKeyPattern matches key names that must never leave the process.
var sensitiveKeyPattern = regexp.MustCompile(`(?i)(password|passwd|secret|token|credential|api[_-]?key|private[_-]?key|access[_-]?key|auth)`)

// pathPattern matches absolute filesystem paths with at least two segments.
var pathPattern = regexp.MustCompile(`(?:/[\w.\-]+){2,}/?`)

// progressAllowedKeys is the explicit allow-list for progress_update custom
// payload fields. Anything else is dropped, not redacted.
var progressAllowedKeys = map[string]struct{}{
	"message":     {},
	"stage":       {},
	"step":        {},
	"total_steps": {},
	"detail":      {},
	"percentage":  {},
}

// isSensitiveKey reports whether a key name matches the sensitive patterns.
func isSensitiveKey(key string) bool {
	return sensitiveKeyPattern.MatchString(key)
}

// sanitizeMap returns a sanitized copy of m: sensitive keys redacted, values
// recursively sanitized and truncated. The input map is never modified.
func sanitizeMap(m map[string]any, cfg EmitterConfig) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			out[k] = redactedValue
			continue
		}
		out[k] = sanitizeValue(v, cfg)
	}
	return out
}

// sanitizeValue sanitizes a single value: strings and lists are truncated,
// nested maps and lists recurse, everything else passes through.
func sanitizeValue(v any, cfg EmitterConfig) any {
	switch val := v.(type) {
	case string:
		return truncateString(val, cfg.MaxStringLength)
	case map[string]any:
		return sanitizeMap(val, cfg)
	case []any:
		truncated := false
		if len(val) > cfg.MaxListLength {
			val = val[:cfg.MaxListLength]
			truncated = true
		}
		out := make([]any, 0, len(val)+1)
		for _, item := range val {
			out = append(out, sanitizeValue(item, cfg))
		}
		if truncated {
			out = append(out, truncationSuffix)
		}
		return out
	default:
		return v
	}
}

// truncateString caps a string at max runes.
func truncateString(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + truncationSuffix
}

// sanitizeResultPreview renders a result value as a bounded, sanitized
// preview suitable for a tool_completed payload.
func sanitizeResultPreview(result any, cfg EmitterConfig) any {
	switch val := result.(type) {
	case nil:
		return nil
	case string, map[string]any, []any:
		return sanitizeValue(val, cfg)
	default:
		return truncateString(fmt.Sprintf("%v", val), cfg.MaxStringLength)
	}
}

// sanitizeErrorText strips local filesystem paths from an error message and
// truncates it. Paths are reduced to their final segment so messages stay
// debuggable without leaking layout.
func sanitizeErrorText(msg string, cfg EmitterConfig) string {
	cleaned := pathPattern.ReplaceAllStringFunc(msg, func(p string) string {
		p = strings.TrimSuffix(p, "/")
		if i := strings.LastIndex(p, "/"); i >= 0 {
			return p[i+1:]
		}
		return p
	})
	return truncateString(cleaned, cfg.MaxStringLength)
}

// sanitizeProgressData filters a progress payload through the allow-list and
// sanitizes surviving values.
func sanitizeProgressData(data map[string]any, cfg EmitterConfig) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if _, ok := progressAllowedKeys[k]; !ok {
			continue
		}
		out[k] = sanitizeValue(v, cfg)
	}
	return out
}
