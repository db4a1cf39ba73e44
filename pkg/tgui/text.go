package tgui

// ClampSuffix is appended when Clamp truncates a message.
const ClampSuffix = " …[truncated]"

// Clamp returns s truncated to at most max runes, appending ClampSuffix when
// it truncates. The result never exceeds max runes, suffix included.
func Clamp(s string, max int) string {
	rs := []rune(s)
	if len(rs) <= max {
		return s
	}
	suffix := []rune(ClampSuffix)
	if max <= len(suffix) {
		return string(suffix[:max])
	}
	return string(rs[:max-len(suffix)]) + ClampSuffix
}
