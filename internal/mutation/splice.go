package mutation

import (
	"regexp"
	"strings"

	"fsgate/internal/fault"
)

// spliceRange replaces the half-open range [start, end) of content,
// addressed in mode units, with replacement. The range is checked
// before anything else so callers can guarantee the file is untouched
// on failure.
func spliceRange(content []byte, mode OffsetMode, start, end int, replacement []byte) ([]byte, error) {
	if start < 0 || start > end {
		return nil, fault.ErrRangeOutOfBounds
	}
	switch mode {
	case OffsetByte:
		if end > len(content) {
			return nil, fault.ErrRangeOutOfBounds
		}
		out := make([]byte, 0, len(content)-(end-start)+len(replacement))
		out = append(out, content[:start]...)
		out = append(out, replacement...)
		out = append(out, content[end:]...)
		return out, nil
	case OffsetCodepoint:
		runes := []rune(string(content))
		if end > len(runes) {
			return nil, fault.ErrRangeOutOfBounds
		}
		var b strings.Builder
		b.WriteString(string(runes[:start]))
		b.Write(replacement)
		b.WriteString(string(runes[end:]))
		return []byte(b.String()), nil
	case OffsetLine:
		lines := splitKeepEnds(content)
		if end > len(lines) {
			return nil, fault.ErrRangeOutOfBounds
		}
		var b strings.Builder
		for _, l := range lines[:start] {
			b.Write(l)
		}
		b.Write(replacement)
		for _, l := range lines[end:] {
			b.Write(l)
		}
		return []byte(b.String()), nil
	default:
		return nil, &fault.PathError{Path: string(mode), Reason: "unknown offset mode", Err: fault.ErrInvalidPath}
	}
}

// splitKeepEnds splits content into lines, each retaining its trailing
// newline. A file not ending in a newline yields a final partial line.
func splitKeepEnds(content []byte) [][]byte {
	var lines [][]byte
	for len(content) > 0 {
		i := 0
		for i < len(content) && content[i] != '\n' {
			i++
		}
		if i < len(content) {
			i++
		}
		lines = append(lines, content[:i])
		content = content[i:]
	}
	return lines
}

// replaceContent applies pattern replacement left to right, stopping
// after maxOccurrences matches when positive.
func replaceContent(content []byte, pattern, replacement string, mode ReplaceMode, maxOccurrences int) ([]byte, int, error) {
	text := string(content)
	switch mode {
	case ReplaceLiteral:
		if pattern == "" {
			return content, 0, nil
		}
		total := strings.Count(text, pattern)
		if total == 0 {
			return content, 0, nil
		}
		n := total
		if maxOccurrences > 0 && maxOccurrences < n {
			n = maxOccurrences
		}
		return []byte(strings.Replace(text, pattern, replacement, n)), n, nil
	case ReplaceRegex:
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, 0, &fault.PathError{Path: pattern, Reason: "invalid regex", Err: fault.ErrInvalidPath}
		}
		locs := re.FindAllStringSubmatchIndex(text, -1)
		if len(locs) == 0 {
			return content, 0, nil
		}
		n := len(locs)
		if maxOccurrences > 0 && maxOccurrences < n {
			n = maxOccurrences
		}
		var b strings.Builder
		prev := 0
		for _, loc := range locs[:n] {
			b.WriteString(text[prev:loc[0]])
			b.Write(re.ExpandString(nil, replacement, text, loc))
			prev = loc[1]
		}
		b.WriteString(text[prev:])
		return []byte(b.String()), n, nil
	default:
		return nil, 0, &fault.PathError{Path: string(mode), Reason: "unknown replace mode", Err: fault.ErrInvalidPath}
	}
}
