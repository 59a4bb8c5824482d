package filegen

import (
	"strings"

	"github.com/tidwall/gjson"
)

// repairJSON closes any open strings, objects, and arrays at the end of a
// truncated JSON document so it can be parsed. The input is assumed to be a
// prefix of well-formed JSON, which is what a model producing structured
// output streams.
func repairJSON(partial string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(partial); i++ {
		c := partial[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var sb strings.Builder
	sb.WriteString(partial)
	if escaped {
		// Drop a dangling backslash so the closing quote is not escaped.
		s := sb.String()
		sb.Reset()
		sb.WriteString(s[:len(s)-1])
	}
	if inString {
		sb.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		switch stack[i] {
		case '{':
			sb.WriteByte('}')
		case '[':
			sb.WriteByte(']')
		}
	}
	return sb.String()
}

// fileEntry is one element of the streamed files array, possibly still
// incomplete.
type fileEntry struct {
	Path       string
	Content    string
	HasPath    bool
	HasContent bool
}

// parseFileEntries extracts the files array from a possibly-truncated JSON
// document. The last returned entries may be incomplete; callers decide how
// many trailing entries to treat as unsettled.
func parseFileEntries(partial string) []fileEntry {
	repaired := repairJSON(partial)
	files := gjson.Get(repaired, "files")
	if !files.IsArray() {
		return nil
	}

	var entries []fileEntry
	files.ForEach(func(_, value gjson.Result) bool {
		var entry fileEntry
		if path := value.Get("path"); path.Exists() {
			entry.Path = path.String()
			entry.HasPath = true
		}
		if content := value.Get("content"); content.Exists() {
			entry.Content = content.String()
			entry.HasContent = true
		}
		entries = append(entries, entry)
		return true
	})
	return entries
}
