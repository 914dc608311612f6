// Package outparse tags compiler output lines with source locations.
package outparse

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"fortio.org/safecast"

	"dotnetasm/internal/toolexec"
)

// SourcePlaceholder replaces the input path in tagged output.
const SourcePlaceholder = "<source>"

// Recognised location prefixes:
//
//	Program.cs(5,13): error CS1002: ; expected [/tmp/x/App.csproj]
//	Program.cs:5:13: error: message
var (
	msbuildRe  = regexp.MustCompile(`^\s*(.+?)\((\d+)(?:,(\d+))?(?:,\d+,\d+)?\)\s*:\s*(.*)$`)
	colonRe    = regexp.MustCompile(`^\s*(.+?):(\d+)(?::(\d+))?:\s*(.*)$`)
	projectRe  = regexp.MustCompile(`\s*\[[^\]]*\.(?:cs|fs|vb)proj\]\s*$`)
	severityRe = regexp.MustCompile(`(?i)^(error|warning|info|message|note)\b`)
)

// Parse tags every stdout and stderr line of res that refers to inputFilename.
func Parse(res *toolexec.Result, inputFilename string) {
	if res == nil {
		return
	}
	res.Stdout = ParseLines(res.Stdout, inputFilename)
	res.Stderr = ParseLines(res.Stderr, inputFilename)
}

// ParseLines returns a copy of lines with location tags attached.
func ParseLines(lines []toolexec.Line, inputFilename string) []toolexec.Line {
	if len(lines) == 0 {
		return lines
	}
	out := make([]toolexec.Line, len(lines))
	for i, line := range lines {
		text := line.Text
		if inputFilename != "" {
			text = strings.ReplaceAll(text, inputFilename, SourcePlaceholder)
		}
		out[i] = toolexec.Line{Text: text, Tag: parseTag(text, inputFilename)}
	}
	return out
}

func parseTag(text, inputFilename string) *toolexec.Tag {
	m := msbuildRe.FindStringSubmatch(text)
	if m == nil {
		m = colonRe.FindStringSubmatch(text)
	}
	if m == nil {
		return nil
	}
	if !refersToInput(m[1], inputFilename) {
		return nil
	}
	line, ok := toUint32(m[2])
	if !ok {
		return nil
	}
	col, _ := toUint32(m[3])
	message := strings.TrimSpace(projectRe.ReplaceAllString(m[4], ""))
	return &toolexec.Tag{
		Line:     line,
		Column:   col,
		Severity: severityOf(message),
		Text:     message,
	}
}

func refersToInput(file, inputFilename string) bool {
	file = strings.TrimSpace(file)
	if file == SourcePlaceholder || strings.HasSuffix(file, "/"+SourcePlaceholder) {
		return true
	}
	if inputFilename == "" {
		return false
	}
	return filepath.Base(filepath.FromSlash(file)) == filepath.Base(inputFilename)
}

func severityOf(message string) toolexec.Severity {
	m := severityRe.FindStringSubmatch(message)
	if m == nil {
		return toolexec.SeverityError
	}
	switch strings.ToLower(m[1]) {
	case "warning":
		return toolexec.SeverityWarning
	case "info", "message", "note":
		return toolexec.SeverityInfo
	default:
		return toolexec.SeverityError
	}
}

func toUint32(s string) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		return 0, false
	}
	return v, true
}
