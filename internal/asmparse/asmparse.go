// Package asmparse structures crossgen2 disassembly listings for display.
//
// The listing produced with NgenDisasm/JitDiffableDasm consists of method
// headers ("Program:Main():"), block labels ("G_M000_IG01:"), instructions and
// ";"-prefixed comments. Process resolves label and method references so a
// viewer can link jumps and calls to their targets.
package asmparse

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"fortio.org/safecast"
)

// Filters selects which lines Process keeps.
type Filters struct {
	// CommentOnly drops lines that consist only of a ";" comment.
	CommentOnly bool
	// Labels drops label definitions nothing jumps to.
	Labels bool
	// Directives drops assembler directives (lines starting with ".").
	Directives bool
	// Trim removes trailing whitespace.
	Trim bool
}

// Range is a 1-based, end-exclusive column span within a line, counted in runes.
type Range struct {
	StartCol uint32
	EndCol   uint32
}

// LabelRef is a reference to a label or method from an instruction.
type LabelRef struct {
	Name  string
	Range Range
}

// Line is one line of processed disassembly.
type Line struct {
	Text   string
	Labels []LabelRef
}

// Output is the structured listing.
type Output struct {
	Lines []Line
	// LabelDefinitions maps label and method names to their 1-based line in Lines.
	LabelDefinitions map[string]int
	// FilteredCount is the number of input lines dropped by filters.
	FilteredCount int
}

var (
	commentLineRe = regexp.MustCompile(`^\s*;`)
	methodRefRe   = regexp.MustCompile(`^\w+\s+\[(.*)\]`)
	tailCallRe    = regexp.MustCompile(`^tail\.jmp\s+\[(.*?)\]`)
	labelRefRe    = regexp.MustCompile(`^\w+\s+.*?(G_M\w+)`)
)

type lineInfo struct {
	labelDef  string
	methodDef string
	ref       string
}

// Process splits text into lines, applies filters and resolves references.
func Process(text string, filters Filters) Output {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(raw) > 0 && raw[len(raw)-1] == "" {
		raw = raw[:len(raw)-1]
	}

	kept := make([]string, 0, len(raw))
	for _, l := range raw {
		if filters.CommentOnly && commentLineRe.MatchString(l) {
			continue
		}
		if filters.Directives && strings.HasPrefix(strings.TrimSpace(l), ".") {
			continue
		}
		if filters.Trim {
			l = strings.TrimRight(l, " \t")
		}
		kept = append(kept, l)
	}

	infos, available, used := scan(kept)

	out := Output{
		Lines:            make([]Line, 0, len(kept)),
		LabelDefinitions: make(map[string]int),
		FilteredCount:    len(raw) - len(kept),
	}
	for i, l := range kept {
		info := infos[i]
		if info.labelDef != "" && filters.Labels {
			if _, ok := used[info.labelDef]; !ok {
				out.FilteredCount++
				continue
			}
		}
		line := Line{Text: l}
		if info.ref != "" {
			if _, ok := available[info.ref]; ok {
				if r, ok := columnRange(l, info.ref); ok {
					line.Labels = append(line.Labels, LabelRef{Name: info.ref, Range: r})
				}
			}
		}
		out.Lines = append(out.Lines, line)
		lineNo := len(out.Lines)
		switch {
		case info.labelDef != "":
			out.LabelDefinitions[info.labelDef] = lineNo
		case info.methodDef != "":
			out.LabelDefinitions[info.methodDef] = lineNo
		}
	}
	return out
}


func scan(lines []string) (infos []lineInfo, available, used map[string]struct{}) {
	infos = make([]lineInfo, len(lines))
	available = make(map[string]struct{})
	used = make(map[string]struct{})
	for i, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" || strings.HasPrefix(trimmed, ";") {
			continue
		}
		if strings.HasSuffix(trimmed, ":") {
			name := strings.TrimSuffix(trimmed, ":")
			if strings.Contains(name, "(") {
				name = methodSignature(name)
				infos[i].methodDef = name
			} else {
				infos[i].labelDef = name
			}
			available[name] = struct{}{}
			continue
		}
		if m := methodRefRe.FindStringSubmatch(trimmed); m != nil {
			infos[i].ref = m[1]
		} else if m := tailCallRe.FindStringSubmatch(trimmed); m != nil {
			infos[i].ref = m[1]
		}
		if m := labelRefRe.FindStringSubmatch(trimmed); m != nil {
			infos[i].ref = m[1]
			used[m[1]] = struct{}{}
		}
	}
	return infos, available, used
}

// methodSignature drops a trailing parenthesised annotation such as
// "(FullOpts)" from a method header with more than one "(" group.
func methodSignature(name string) string {
	if strings.Count(name, "(") <= 1 {
		return name
	}
	idx := strings.LastIndex(name, "(")
	return strings.TrimRight(name[:idx], " \t")
}

func columnRange(line, name string) (Range, bool) {
	idx := strings.Index(line, name)
	if idx < 0 {
		return Range{}, false
	}
	col := utf8.RuneCountInString(line[:idx]) + 1
	start, err := safecast.Conv[uint32](col)
	if err != nil {
		return Range{}, false
	}
	end, err := safecast.Conv[uint32](col + utf8.RuneCountInString(name))
	if err != nil {
		return Range{}, false
	}
	return Range{StartCol: start, EndCol: end}, true
}
