package testkit

import (
	"fmt"
	"strings"

	"fortio.org/safecast"

	"dotnetasm/internal/asmparse"
)

// CheckListingInvariants runs a minimal set of invariants on a processed listing:
// 1) every label definition points at a line within lines that starts with the label
// 2) every reference range is non-empty, lies within its line and spells the name
// 3) every reference resolves to a definition
func CheckListingInvariants(lines []asmparse.Line, defs map[string]int) error {
	count := len(lines)
	for name, lineNo := range defs {
		if lineNo < 1 || lineNo > count {
			return fmt.Errorf("label %q defined at line %d, listing has %d lines", name, lineNo, count)
		}
		text := strings.TrimSpace(lines[lineNo-1].Text)
		if !strings.HasPrefix(text, name) {
			return fmt.Errorf("label %q points at line %d %q", name, lineNo, text)
		}
	}

	for i, line := range lines {
		runes := []rune(line.Text)
		width, err := safecast.Conv[uint32](len(runes))
		if err != nil {
			return fmt.Errorf("line %d length overflow: %w", i+1, err)
		}
		for _, ref := range line.Labels {
			r := ref.Range
			if r.StartCol < 1 || r.EndCol <= r.StartCol {
				return fmt.Errorf("line %d: empty range %+v for %q", i+1, r, ref.Name)
			}
			if r.EndCol-1 > width {
				return fmt.Errorf("line %d: range %+v beyond line width %d", i+1, r, width)
			}
			if got := string(runes[r.StartCol-1 : r.EndCol-1]); got != ref.Name {
				return fmt.Errorf("line %d: range %+v spells %q, want %q", i+1, r, got, ref.Name)
			}
			if _, ok := defs[ref.Name]; !ok {
				return fmt.Errorf("line %d: reference to undefined %q", i+1, ref.Name)
			}
		}
	}
	return nil
}
