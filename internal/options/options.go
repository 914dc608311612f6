// Package options routes user-supplied compiler flags to the code-generation tool.
package options

import (
	"fmt"
	"io"
	"slices"
)

// Table lists the options a user may forward to the code generator.
type Table struct {
	// ValueOptions take exactly one following argument.
	ValueOptions []string
	// Switches take no argument.
	Switches []string
}

var (
	crossgenValueOptions = []string{
		"--targetos",
		"--targetarch",
		"--instruction-set",
		"--singlemethodtypename",
		"--singlemethodname",
		"--singlemethodindex",
		"--singlemethodgenericarg",
		"--codegenopt",
		"--codegen-options",
	}
	crossgenSwitches = []string{
		"-O", "--optimize",
		"--Od", "--optimize-disabled",
		"--Os", "--optimize-space",
		"--Ot", "--optimize-time",
	}
)

// Default returns the crossgen2 option table. The returned slices are copies.
func Default() Table {
	return Table{
		ValueOptions: slices.Clone(crossgenValueOptions),
		Switches:     slices.Clone(crossgenSwitches),
	}
}

// Route extracts the tokens of args that the table allows, in table order.
// Only the first occurrence of each name counts; a value option that is the
// last token has no value and is dropped.
func Route(args []string, table Table) []string {
	var out []string
	for _, name := range table.ValueOptions {
		idx := slices.Index(args, name)
		if idx < 0 || idx == len(args)-1 {
			continue
		}
		out = append(out, args[idx], args[idx+1])
	}
	for _, name := range table.Switches {
		if slices.Contains(args, name) {
			out = append(out, name)
		}
	}
	return out
}

// Describe writes the table in a human-readable form.
func Describe(w io.Writer, table Table) error {
	if _, err := fmt.Fprintln(w, "value options (take one argument):"); err != nil {
		return err
	}
	for _, name := range table.ValueOptions {
		if _, err := fmt.Fprintf(w, "  %s <value>\n", name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w, "switches:"); err != nil {
		return err
	}
	for _, name := range table.Switches {
		if _, err := fmt.Fprintf(w, "  %s\n", name); err != nil {
			return err
		}
	}
	return nil
}
