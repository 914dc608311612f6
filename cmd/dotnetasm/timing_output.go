package main

import (
	"fmt"
	"io"

	"dotnetasm/internal/session"
)

func printTimings(out io.Writer, rep *session.Report) {
	if out == nil || rep == nil {
		return
	}
	prefix := ""
	if rep.Name != "" {
		prefix = rep.Name + ": "
	}
	if rep.Cached {
		fmt.Fprintf(out, "%scached\n", prefix)
		return
	}
	for _, phase := range rep.Timings.Phases {
		fmt.Fprintf(out, "%s%s %.1f ms\n", prefix, phase.Name, phase.DurationMS)
	}
	fmt.Fprintf(out, "%stotal %.1f ms\n", prefix, rep.Timings.TotalMS)
}
