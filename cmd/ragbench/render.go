package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"ragbench/internal/bench"
)

type format string

const (
	formatTable format = "table"
	formatJSON  format = "json"
	formatYAML  format = "yaml"
)

func parseFormat(s string) (format, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return formatTable, nil
	case "json":
		return formatJSON, nil
	case "yaml":
		return formatYAML, nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be table, json or yaml)", s)
	}
}

func renderReport(out io.Writer, f format, report bench.Report) error {
	switch f {
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case formatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tTOK/S\tELAPSED\tQUESTION")
	for _, r := range report.Results {
		fmt.Fprintf(w, "%d\t%s\t%dms\t%s\n", r.Index, resultStatus(r), r.ElapsedMs, r.Question)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nmodel %s: %s tok/s, %d failed\n", report.Model, report.Summary, report.Failed)
	return nil
}

// resultStatus is the throughput of r, or why there is none.
func resultStatus(r bench.Result) string {
	switch {
	case r.Error != "":
		return "error"
	case r.TokensPerSecond == nil:
		return "n/a"
	default:
		return strconv.FormatFloat(*r.TokensPerSecond, 'f', 1, 64)
	}
}
