// Package export renders scan snapshots to CSV, JSON and Markdown.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"netsweep/scanner"
)

// Options controls which rows are exported.
type Options struct {
	IncludeDown bool
}

func filter(rows []scanner.HostResult, opts Options) []scanner.HostResult {
	if opts.IncludeDown {
		return rows
	}
	kept := make([]scanner.HostResult, 0, len(rows))
	for _, r := range rows {
		if r.Reachable {
			kept = append(kept, r)
		}
	}
	return kept
}

func latency(r scanner.HostResult) string {
	if !r.HasLatency {
		return ""
	}
	return fmt.Sprintf("%.2f", float64(r.Latency)/float64(time.Millisecond))
}

func status(r scanner.HostResult) string {
	if r.Reachable {
		return "UP"
	}
	return "DOWN"
}

// WriteCSV writes one row per host with a fixed header. Latency is in
// milliseconds; empty cells mean the value is absent.
func WriteCSV(w io.Writer, rows []scanner.HostResult, opts Options) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"ip", "status", "latency_ms", "hostname", "mac", "vendor", "observed_at"}); err != nil {
		return err
	}
	for _, r := range filter(rows, opts) {
		record := []string{
			r.IP,
			status(r),
			latency(r),
			r.Hostname,
			r.MAC,
			r.Vendor,
			r.ObservedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the filtered rows as an indented JSON array.
func WriteJSON(w io.Writer, rows []scanner.HostResult, opts Options) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(filter(rows, opts))
}

// WriteMarkdown writes a pipe table with a small summary line.
func WriteMarkdown(w io.Writer, rows []scanner.HostResult, opts Options) error {
	kept := filter(rows, opts)
	up := 0
	for _, r := range rows {
		if r.Reachable {
			up++
		}
	}

	var b strings.Builder
	b.WriteString("# Scan results\n\n")
	fmt.Fprintf(&b, "%d hosts scanned, %d up.\n\n", len(rows), up)
	b.WriteString("| IP | Status | Latency (ms) | Hostname | MAC | Vendor |\n")
	b.WriteString("|----|--------|--------------|----------|-----|--------|\n")
	for _, r := range kept {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			r.IP, status(r), latency(r),
			escapeMarkdown(r.Hostname), r.MAC, escapeMarkdown(r.Vendor))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// FormatPortRanges compacts a sorted port list into range notation,
// e.g. [22 80 81 82 443] -> "22, 80-82, 443".
func FormatPortRanges(ports []int) string {
	if len(ports) == 0 {
		return ""
	}
	var parts []string
	start, prev := ports[0], ports[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, p := range ports[1:] {
		if p == prev+1 {
			prev = p
			continue
		}
		flush()
		start, prev = p, p
	}
	flush()
	return strings.Join(parts, ", ")
}

func escapeMarkdown(s string) string {
	return strings.NewReplacer("|", "\\|", "\n", " ").Replace(s)
}
