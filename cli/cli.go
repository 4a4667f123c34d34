// Package cli implements the one-shot scan front end.
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"netsweep/export"
	"netsweep/resolve"
	"netsweep/scanner"
)

// Run executes a single sweep over the target given in args, optionally
// followed by a port scan of every live host, and prints the results.
func Run(orch *scanner.Orchestrator, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output results in JSON format")
	portsFlag := fs.String("ports", "", "Also port-scan live hosts, e.g. 1-1000")
	rateFlag := fs.Float64("rate", 0, "Probe rate limit in probes/second (0 = unlimited)")
	burstFlag := fs.Float64("burst", 0, "Rate limiter burst size (default 2x rate)")
	upOnly := fs.Bool("up", false, "Only print hosts that are up")
	csvFile := fs.String("csv", "", "Write results to a CSV file")
	noEnrich := fs.Bool("no-resolve", false, "Skip hostname/MAC enrichment")
	fs.Usage = printUsage(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("exactly one target expression required")
	}

	targets, err := scanner.ExpandTargets(fs.Arg(0))
	if err != nil {
		return err
	}

	if *rateFlag != 0 || *burstFlag != 0 {
		if err := orch.SetRate(*rateFlag, *burstFlag); err != nil {
			return err
		}
	}

	var startPort, endPort int
	if *portsFlag != "" {
		startPort, endPort, err = ParsePortRange(*portsFlag)
		if err != nil {
			return err
		}
	}

	if _, err := orch.StartSweep(targets, 0, 0); err != nil {
		return err
	}

	bar := progressbar.NewOptions(len(targets),
		progressbar.OptionSetDescription("sweeping"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	for {
		stats := orch.Stats()
		_ = bar.Set(stats.HostsDone)
		if stats.State == scanner.StateIdle {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	_ = bar.Finish()

	if !*noEnrich {
		rows := orch.Snapshot()
		up := make([]string, 0, len(rows))
		for _, r := range rows {
			if r.Reachable {
				up = append(up, r.IP)
			}
		}
		orch.MergeEnrichment(resolve.Enrich(context.Background(), up))
	}

	rows := orch.Snapshot()

	ports := make(map[string]*scanner.PortResult)
	if *portsFlag != "" {
		for _, r := range rows {
			if !r.Reachable {
				continue
			}
			res, err := orch.RequestPortScan(context.Background(), r.IP, startPort, endPort, 0)
			if err != nil {
				return fmt.Errorf("port scan of %s: %w", r.IP, err)
			}
			ports[r.IP] = res
		}
	}

	if *csvFile != "" {
		f, err := os.Create(*csvFile)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := export.WriteCSV(f, rows, export.Options{IncludeDown: !*upOnly}); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", *csvFile)
	}

	if *jsonOutput {
		return printJSON(rows, ports, *upOnly)
	}
	printPlainText(rows, ports, *upOnly)
	return nil
}

func printUsage(fs *flag.FlagSet) func() {
	return func() {
		fmt.Fprintln(os.Stderr, "Usage: netsweep scan [flags] <target>")
		fmt.Fprintln(os.Stderr, "Targets: 192.168.1.0/24, 10.0.0.1-20, or a single address")
		fmt.Fprintln(os.Stderr, "Example: netsweep scan -ports 1-1000 -rate 200 192.168.1.0/24")
		fs.PrintDefaults()
	}
}

// ParsePortRange extracts start and end port from "start-end" or a
// single port number.
func ParsePortRange(portRange string) (int, int, error) {
	if !strings.Contains(portRange, "-") {
		p, err := strconv.Atoi(portRange)
		if err != nil {
			return 0, 0, fmt.Errorf("port is not a number: %s", portRange)
		}
		return p, p, nil
	}

	parts := strings.SplitN(portRange, "-", 2)
	startPort, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("start port is not a number: %s", parts[0])
	}
	endPort, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("end port is not a number: %s", parts[1])
	}

	if startPort < 1 || startPort > 65535 || endPort < 1 || endPort > 65535 {
		return 0, 0, fmt.Errorf("ports must be within 1-65535 range")
	}
	if startPort > endPort {
		return 0, 0, fmt.Errorf("start port must be less than or equal to end port")
	}
	return startPort, endPort, nil
}

type hostReport struct {
	scanner.HostResult
	Ports *scanner.PortResult `json:"ports,omitempty"`
}

func printJSON(rows []scanner.HostResult, ports map[string]*scanner.PortResult, upOnly bool) error {
	reports := make([]hostReport, 0, len(rows))
	for _, r := range rows {
		if upOnly && !r.Reachable {
			continue
		}
		reports = append(reports, hostReport{HostResult: r, Ports: ports[r.IP]})
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

func printPlainText(rows []scanner.HostResult, ports map[string]*scanner.PortResult, upOnly bool) {
	for _, r := range rows {
		if upOnly && !r.Reachable {
			continue
		}

		status := "DOWN"
		if r.Reachable {
			status = "UP"
		}
		line := fmt.Sprintf("%-15s %s", r.IP, status)
		if r.HasLatency {
			line += fmt.Sprintf("  %.2f ms", float64(r.Latency)/float64(time.Millisecond))
		}
		if r.Hostname != "" {
			line += "  " + r.Hostname
		}
		if r.MAC != "" {
			line += "  " + r.MAC
			if r.Vendor != "" {
				line += " (" + r.Vendor + ")"
			}
		}
		fmt.Println(line)

		if res, ok := ports[r.IP]; ok {
			if len(res.OpenPorts) == 0 {
				fmt.Println("    no open ports")
				continue
			}
			for _, p := range res.OpenPorts {
				name := res.ServiceNames[p]
				if name == "" {
					name = "-"
				}
				fmt.Printf("    %5d/tcp  open  %s\n", p, name)
			}
		}
	}
}
