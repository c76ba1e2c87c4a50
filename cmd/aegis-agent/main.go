package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ghalamif/AegisFleet/internal/adapters/wal"
	"github.com/ghalamif/AegisFleet/pkg/aegisfleet"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "matrix":
		err = matrixCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "aegis-agent %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func runCommand(args []string) error {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	cfgPath := fs.StringP("config", "c", "./data/config.yaml", "path to agent configuration file (.yaml or .toml)")
	matrixPath := fs.StringP("matrix", "m", "", "collection scheme document; overrides matrix.path")
	watch := fs.Bool("watch", false, "reload the collection scheme document when it changes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := aegisfleet.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *matrixPath != "" {
		flow.Config().Matrix.Path = *matrixPath
	}
	if *watch {
		flow.Config().Matrix.Watch = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := pflag.NewFlagSet("validate", pflag.ContinueOnError)
	cfgPath := fs.StringP("config", "c", "./data/config.yaml", "path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := aegisfleet.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if cfg.Matrix.Path != "" {
		if _, err := aegisfleet.LoadMatrix(cfg.Matrix.Path); err != nil {
			return fmt.Errorf("matrix %s: %w", cfg.Matrix.Path, err)
		}
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	return nil
}

func matrixCommand(args []string) error {
	fs := pflag.NewFlagSet("matrix", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: aegis-agent matrix <schemes.yaml|.json|.jsonc>")
	}

	m, err := aegisfleet.LoadMatrix(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Printf("%d condition(s), %d expression node(s)\n", len(m.Conditions), len(m.Nodes))
	for _, c := range m.Conditions {
		fmt.Printf("\n%s\n", c.Metadata.CollectionSchemeID)
		fmt.Printf("  when      %s\n", formatExpression(m, c.Root))
		fmt.Printf("  signals   %d  frames %d  dtcs %t\n", len(c.Signals), len(c.CANFrames), c.IncludeActiveDTCs)
		fmt.Printf("  interval  %s  after %s  rising %t  p=%.2f\n",
			c.MinimumPublishInterval, c.AfterDuration, c.TriggerOnlyOnRisingEdge, c.ProbabilityToSend)
	}
	return nil
}

func statsCommand(args []string) error {
	fs := pflag.NewFlagSet("stats", pflag.ContinueOnError)
	walDir := fs.String("wal", "", "print spool statistics for this WAL directory and exit")
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *walDir != "" {
		return printWALStats(*walDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(ctx, *url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printWALStats(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	w, err := wal.NewFileWAL(dir)
	if err != nil {
		return err
	}
	defer w.Close()

	st := w.Stats()
	pending := uint64(0)
	if st.LatestAppended >= st.OldestUncommitted {
		pending = uint64(st.LatestAppended-st.OldestUncommitted) + 1
	}
	fmt.Printf("wal %s: pending=%d oldest_uncommitted=%d latest=%d size_bytes=%d\n",
		dir, pending, st.OldestUncommitted, st.LatestAppended, st.SizeBytes)
	return nil
}

var snapshotMetrics = []string{
	"aegis_inspection_collections_total",
	"aegis_collections_published_total",
	"aegis_input_dropped_total",
	"aegis_queue_length",
	"aegis_output_queue_length",
	"aegis_wal_size_bytes",
}

func printMetricsSnapshot(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	values, err := scanMetrics(bufio.NewScanner(resp.Body), snapshotMetrics)
	if err != nil {
		return err
	}

	parts := make([]string, 0, len(snapshotMetrics))
	for _, key := range snapshotMetrics {
		parts = append(parts, fmt.Sprintf("%s=%g", strings.TrimPrefix(key, "aegis_"), values[key]))
	}
	fmt.Printf("[%s] %s\n", time.Now().Format(time.RFC3339), strings.Join(parts, " "))
	return nil
}

// scanMetrics picks unlabelled samples of keys out of the Prometheus text format.
func scanMetrics(scanner *bufio.Scanner, keys []string) (map[string]float64, error) {
	values := make(map[string]float64, len(keys))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range keys {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %g", &value); err == nil {
					values[key] = value
				}
			}
		}
	}
	return values, scanner.Err()
}

func printUsage() {
	fmt.Printf(`AegisFleet agent

Usage:
  aegis-agent <command> [flags]

Commands:
  run        Start the agent runtime using the provided config
  validate   Load and validate a config file (and its matrix) without starting the runtime
  matrix     Compile a collection scheme document and print its conditions
  stats      Poll the Prometheus metrics endpoint, or inspect a WAL directory with --wal

Examples:
  aegis-agent run --config ./data/config.yaml --matrix ./data/schemes.yaml --watch
  aegis-agent validate -c ./data/config.toml
  aegis-agent matrix ./data/schemes.yaml
  aegis-agent stats --url http://localhost:9100/metrics --interval 1s
  aegis-agent stats --wal ./data/wal
`)
}
