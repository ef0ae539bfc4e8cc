// cmd/guardctl/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/launch-guard/internal/api"
	"github.com/rovshanmuradov/launch-guard/internal/domain"
	"github.com/rovshanmuradov/launch-guard/internal/launch"
	"github.com/rovshanmuradov/launch-guard/internal/sniper"
)

const usage = `usage: guardctl [-api URL] [-timeout D] <command> [flags]

commands:
  start   register sniper protection for a token
  status  show the monitor state of a token
  cancel  stop a live monitor
  launch  submit a launch request read from a JSON file
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "guardctl:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	global := flag.NewFlagSet("guardctl", flag.ContinueOnError)
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	baseURL := global.String("api", envOr("LAUNCHGUARD_API", "http://127.0.0.1:8080"), "launch guard API base URL")
	timeout := global.Duration("timeout", 60*time.Second, "request timeout")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	client := api.NewClient(*baseURL, *timeout)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "start":
		req, err := parseStart(rest)
		if err != nil {
			return err
		}
		resp, err := client.StartMonitor(ctx, *req)
		if err != nil {
			return err
		}
		return printJSON(out, resp)
	case "status", "cancel":
		if len(rest) != 1 {
			return fmt.Errorf("%s takes exactly one token mint", cmd)
		}
		call := client.MonitorStatus
		if cmd == "cancel" {
			call = client.CancelMonitor
		}
		resp, err := call(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(out, resp)
	case "launch":
		req, err := parseLaunch(rest)
		if err != nil {
			return err
		}
		resp, err := client.Launch(ctx, *req)
		if resp != nil {
			if perr := printJSON(out, resp); perr != nil {
				return perr
			}
		}
		return err
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func parseStart(args []string) (*sniper.StartRequest, error) {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	token := fs.String("token", "", "token mint (required)")
	launchSlot := fs.Uint64("launch-slot", 0, "slot the launch landed in (required)")
	supply := fs.String("supply", "0", "total supply in UI units, 0 disables the percent check")
	decimals := fs.Uint("decimals", 6, "token decimals")
	maxPct := fs.String("max-supply-pct", "5", "max percent of supply one early buy may take")
	maxQuote := fs.String("max-quote", "1", "max SOL one early buy may spend")
	window := fs.Int("window", 4, "detection window in blocks")
	sellPct := fs.String("sell-pct", "100", "percent of each mitigation wallet balance to sell")
	wallets := fs.String("wallets", "", "comma separated mitigation wallet ids")
	exclude := fs.String("exclude", "", "comma separated wallets to ignore")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *decimals > 255 {
		return nil, fmt.Errorf("decimals %d out of range", *decimals)
	}

	var bad []string
	parse := func(name, raw string) decimal.Decimal {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			bad = append(bad, "-"+name)
		}
		return d
	}
	req := &sniper.StartRequest{
		TokenMint: *token,
		Config: domain.DetectionConfig{
			Enabled:             true,
			MaxSupplyPercent:    parse("max-supply-pct", *maxPct),
			MaxQuoteAmount:      parse("max-quote", *maxQuote),
			WindowBlocks:        *window,
			MitigationWalletIDs: splitList(*wallets),
			SellPercentage:      parse("sell-pct", *sellPct),
		},
		LaunchSlot:      *launchSlot,
		ExcludedWallets: splitList(*exclude),
		TotalSupply:     parse("supply", *supply),
		Decimals:        uint8(*decimals),
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("not a decimal number: %s", strings.Join(bad, ", "))
	}
	return req, nil
}

func parseLaunch(args []string) (*launch.Request, error) {
	fs := flag.NewFlagSet("launch", flag.ContinueOnError)
	file := fs.String("file", "", "JSON launch request (required, - for stdin)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *file == "" {
		return nil, errors.New("launch needs -file")
	}

	var r io.Reader = os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var req launch.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("parse %s: %w", *file, err)
	}
	return &req, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
