// Command simctl runs negotiations offline against a TOML fixture and prints
// the outcomes. Session logs can be exported as JSON lines.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/danmuck/lagom/internal/config"
	"github.com/danmuck/lagom/internal/coordinator"
	"github.com/danmuck/lagom/internal/enrich"
	"github.com/danmuck/lagom/internal/handshake"
	"github.com/danmuck/lagom/internal/logging"
	"github.com/danmuck/lagom/internal/store"
)

type options struct {
	fixture  string
	from     string
	to       string
	seed     int64
	attempts int
	logPath  string
	asJSON   bool
}

func main() {
	opts := options{}
	flag.StringVar(&opts.fixture, "fixture", "cmd/simctl/fixture.toml", "fixture path")
	flag.StringVar(&opts.from, "from", "", "initiator id (default: every relationship)")
	flag.StringVar(&opts.to, "to", "", "receiver id")
	flag.Int64Var(&opts.seed, "seed", 0, "mask seed; 0 uses the clock")
	flag.IntVar(&opts.attempts, "attempts", 1, "attempts per pair for retryable outcomes")
	flag.StringVar(&opts.logPath, "log", "", "write session logs as JSON lines to this path")
	flag.BoolVar(&opts.asJSON, "json", false, "print results as JSON")
	flag.Parse()

	logging.ConfigureRuntime()
	if err := run(context.Background(), opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "simctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	var logOut io.Writer
	if opts.logPath != "" {
		f, err := os.Create(opts.logPath)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	fixture, err := config.LoadFixture(opts.fixture)
	if err != nil {
		return err
	}
	results, err := simulate(ctx, fixture, opts, logOut)
	if err != nil {
		return err
	}
	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	return printTable(out, results)
}

type pairResult struct {
	Initiator string             `json:"initiator"`
	Receiver  string             `json:"receiver"`
	Result    coordinator.Result `json:"result"`
}

// simulate negotiates the selected pairs in fixture order on one in-memory
// store, so earlier commits count against later quotas.
func simulate(ctx context.Context, fixture config.Fixture, opts options, logOut io.Writer) ([]pairResult, error) {
	st := store.NewMemory()
	if err := config.Seed(ctx, st, fixture); err != nil {
		return nil, err
	}

	engineOpts := []handshake.Option{}
	if !fixture.Now.IsZero() {
		now := fixture.Now
		engineOpts = append(engineOpts, handshake.WithClock(func() time.Time { return now }))
	}
	if opts.seed != 0 {
		engineOpts = append(engineOpts, handshake.WithRandSource(rand.NewSource(opts.seed)))
	}
	engine, err := handshake.NewEngine(handshake.DefaultConfig(), st, engineOpts...)
	if err != nil {
		return nil, err
	}
	cfg := coordinator.DefaultConfig()
	cfg.Retry.MaxAttempts = opts.attempts
	coord := coordinator.New(engine, st, st, enrich.Static{}, cfg)

	pairs, err := selectPairs(fixture, opts)
	if err != nil {
		return nil, err
	}
	results := make([]pairResult, 0, len(pairs))
	for _, p := range pairs {
		res, err := coord.Negotiate(ctx, p.InitiatorID, p.ReceiverID, nil)
		if err != nil {
			return results, fmt.Errorf("%s -> %s: %w", p.InitiatorID, p.ReceiverID, err)
		}
		if logOut != nil {
			if err := handshake.WriteLog(logOut, res.SessionID, res.Log); err != nil {
				return results, err
			}
		}
		results = append(results, pairResult{Initiator: p.InitiatorID, Receiver: p.ReceiverID, Result: res})
	}
	return results, nil
}

func selectPairs(fixture config.Fixture, opts options) ([]coordinator.Pair, error) {
	from, to := strings.TrimSpace(opts.from), strings.TrimSpace(opts.to)
	if from != "" || to != "" {
		if from == "" || to == "" {
			return nil, errors.New("both -from and -to are required")
		}
		return []coordinator.Pair{{InitiatorID: from, ReceiverID: to}}, nil
	}
	pairs := make([]coordinator.Pair, 0, len(fixture.Relationships))
	for _, r := range fixture.Relationships {
		pairs = append(pairs, coordinator.Pair{InitiatorID: r.Initiator, ReceiverID: r.Target})
	}
	return pairs, nil
}

func printTable(out io.Writer, results []pairResult) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAIR\tSIGNAL\tCODE\tSLOT\tMESSAGE")
	for _, r := range results {
		slot := "-"
		if r.Result.CommittedSlot != nil {
			slot = r.Result.CommittedSlot.Format("Mon Jan 2 15:04")
		}
		msg := r.Result.HumanMessage
		if r.Result.Note != "" {
			msg += " " + r.Result.Note
		}
		fmt.Fprintf(tw, "%s -> %s\t%s\t%s\t%s\t%s\n",
			r.Initiator, r.Receiver, r.Result.Signal, r.Result.Code, slot, msg)
	}
	return tw.Flush()
}
