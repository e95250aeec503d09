package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"QuantGate/internal/di"
	"QuantGate/internal/domain/errs"
	"QuantGate/internal/domain/models"
	domrepo "QuantGate/internal/domain/repository"
	"QuantGate/internal/usecase"
	"QuantGate/pkg/config"
	xhttp "QuantGate/pkg/http"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitPartial = 2
)

type options struct {
	req            models.BacktestRequest
	codeFiles      map[string]*string
	configPath     string
	serverJSON     string
	htmlServerJSON string
	jsonOut        bool
}

func parseFlags(args []string) (*options, error) {
	o := &options{codeFiles: map[string]*string{}}
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	r := &o.req

	fs.StringVar(&r.StrategyID, "strategy_id", "", "stored strategy id")
	fs.StringVar(&r.Symbol, "symbol", "", "symbol to trade")
	fs.StringVar(&r.StartDate, "start_date", "", "start date, YYYY-MM-DD")
	fs.StringVar(&r.EndDate, "end_date", "", "end date, YYYY-MM-DD")
	fs.Float64Var(&r.Capital, "capital", 200000, "initial capital")
	fs.Float64Var(&r.OrderSize, "order", 500, "order size")
	fs.StringVar(&r.Resolution, "resolution", "1d", "bar size: 1m,5m,15m,30m,1h,4h,1d,1w")
	fs.StringVar(&r.FQ, "fq", "post", "price adjustment: post, pre or none")
	fs.Float64Var(&r.Commission, "commission", 0.0003, "commission rate")
	fs.Float64Var(&r.Margin, "margin", 0.05, "margin ratio")
	fs.Float64Var(&r.RiskFree, "riskfreerate", 0.01, "annual risk free rate")
	fs.IntVar(&r.Pyramiding, "pyramiding", 1, "max entries in the same direction")
	fs.IntVar(&r.ListenTime, "listen_time", 60, "seconds to wait for results")
	fs.BoolVar(&r.OpenChart, "open_chart", false, "open the chart when done")
	for _, name := range []string{"choose_stock_file", "indicators_file", "timing_file", "control_risk_file"} {
		o.codeFiles[name] = fs.String(name, "", "file with the "+strings.TrimSuffix(name, "_file")+" block")
	}
	fs.StringVar(&o.configPath, "config", "", "gateway config file")
	fs.StringVar(&o.serverJSON, "server_json", "config/server.json", "nginx proxy settings")
	fs.StringVar(&o.htmlServerJSON, "html_server_json", "config/html_server.json", "builtin chart server settings")
	fs.BoolVar(&o.jsonOut, "json", false, "print the outcome as JSON")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	code, err := readCode(o.codeFiles)
	if err != nil {
		return nil, err
	}
	r.Code = code
	r.Resolution = string(domrepo.NormalizeResolution(r.Resolution))
	return o, nil
}

// readCode loads the inline strategy blocks; nil when none was given.
func readCode(files map[string]*string) (*models.StrategyCode, error) {
	code := &models.StrategyCode{}
	targets := map[string]*string{
		"choose_stock_file": &code.ChooseStock,
		"indicators_file":   &code.Indicators,
		"timing_file":       &code.Timing,
		"control_risk_file": &code.ControlRisk,
	}
	for name, path := range files {
		if path == nil || *path == "" {
			continue
		}
		b, err := os.ReadFile(*path)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", name, err)
		}
		*targets[name] = string(b)
	}
	if code.IsEmpty() {
		return nil, nil
	}
	return code, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	o, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		log.Printf("%v", err)
		return exitFailed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if verrs := xhttp.ValidateStruct(ctx, &o.req); len(verrs) > 0 {
		log.Printf("invalid arguments: %s", xhttp.ValidationSummary(verrs))
		return exitFailed
	}

	cfg, err := config.LoadWithEnv(o.configPath)
	if err != nil {
		log.Printf("config load failed: %v", err)
		return exitFailed
	}
	if err := cfg.LoadResolverFiles(o.serverJSON, o.htmlServerJSON); err != nil {
		log.Printf("resolver config load failed: %v", err)
		return exitFailed
	}
	if cfg.Log.Output == "stdout" {
		cfg.Log.Output = "stderr"
	}

	orch, cleanup, err := di.InitializeOrchestrator(cfg)
	if err != nil {
		log.Printf("initialization failed: %v", err)
		return exitFailed
	}
	defer cleanup()

	out, runErr := orch.Run(ctx, o.req.Job(), usecase.WithListenTime(time.Duration(o.req.ListenTime)*time.Second))
	report(o.jsonOut, out, runErr)

	if out != nil && out.ChartURL != "" && o.req.OpenChart {
		if err := openChart(ctx, out.ChartURL); err != nil {
			log.Printf("open chart: %v", err)
		}
	}

	switch {
	case runErr != nil:
		return exitFailed
	case out.Success:
		return exitOK
	default:
		return exitPartial
	}
}

func report(asJSON bool, out *models.Outcome, runErr error) {
	if asJSON && out != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}
	var re *errs.RenderError
	switch {
	case errors.As(runErr, &re):
		fmt.Printf("chart rendering failed: %v\n", re.Err)
		fmt.Printf("job %s: %d trades, %d equity points collected\n", re.Result.JobID, len(re.Result.Trades), len(re.Result.Equity))
	case runErr != nil:
		fmt.Printf("backtest failed: %v\n", runErr)
	case out.Success:
		fmt.Printf("backtest %s finished\nchart: %s\n", out.JobID, out.ChartURL)
	default:
		fmt.Printf("backtest %s incomplete: %s\nchart: %s\n", out.JobID, out.Error, out.ChartURL)
	}
}
