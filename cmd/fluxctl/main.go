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

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"fluxsdk/pkg/config"
	"fluxsdk/pkg/sdk"
	"fluxsdk/pkg/sol"
	"fluxsdk/pkg/txbuilder"
)

type SimulationResponse struct {
	UnitsConsumed uint64   `json:"unitsConsumed"`
	Success       bool     `json:"success"`
	Error         string   `json:"error,omitempty"`
	ErrorCode     uint32   `json:"errorCode,omitempty"`
	Logs          []string `json:"logs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

var (
	configPath   = flag.String("config", "flux.yaml", "Path to the YAML config file (optional)")
	rpcEndpoints = flag.String("rpc", "", "Comma-separated RPC endpoints (reads from .env if not specified)")
	maxRetries   = flag.Int("retries", 0, "Attempts per read (default from config: 5)")
	timeout      = flag.Duration("timeout", 0, "Per-attempt timeout (default from config: 5s)")
	jsonOutput   = flag.Bool("json", true, "Output as JSON")
	verbose      = flag.Bool("v", false, "Debug logging to stderr")
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: fluxctl [flags] <command> [command flags]")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	fmt.Fprintln(os.Stderr, "  vault     -address <pubkey> [-price <oracle price>]   read and decode a vault")
	fmt.Fprintln(os.Stderr, "  profile   -address <pubkey>                           read and decode a user profile")
	fmt.Fprintln(os.Stderr, "  watch     -address <pubkey> [-for <duration>]         stream vault updates")
	fmt.Fprintln(os.Stderr, "  simulate  -payer <pubkey> -vault <pubkey> -oracle <pubkey> -history <pubkey> -amount <n>")
	fmt.Fprintln(os.Stderr, "  tips      -jito <url>                                 list bundle tip accounts")
	fmt.Fprintln(os.Stderr, "\nFlags:")
	flag.PrintDefaults()
}

func main() {
	if err := config.LoadEnv(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch command {
	case "vault":
		err = runVault(ctx, args)
	case "profile":
		err = runProfile(ctx, args)
	case "watch":
		err = runWatch(ctx, args)
	case "simulate":
		err = runSimulate(ctx, args)
	case "tips":
		err = runTips(ctx, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		outputError(err.Error())
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if *rpcEndpoints != "" {
		cfg.RPC.Endpoints = strings.Split(*rpcEndpoints, ",")
		for i := range cfg.RPC.Endpoints {
			cfg.RPC.Endpoints[i] = strings.TrimSpace(cfg.RPC.Endpoints[i])
		}
	}
	if *maxRetries > 0 {
		cfg.Request.MaxRetries = *maxRetries
	}
	if *timeout > 0 {
		cfg.Request.Timeout = *timeout
	}
	if *verbose {
		cfg.Log.Level = "debug"
		cfg.Log.Development = true
	} else if os.Getenv("LOG_LEVEL") == "" {
		cfg.Log.Level = "warn"
	}
	return cfg, cfg.Validate()
}

// connect dials the client. withPush also opens the websocket transport.
func connect(ctx context.Context, withPush bool) (*sdk.Client, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	cfg.RPC.DisablePush = !withPush
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	client, err := sdk.Dial(ctx, cfg, logger)
	return client, logger, err
}

func runVault(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("vault", flag.ExitOnError)
	address := fs.String("address", "", "Vault account address (required)")
	price := fs.Uint64("price", 0, "Oracle price used for the health factor (optional)")
	fs.Parse(args)

	addr, err := parseKey("address", *address)
	if err != nil {
		return err
	}
	client, _, err := connect(ctx, false)
	if err != nil {
		return err
	}
	defer client.Close()

	state, err := client.GetVaultState(ctx, addr)
	if err != nil {
		return err
	}
	summary := state.Summarize(*price)
	if !*jsonOutput {
		fmt.Printf("\n=== Vault %s ===\n", summary.Address)
		fmt.Printf("Authority: %s\n", summary.Authority)
		fmt.Printf("Total assets: %s\n", summary.TotalAssets)
		fmt.Printf("Liabilities: %s\n", summary.Liabilities)
		fmt.Printf("Collateral ratio: %d bps\n", summary.CollateralRatioBps)
		fmt.Printf("Risk factor: %d bps\n", summary.RiskFactorBps)
		fmt.Printf("Utilization: %d bps\n", summary.UtilizationBps)
		fmt.Printf("Interest index: %.9f\n", summary.InterestIndex)
		fmt.Printf("Frozen: %v\n", summary.IsFrozen)
		if summary.HealthFactor != nil {
			fmt.Printf("Health factor: %d bps\n", *summary.HealthFactor)
		}
		return nil
	}
	return printJSON(summary)
}

func runProfile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	address := fs.String("address", "", "User profile account address (required)")
	fs.Parse(args)

	addr, err := parseKey("address", *address)
	if err != nil {
		return err
	}
	client, _, err := connect(ctx, false)
	if err != nil {
		return err
	}
	defer client.Close()

	profile, err := client.GetUserProfile(ctx, addr)
	if err != nil {
		return err
	}
	return printJSON(profile)
}

func runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	address := fs.String("address", "", "Vault account address (required)")
	duration := fs.Duration("for", 0, "Stop after this long (default: until interrupted)")
	fs.Parse(args)

	addr, err := parseKey("address", *address)
	if err != nil {
		return err
	}
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	client, logger, err := connect(ctx, true)
	if err != nil {
		return err
	}
	defer client.Close()

	updates, id, err := client.StreamVaultUpdates(ctx, addr)
	if err != nil {
		return err
	}
	logger.Info("watching vault", zap.String("address", addr.String()), zap.Uint64("subscription_id", uint64(id)))

	for update := range updates {
		if err := printJSON(update.State.Summarize(0)); err != nil {
			return err
		}
	}
	return nil
}

func runSimulate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	payer := fs.String("payer", "", "Fee payer and vault authority (required)")
	vaultAddr := fs.String("vault", "", "Vault account (required)")
	oracle := fs.String("oracle", "", "Oracle feed account (required)")
	history := fs.String("history", "", "History buffer account (required)")
	amount := fs.Uint64("amount", 0, "Amount in base units (required)")
	units := fs.Uint("units", 0, "Compute unit limit (default from config)")
	fee := fs.Uint64("fee", 0, "Priority fee in micro-lamports per unit (default from config)")
	fs.Parse(args)

	keys := make(map[string]solana.PublicKey, 4)
	for name, value := range map[string]string{"payer": *payer, "vault": *vaultAddr, "oracle": *oracle, "history": *history} {
		key, err := parseKey(name, value)
		if err != nil {
			return err
		}
		keys[name] = key
	}

	client, _, err := connect(ctx, false)
	if err != nil {
		return err
	}
	defer client.Close()

	builder := client.NewTransactionBuilder(keys["payer"]).
		AddFetchStep(txbuilder.FetchAccounts{
			Vault:         keys["vault"],
			OracleFeed:    keys["oracle"],
			HistoryBuffer: keys["history"],
		}, *amount)
	if *units > 0 {
		builder.SetComputeBudget(uint32(*units))
	}
	if *fee > 0 {
		builder.SetPriorityFee(*fee)
	}

	simCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	result, err := client.Simulate(simCtx, builder)
	if err != nil {
		return err
	}

	resp := SimulationResponse{
		UnitsConsumed: result.UnitsConsumed,
		Success:       !result.Failed(),
		Logs:          result.Logs,
	}
	if simErr := result.Error(); simErr != nil {
		resp.Error = simErr.Error()
	}
	if result.ProgramError != nil {
		resp.ErrorCode = result.ProgramError.Code
	}
	return printJSON(resp)
}

func runTips(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tips", flag.ExitOnError)
	endpoint := fs.String("jito", os.Getenv("JITO_ENDPOINT"), "Block engine URL")
	fs.Parse(args)

	if *endpoint == "" {
		return errors.New("no block engine configured: set -jito or JITO_ENDPOINT")
	}
	accounts, err := sol.NewJitoSender(*endpoint, "", zap.NewNop()).TipAccounts(ctx)
	if err != nil {
		return err
	}
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = a.String()
	}
	return printJSON(map[string][]string{"tipAccounts": out})
}

func parseKey(name, value string) (solana.PublicKey, error) {
	if value == "" {
		return solana.PublicKey{}, fmt.Errorf("missing required -%s", name)
	}
	key, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid -%s: %w", name, err)
	}
	return key, nil
}

func printJSON(v interface{}) error {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(jsonData))
	return nil
}

func outputError(msg string) {
	if *jsonOutput {
		jsonData, _ := json.MarshalIndent(ErrorResponse{Error: msg}, "", "  ")
		fmt.Fprintln(os.Stderr, string(jsonData))
	} else {
		log.Println("Error:", msg)
	}
}
