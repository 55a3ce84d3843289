package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/sparkchain/tge/config"
	"github.com/sparkchain/tge/pkg/client"
	"github.com/sparkchain/tge/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	apiURLFlag := flag.String("api-url", "http://localhost:8080", "distribution service base URL (or set TGE_API_URL env var)")
	keypairFlag := flag.String("keypair", "", "path to the authority keypair file (or set TGE_KEYPAIR env var)")

	// Commands
	migrateFlag := flag.Bool("migrate", false, "Run database migrations using goose (uses POSTGRES_* env vars)")
	stateFlag := flag.Bool("state", false, "Print the distribution state")
	initializeFlag := flag.Bool("initialize", false, "Initialize the distribution (requires --end-time, --rate)")
	createVaultFlag := flag.Bool("create-vault", false, "Create the reward token vault")
	fundVaultFlag := flag.Bool("fund-vault", false, "Fund the reward token vault (requires --amount)")
	initSignerFlag := flag.Bool("init-signer", false, "Register the backend signer key (requires --signer-key)")
	updateSignerFlag := flag.Bool("update-signer", false, "Rotate or toggle the backend signer (uses --signer-key and/or --signer-active)")
	setEndTimeFlag := flag.Bool("set-end-time", false, "Move the commit deadline (requires --end-time)")
	withdrawFlag := flag.Bool("withdraw", false, "Withdraw raised currency after the distribution ends (requires --amount)")

	// Command options
	endTimeFlag := flag.String("end-time", "", "commit end time (RFC3339 format, e.g. 2026-09-01T00:00:00Z)")
	rateFlag := flag.Uint64("rate", 0, "points-to-currency rate, fixed-point scaled by 1e9")
	targetRaiseFlag := flag.Uint64("target-raise", 0, "raise target that ends the distribution when reached (0 = none)")
	amountFlag := flag.Uint64("amount", 0, "amount for --fund-vault and --withdraw")
	signerKeyFlag := flag.String("signer-key", "", "backend signer public key (base58)")
	signerActiveFlag := flag.String("signer-active", "", "set the signer active flag (true or false)")
	flag.Parse()

	_ = godotenv.Load()

	if v := os.Getenv("TGE_API_URL"); v != "" {
		*apiURLFlag = v
	}
	if v := os.Getenv("TGE_KEYPAIR"); v != "" {
		*keypairFlag = v
	}

	log := logger.New(*verboseFlag)
	ctx := context.Background()

	if *migrateFlag {
		pgCfg, err := config.PgConfigFromEnv()
		if err != nil {
			return fmt.Errorf("failed to load postgres config: %w", err)
		}
		return config.RunMigrations(log, pgCfg.ConnStr())
	}

	var adminKey solana.PrivateKey
	if *keypairFlag != "" {
		var err error
		adminKey, err = solana.PrivateKeyFromSolanaKeygenFile(*keypairFlag)
		if err != nil {
			return fmt.Errorf("failed to load keypair: %w", err)
		}
	}

	c, err := client.New(client.Config{
		Logger:   log,
		BaseURL:  *apiURLFlag,
		AdminKey: adminKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	switch {
	case *stateFlag:
		state, err := c.State(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(state)

	case *initializeFlag:
		endTime, err := parseEndTime(*endTimeFlag)
		if err != nil {
			return err
		}
		if err := c.Initialize(ctx, endTime, *rateFlag, *targetRaiseFlag); err != nil {
			return err
		}
		log.Info("distribution initialized",
			"authority", adminKey.PublicKey().String(),
			"end_time", endTime, "rate", *rateFlag, "target_raise", *targetRaiseFlag)
		return nil

	case *createVaultFlag:
		if err := c.CreateVault(ctx); err != nil {
			return err
		}
		log.Info("vault created")
		return nil

	case *fundVaultFlag:
		if *amountFlag == 0 {
			return fmt.Errorf("--amount is required for --fund-vault")
		}
		if err := c.FundVault(ctx, *amountFlag); err != nil {
			return err
		}
		log.Info("vault funded", "amount", *amountFlag)
		return nil

	case *initSignerFlag:
		key, err := solana.PublicKeyFromBase58(*signerKeyFlag)
		if err != nil {
			return fmt.Errorf("invalid --signer-key: %w", err)
		}
		if err := c.InitializeSigner(ctx, key); err != nil {
			return err
		}
		log.Info("backend signer initialized", "public_key", key.String())
		return nil

	case *updateSignerFlag:
		var newKey *solana.PublicKey
		if *signerKeyFlag != "" {
			key, err := solana.PublicKeyFromBase58(*signerKeyFlag)
			if err != nil {
				return fmt.Errorf("invalid --signer-key: %w", err)
			}
			newKey = &key
		}
		var isActive *bool
		switch *signerActiveFlag {
		case "":
		case "true":
			v := true
			isActive = &v
		case "false":
			v := false
			isActive = &v
		default:
			return fmt.Errorf("invalid --signer-active: want true or false, got %q", *signerActiveFlag)
		}
		if newKey == nil && isActive == nil {
			return fmt.Errorf("--update-signer needs --signer-key and/or --signer-active")
		}
		if err := c.UpdateSigner(ctx, newKey, isActive); err != nil {
			return err
		}
		log.Info("backend signer updated")
		return nil

	case *setEndTimeFlag:
		endTime, err := parseEndTime(*endTimeFlag)
		if err != nil {
			return err
		}
		if err := c.SetCommitEndTime(ctx, endTime); err != nil {
			return err
		}
		log.Info("commit end time updated", "end_time", endTime)
		return nil

	case *withdrawFlag:
		if *amountFlag == 0 {
			return fmt.Errorf("--amount is required for --withdraw")
		}
		if err := c.Withdraw(ctx, *amountFlag); err != nil {
			return err
		}
		log.Info("currency withdrawn", "amount", *amountFlag)
		return nil
	}

	flag.Usage()
	return fmt.Errorf("no command specified")
}

func parseEndTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("--end-time is required")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --end-time: %w", err)
	}
	return t, nil
}
