// Command ledgerctl reads and writes a medichain ledger store and prints JSON.
//
//	ledgerctl [flags] medicines
//	ledgerctl [flags] batch <id>
//	ledgerctl [flags] history <id>
//	ledgerctl [flags] inventory <address>
//	ledgerctl [flags] verify <id>
//	ledgerctl [flags] register -caller <address> -sku <sku> -name <name> [...]
//	ledgerctl [flags] create-batch -caller <address> -id <id> -sku <sku> -quantity <n> -expiry <time|duration>
//	ledgerctl [flags] transfer -caller <address> -id <id> -to <address> -status <status> [...]
//	ledgerctl [flags] set-role -caller <address> -id <address> -role <role> [-enabled=false]
//	ledgerctl [flags] demo
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"medichain/internal/archive"
	"medichain/internal/config"
	"medichain/internal/core"
	blobmem "medichain/internal/infra/blob/memory"
	"medichain/internal/log"
	"medichain/internal/notify"
	"medichain/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ledgerctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envFile := fs.String("env", ".env", "dotenv file loaded before MEDICHAIN_* variables")
	storage := fs.String("storage", "", "storage driver override (memory, sqlite, postgres, leveldb)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		_, _ = fmt.Fprintln(stderr, "usage: ledgerctl [flags] medicines|batch|history|inventory|verify|register|create-batch|transfer|set-role|demo [args]")
		return 2
	}
	cfg, err := config.Load(*envFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ledgerctl: %v\n", err)
		return 1
	}
	if *storage != "" {
		cfg.StorageDriver = *storage
	}
	log.InitConfig(log.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, UTC: true, Output: stderr})

	ctx := log.WithLogField(context.Background(), "cmd", fs.Arg(0))
	out, err := run(ctx, cfg, fs.Args())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ledgerctl: %v\n", err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

func run(ctx context.Context, cfg config.Config, args []string) (any, error) {
	cmd, rest := args[0], args[1:]
	if cmd == "demo" {
		return runDemo(ctx, cfg)
	}
	arg := func() (string, error) {
		if len(rest) != 1 {
			return "", fmt.Errorf("%w: %s takes exactly one argument", errUsage, cmd)
		}
		return rest[0], nil
	}

	ledger, closeStore, err := openLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	if write, ok := writeCommands[cmd]; ok {
		return write(ctx, ledger, rest)
	}
	switch cmd {
	case "medicines":
		return ledger.GetAllMedicines(ctx)
	case "batch":
		id, err := arg()
		if err != nil {
			return nil, err
		}
		return ledger.GetBatch(ctx, id)
	case "history":
		id, err := arg()
		if err != nil {
			return nil, err
		}
		return ledger.GetBatchHistory(ctx, id)
	case "inventory":
		raw, err := arg()
		if err != nil {
			return nil, err
		}
		owner, err := domain.ParseIdentity(raw)
		if err != nil {
			return nil, err
		}
		return ledger.GetMyInventory(ctx, owner)
	case "verify":
		id, err := arg()
		if err != nil {
			return nil, err
		}
		report := verifyReport{BatchID: id, Verified: true}
		if verr := ledger.VerifyHistory(ctx, id); verr != nil {
			if domain.KindOf(verr) == domain.KindNotFound {
				return nil, verr
			}
			report.Verified = false
			report.Error = verr.Error()
		}
		return report, nil
	default:
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

type verifyReport struct {
	BatchID  string `json:"batch_id"`
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
}

func openLedger(ctx context.Context, cfg config.Config) (*core.Ledger, func(), error) {
	store, err := core.OpenPersistentStore(cfg, core.NewDefaultRulesEngine(), nil)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if c, ok := store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.L(ctx).WithError(err).Warn("closing store")
			}
		}
	}
	ledger := core.NewLedger(store, core.WithLogger(log.NewStructured(log.L(ctx))))
	if cfg.AdminAddress != "" {
		admin, err := domain.ParseIdentity(cfg.AdminAddress)
		if err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("%sADMIN_ADDRESS: %w", config.EnvPrefix, err)
		}
		if _, err := ledger.Bootstrap(ctx, admin); err != nil {
			closeStore()
			return nil, nil, err
		}
	}
	return ledger, closeStore, nil
}

var (
	demoAdmin        = domain.MustParseIdentity("0x00000000000000000000000000000000000000a1")
	demoManufacturer = domain.MustParseIdentity("0x00000000000000000000000000000000000000b2")
	demoDoctor       = domain.MustParseIdentity("0x00000000000000000000000000000000000000c3")
)

type demoReport struct {
	Batch               domain.Batch           `json:"batch"`
	History             []domain.TrackingEvent `json:"history"`
	ManufacturerHolds   []string               `json:"manufacturer_inventory"`
	DoctorHolds         []string               `json:"doctor_inventory"`
	StaleTransferError  string                 `json:"stale_transfer_error"`
	Notifications       []string               `json:"notifications"`
	ArchivedDocumentKey string                 `json:"archived_document"`
}

// runDemo plays the AMX500 / B-001 custody scenario against an in-memory
// ledger and archives the resulting provenance document.
func runDemo(ctx context.Context, cfg config.Config) (*demoReport, error) {
	report := &demoReport{}
	dispatcher := notify.NewDispatcher()
	dispatcher.Subscribe("demo", func(_ context.Context, n domain.Notification) error {
		report.Notifications = append(report.Notifications, string(n.Kind))
		return nil
	})
	if client := notify.NewRedisClient(cfg); client != nil {
		defer func() { _ = client.Close() }()
		dispatcher.Subscribe("redis", notify.NewRedisSink(client, cfg.RedisChannel).Handle)
	}
	ledger := core.NewInMemoryLedger(core.NewDefaultRulesEngine(), nil,
		core.WithDispatcher(dispatcher),
		core.WithLogger(log.NewStructured(log.L(ctx))),
	)

	if _, err := ledger.Bootstrap(ctx, demoAdmin); err != nil {
		return nil, err
	}
	if _, err := ledger.SetManufacturer(ctx, demoAdmin, demoManufacturer, true); err != nil {
		return nil, err
	}
	if _, err := ledger.SetDoctor(ctx, demoAdmin, demoDoctor, true); err != nil {
		return nil, err
	}
	if _, _, err := ledger.RegisterMedicine(ctx, demoManufacturer, core.MedicineInput{
		SKU:               "AMX500",
		Name:              "Amoxicillin",
		Category:          "Antibiotic",
		Dosage:            "500mg",
		ManufacturerName:  "Acme Pharma",
		ActiveIngredients: "Amoxicillin trihydrate",
	}); err != nil {
		return nil, err
	}
	if _, _, err := ledger.CreateBatch(ctx, demoManufacturer, core.BatchInput{
		BatchID:    "B-001",
		SKU:        "AMX500",
		Quantity:   100,
		ExpiryDate: time.Now().AddDate(1, 0, 0),
		Location:   "Factory A",
	}); err != nil {
		return nil, err
	}
	shipment := core.TransferInput{
		BatchID:     "B-001",
		To:          demoDoctor,
		Location:    "Clinic B",
		Title:       "Dispatch",
		Description: "Shipped",
		NewStatus:   domain.StatusInTransit,
	}
	batch, _, err := ledger.TransferBatch(ctx, demoManufacturer, shipment)
	if err != nil {
		return nil, err
	}
	report.Batch = batch
	if _, _, err := ledger.TransferBatch(ctx, demoManufacturer, shipment); err != nil {
		report.StaleTransferError = string(domain.KindOf(err))
	}

	if report.History, err = ledger.GetBatchHistory(ctx, "B-001"); err != nil {
		return nil, err
	}
	if report.ManufacturerHolds, err = ledger.GetMyInventory(ctx, demoManufacturer); err != nil {
		return nil, err
	}
	if report.DoctorHolds, err = ledger.GetMyInventory(ctx, demoDoctor); err != nil {
		return nil, err
	}

	info, err := archive.New(ledger, blobmem.New(), nil).Export(ctx, "B-001")
	if err != nil {
		return nil, err
	}
	report.ArchivedDocumentKey = info.Key
	return report, nil
}
