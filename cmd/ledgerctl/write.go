package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"medichain/internal/core"
	"medichain/pkg/domain"
)

var writeCommands = map[string]func(ctx context.Context, ledger *core.Ledger, args []string) (any, error){
	"register":     runRegister,
	"create-batch": runCreateBatch,
	"transfer":     runTransfer,
	"set-role":     runSetRole,
}

// commandFlags returns a flag set for a write command with the shared -caller
// flag registered.
func commandFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	caller := fs.String("caller", "", "address of the identity performing the call")
	return fs, caller
}

func parseCommand(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: %s: unexpected argument %q", errUsage, fs.Name(), fs.Arg(0))
	}
	return nil
}

func parseCaller(name, raw string) (domain.Identity, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: %s requires -caller", errUsage, name)
	}
	return domain.ParseIdentity(raw)
}

func runRegister(ctx context.Context, ledger *core.Ledger, args []string) (any, error) {
	fs, rawCaller := commandFlags("register")
	var in core.MedicineInput
	fs.StringVar(&in.SKU, "sku", "", "medicine SKU")
	fs.StringVar(&in.Name, "name", "", "medicine name")
	fs.StringVar(&in.Category, "category", "", "category")
	fs.StringVar(&in.Dosage, "dosage", "", "dosage")
	fs.StringVar(&in.ManufacturerName, "manufacturer", "", "manufacturer name")
	fs.StringVar(&in.ActiveIngredients, "ingredients", "", "active ingredients")
	if err := parseCommand(fs, args); err != nil {
		return nil, err
	}
	caller, err := parseCaller(fs.Name(), *rawCaller)
	if err != nil {
		return nil, err
	}
	m, _, err := ledger.RegisterMedicine(ctx, caller, in)
	return m, err
}

func runCreateBatch(ctx context.Context, ledger *core.Ledger, args []string) (any, error) {
	fs, rawCaller := commandFlags("create-batch")
	var in core.BatchInput
	fs.StringVar(&in.BatchID, "id", "", "batch id")
	fs.StringVar(&in.SKU, "sku", "", "medicine SKU")
	fs.Uint64Var(&in.Quantity, "quantity", 0, "number of units")
	expiry := fs.String("expiry", "", "expiry as RFC 3339 time or a duration from now")
	fs.StringVar(&in.Location, "location", "", "place of manufacture")
	if err := parseCommand(fs, args); err != nil {
		return nil, err
	}
	caller, err := parseCaller(fs.Name(), *rawCaller)
	if err != nil {
		return nil, err
	}
	if in.ExpiryDate, err = parseExpiry(*expiry, time.Now()); err != nil {
		return nil, err
	}
	b, _, err := ledger.CreateBatch(ctx, caller, in)
	return b, err
}

func parseExpiry(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, domain.InvalidArgument("-expiry is required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return time.Time{}, domain.InvalidArgument("expiry %q is neither an RFC 3339 time nor a duration", raw)
	}
	return now.Add(d), nil
}

func runTransfer(ctx context.Context, ledger *core.Ledger, args []string) (any, error) {
	fs, rawCaller := commandFlags("transfer")
	var in core.TransferInput
	fs.StringVar(&in.BatchID, "id", "", "batch id")
	to := fs.String("to", "", "address of the new owner")
	status := fs.String("status", "", "new batch status")
	fs.StringVar(&in.Location, "location", "", "location of the hand-off")
	fs.StringVar(&in.Title, "title", "", "event title")
	fs.StringVar(&in.Description, "description", "", "event description")
	if err := parseCommand(fs, args); err != nil {
		return nil, err
	}
	caller, err := parseCaller(fs.Name(), *rawCaller)
	if err != nil {
		return nil, err
	}
	if in.NewStatus, err = domain.ParseBatchStatus(*status); err != nil {
		return nil, err
	}
	in.To = domain.Identity(*to)
	b, _, err := ledger.TransferBatch(ctx, caller, in)
	return b, err
}

type roleReport struct {
	Identity domain.Identity `json:"identity"`
	Role     domain.Role     `json:"role"`
	Enabled  bool            `json:"enabled"`
}

func runSetRole(ctx context.Context, ledger *core.Ledger, args []string) (any, error) {
	fs, rawCaller := commandFlags("set-role")
	id := fs.String("id", "", "address receiving or losing the role")
	role := fs.String("role", "", "manufacturer, doctor or pharmacy")
	enabled := fs.Bool("enabled", true, "grant (true) or revoke (false)")
	if err := parseCommand(fs, args); err != nil {
		return nil, err
	}
	caller, err := parseCaller(fs.Name(), *rawCaller)
	if err != nil {
		return nil, err
	}
	r := domain.Role(strings.ToLower(strings.TrimSpace(*role)))
	if _, err := ledger.SetRole(ctx, caller, domain.Identity(*id), r, *enabled); err != nil {
		return nil, err
	}
	return roleReport{Identity: domain.Identity(*id).Normalize(), Role: r, Enabled: *enabled}, nil
}
