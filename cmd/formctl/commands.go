package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/JonMunkholm/formreg/internal/auth"
	"github.com/JonMunkholm/formreg/internal/config"
	"github.com/JonMunkholm/formreg/internal/core"
	"github.com/JonMunkholm/formreg/internal/export"
	"github.com/JonMunkholm/formreg/internal/schemafile"
	"github.com/JonMunkholm/formreg/internal/storage/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// cliActor is who formctl acts as in audit entries.
const cliActor = "formctl"

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.Database.Driver != config.DriverPostgres {
		return nil, fmt.Errorf("formctl needs STORAGE_DRIVER=%s, got %q", config.DriverPostgres, cfg.Database.Driver)
	}
	return postgres.Connect(ctx, postgres.PoolConfig{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
	})
}

func runMigrate(ctx context.Context, cfg *config.Config) error {
	pool, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		return err
	}
	slog.Info("migrations applied")
	return nil
}

func runSeed(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("seed: expected exactly one fixture file")
	}

	fixture, err := schemafile.LoadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	pool, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	sum, err := fixture.Apply(ctx, postgres.New(pool))
	if err != nil {
		return fmt.Errorf("seed %s: %w", fs.Arg(0), err)
	}
	slog.Info("seeded", "file", fs.Arg(0), "subjects", sum.Subjects, "schemas", sum.Schemas, "files", sum.Files)
	return nil
}

func runExport(ctx context.Context, cfg *config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	out := fs.String("o", "", "write CSV to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("export: expected exactly one schema id")
	}
	schemaID, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("export: schema id: %w", err)
	}

	pool, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := postgres.New(pool)
	service, err := core.NewService(core.Options{
		Storage: store,
		Files:   store,
		Audit:   store,
	})
	if err != nil {
		return err
	}

	actor := core.StaticActor{Name: cliActor, Capabilities: []core.Capability{core.CapExportSubmissions}}
	sess, err := service.Export(ctx, actor, schemaID)
	if err != nil {
		return fmt.Errorf("export: %s", core.FormatUserError(err))
	}
	defer sess.Close()

	w := stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	n, err := writeCSV(ctx, sess.Table, w)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	slog.Info("export written", "schema", sess.Schema.Title, "rows", n)
	return nil
}

// writeCSV writes table's header and every row, returning the row count.
func writeCSV(ctx context.Context, table *export.Table, w io.Writer) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Header); err != nil {
		return 0, err
	}
	n := 0
	for table.Rows.Next(ctx) {
		if err := cw.Write(table.Rows.Row()); err != nil {
			return n, err
		}
		n++
	}
	if err := table.Rows.Err(); err != nil {
		return n, err
	}
	cw.Flush()
	return n, cw.Error()
}

func runToken(cfg *config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", "", "user id written to the sub claim (required)")
	ttl := fs.Duration("ttl", cfg.Auth.TokenTTL, "token lifetime")
	var subjects uuidList
	var caps capList
	fs.Var(&subjects, "subject", "subject id the user acts for (repeatable)")
	fs.Var(&caps, "cap", "capability to grant (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("token: -user is required")
	}

	issuer := auth.NewIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	token, err := issuer.Issue(*user, subjects, caps, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}

// uuidList is a repeatable flag of UUIDs.
type uuidList []uuid.UUID

func (l *uuidList) String() string {
	parts := make([]string, len(*l))
	for i, id := range *l {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

func (l *uuidList) Set(v string) error {
	id, err := uuid.Parse(v)
	if err != nil {
		return err
	}
	*l = append(*l, id)
	return nil
}

// capList is a repeatable flag of capabilities. Unknown names are rejected
// so a typo cannot silently issue a useless token.
type capList []core.Capability

var knownCaps = []core.Capability{
	core.CapCreateSubmission,
	core.CapEditAnySubmission,
	core.CapEditAnytime,
	core.CapExportSubmissions,
}

func (l *capList) String() string {
	parts := make([]string, len(*l))
	for i, c := range *l {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

func (l *capList) Set(v string) error {
	for _, c := range knownCaps {
		if string(c) == v {
			*l = append(*l, c)
			return nil
		}
	}
	return fmt.Errorf("unknown capability %q", v)
}
