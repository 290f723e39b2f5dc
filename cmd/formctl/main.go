// Command formctl administers a formreg database: it applies migrations,
// seeds schemas from YAML fixtures, exports submissions as CSV and issues
// bearer tokens.
//
//	formctl migrate
//	formctl seed fixtures/spring.yaml
//	formctl export -o teams.csv 0f8fad5b-d9cb-469f-a165-70867728950e
//	formctl token -user alice -subject 5d0c1c9e-... -cap submission.create
//
// Settings come from the same environment variables (and .env file) as the
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/formreg/internal/config"
	"github.com/JonMunkholm/formreg/internal/logging"
	"github.com/joho/godotenv"
)

const usage = `usage: formctl <command> [flags] [args]

commands:
  migrate                 apply pending database migrations
  seed <file.yaml>        upsert subjects, schemas and file ids from a fixture
  export [-o file] <id>   write the export of schema <id> as CSV
  token [flags]           issue a bearer token
`

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "formctl:", err)
		os.Exit(1)
	}
}

// run dispatches one command. Output meant for the user goes to stdout;
// progress is logged to stderr.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return flag.ErrHelp
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		return runMigrate(ctx, cfg)
	case "seed":
		return runSeed(ctx, cfg, rest)
	case "export":
		return runExport(ctx, cfg, rest, stdout)
	case "token":
		return runToken(cfg, rest, stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}
