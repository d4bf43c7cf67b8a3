// Command kvtab inspects and edits a password-manager database.
//
//	kvtab [-config file] [-v] put-user <email> <name>
//	kvtab get-user <email>
//	kvtab set-email <old> <new>
//	kvtab delete-user <email>
//	kvtab dump
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/andreyvit/kvtab"
	"github.com/andreyvit/kvtab/config"
	"github.com/andreyvit/kvtab/models"
)

func main() {
	configPath := flag.String("config", "", "config file (default: ./kvtab.{yaml,toml,json} if present)")
	verbose := flag.Bool("v", false, "log every row operation")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: kvtab [flags] put-user|get-user|set-email|delete-user|dump [args]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvtab: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *verbose, flag.Args()); err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintf(os.Stderr, "kvtab: %v\n", err)
			os.Exit(2)
		}
		logger.Error("command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		os.Exit(1)
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

func run(ctx context.Context, logger *zap.Logger, configPath string, verbose bool, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Verbose = cfg.Verbose || verbose

	backend, _, err := config.DetectBackend(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	client := config.NewClient(backend, logger)
	if err := client.Start(); err != nil {
		return err
	}
	defer client.Stop()

	conn, err := config.Open(ctx, cfg, client, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	models.Schema.SetLogger(logger)
	models.Schema.SetVerbose(cfg.Verbose)
	models.Schema.SetStrict(cfg.Strict)

	cmd, args := args[0], args[1:]
	switch cmd {
	case "put-user":
		if len(args) != 2 {
			return usageError("put-user <email> <name>")
		}
		u := models.NewUser(args[0], args[1])
		err := kvtab.Update(ctx, conn, func(tx kvtab.Transaction) error {
			return models.SaveUser(ctx, tx, u)
		})
		if err != nil {
			return err
		}
		return printJSON(u)

	case "get-user":
		if len(args) != 1 {
			return usageError("get-user <email>")
		}
		u, err := kvtab.Transact(ctx, conn, func(tx kvtab.Transaction) (*models.User, error) {
			return models.UserByEmail(ctx, tx, args[0])
		})
		if err != nil {
			return err
		}
		if u == nil {
			return fmt.Errorf("user %s: %w", args[0], kvtab.ErrNotFound)
		}
		return printJSON(u)

	case "set-email":
		if len(args) != 2 {
			return usageError("set-email <old> <new>")
		}
		u, err := kvtab.Transact(ctx, conn, func(tx kvtab.Transaction) (*models.User, error) {
			return models.SetUserEmail(ctx, tx, args[0], args[1])
		})
		if err != nil {
			return err
		}
		return printJSON(u)

	case "delete-user":
		if len(args) != 1 {
			return usageError("delete-user <email>")
		}
		existed, err := kvtab.Transact(ctx, conn, func(tx kvtab.Transaction) (bool, error) {
			u, err := models.UserByEmail(ctx, tx, args[0])
			if err != nil || u == nil {
				return false, err
			}
			return models.DeleteUser(ctx, tx, u.UUID)
		})
		if err != nil {
			return err
		}
		if !existed {
			return fmt.Errorf("user %s: %w", args[0], kvtab.ErrNotFound)
		}
		return nil

	case "dump":
		if len(args) != 0 {
			return usageError("dump takes no arguments")
		}
		out, err := kvtab.Transact(ctx, conn, func(tx kvtab.Transaction) (string, error) {
			return models.Schema.Dump(ctx, tx, kvtab.DumpAll)
		})
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil

	default:
		return usageError(fmt.Sprintf("unknown command %q", cmd))
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
