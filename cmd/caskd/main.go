// Command caskd is the caskdb server binary: it opens an engine rooted
// at the current working directory and serves it over the TCP
// front-end until interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"caskdb/internal/cache"
	"caskdb/internal/engine"
	"caskdb/internal/server"
)

var version = "dev"

type rootFlags struct {
	addr       string
	cacheKind  string
	cacheBytes int
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	var logger *slog.Logger

	root := &cobra.Command{
		Use:           "caskd",
		Short:         "caskd serves a caskdb key-value store over TCP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if flags.verbose {
				level = slog.LevelDebug
			}
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flags.addr, "addr", server.DefaultAddr, "address to bind the TCP front-end")
	root.PersistentFlags().StringVar(&flags.cacheKind, "cache", "lru", "page cache strategy: lru or none")
	root.PersistentFlags().IntVar(&flags.cacheBytes, "cache-bytes", cache.DefaultCacheBytes, "byte budget for the LRU page cache")
	root.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "enable debug logging")

	root.AddCommand(newServerCmd(flags, &logger))
	root.AddCommand(newVersionCmd())

	return root
}

func newServerCmd(flags *rootFlags, logger **slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "run the caskd server, rooted at the current working directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), flags, *logger)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the caskd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func runServer(ctx context.Context, flags *rootFlags, logger *slog.Logger) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}

	cacheManager, err := buildCacheManager(flags)
	if err != nil {
		return err
	}

	eng, err := engine.Open(dir, cacheManager, logger)
	if err != nil {
		return fmt.Errorf("open engine at %s: %w", dir, err)
	}
	defer eng.Close()

	srv := server.New(flags.addr, eng, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx)
}

func buildCacheManager(flags *rootFlags) (cache.Manager, error) {
	switch flags.cacheKind {
	case "none":
		return cache.NewNoCacheManager(), nil
	case "lru", "":
		return cache.NewLRUManager(flags.cacheBytes)
	default:
		return nil, fmt.Errorf("unknown cache strategy %q (want lru or none)", flags.cacheKind)
	}
}
