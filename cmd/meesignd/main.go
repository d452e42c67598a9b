// Command meesignd runs the threshold-cryptography coordination server: it
// wires Repository, State and Timer together and serves the operator debug
// surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"github.com/meesign/meesignd/internal/config"
	"github.com/meesign/meesignd/internal/coordstate"
	"github.com/meesign/meesignd/internal/repository"
	"github.com/meesign/meesignd/internal/rpcadapter"
	"github.com/meesign/meesignd/internal/task/groupcert"
	"github.com/meesign/meesignd/log"
)

var logger = log.NewModuleLogger(log.CLI)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	listenFlag = cli.StringFlag{
		Name:  "listen",
		Usage: "debug/status HTTP listen address",
	}
	dialectFlag = cli.StringFlag{
		Name:  "dialect",
		Usage: `repository backend: "memory" or a gorm SQL dialect (e.g. "mysql")`,
	}
	dsnFlag = cli.StringFlag{
		Name:  "dsn",
		Usage: "data source name for the SQL repository backend",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Usage = "threshold cryptography coordination server"
	app.Flags = []cli.Flag{configFlag, listenFlag, dialectFlag, dsnFlag}
	app.Action = run
	app.Commands = []cli.Command{
		{
			Name:   "dumpconfig",
			Usage:  "show the effective configuration",
			Action: dumpConfig,
			Flags:  app.Flags,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(ctx *cli.Context) config.Config {
	cfg := config.Default()
	if file := ctx.GlobalString(configFlag.Name); file != "" {
		loaded, err := config.Load(file)
		if err != nil {
			logger.Crit("failed to load config", "file", file, "err", err)
		}
		cfg = loaded
	}
	if v := ctx.GlobalString(listenFlag.Name); v != "" {
		cfg.ListenAddr = v
	}
	if v := ctx.GlobalString(dialectFlag.Name); v != "" {
		cfg.Dialect = v
	}
	if v := ctx.GlobalString(dsnFlag.Name); v != "" {
		cfg.DSN = v
	}
	return cfg
}

func dumpConfig(ctx *cli.Context) error {
	return config.Dump(os.Stdout, loadConfig(ctx))
}

func run(ctx *cli.Context) error {
	cfg := loadConfig(ctx)

	repo, err := openRepository(cfg)
	if err != nil {
		logger.Crit("failed to open repository", "err", err)
	}

	var issuer groupcert.Issuer
	if cfg.CertHelperPath != "" {
		issuer = groupcert.NewExecIssuer(cfg.CertHelperPath)
	} else {
		issuer = &groupcert.Fake{}
	}

	state := coordstate.New(repo, issuer)
	timerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	timer := coordstate.NewTimer(state, repo, cfg.StallTimeout)
	timer.Start(timerCtx)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: rpcadapter.NewDebugHandler(state)}
	go func() {
		logger.Info("debug surface listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("debug surface stopped", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	timer.Stop()
	return server.Shutdown(context.Background())
}

func openRepository(cfg config.Config) (repository.Repository, error) {
	if cfg.Dialect == "" || cfg.Dialect == "memory" {
		return repository.NewMemory(), nil
	}
	return repository.Open(cfg.Dialect, cfg.DSN)
}
