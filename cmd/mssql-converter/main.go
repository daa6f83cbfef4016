// mssql-converter restores uploaded SQL Server backups into ephemeral
// databases and returns their content as SQLite, JSON or XLSX.
//
// Usage:
//
//	mssql-converter [--dev] [--config path] [--addr :8080]
//
// Flags:
//
//	--dev     Start in dev mode: result records go to an in-process miniredis
//	--config  Path to converter.yaml (default: configs/converter.yaml; missing file = defaults)
//	--addr    Override server.addr from config
//
// Environment:
//
//	MSSQL_SA_PASSWORD  SQL Server password (required if not set in config)
//	MSSQL_HOST, MSSQL_PORT, MSSQL_USER, CONVERTER_ADDR
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/joseanu/mssql-converter/internal/api"
	"github.com/joseanu/mssql-converter/internal/infra"
)

func main() {
	dev := flag.Bool("dev", false, "dev mode: in-process miniredis for result records")
	configPath := flag.String("config", "configs/converter.yaml", "path to config file")
	addrOverride := flag.String("addr", "", "listen address override (e.g. :8080)")
	flag.Parse()

	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("config load failed")
	}
	if *addrOverride != "" {
		cfg.Server.Addr = *addrOverride
	}
	if *dev {
		cfg.Logging.Format = "console"
	}

	if err := infra.SetupLogging(cfg.Logging, os.Stderr); err != nil {
		log.Fatal().Err(err).Msg("logging setup failed")
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inf, err := infra.Setup(ctx, cfg, *dev)
	if err != nil {
		log.Fatal().Err(err).Msg("infrastructure setup failed")
	}
	defer inf.Close()

	if *dev {
		log.Warn().Msg("──────────────────────────────────────────────────────")
		log.Warn().Msg("  DEV MODE ACTIVE — in-process miniredis               ")
		log.Warn().Msg("  DO NOT use in production                             ")
		log.Warn().Msg("──────────────────────────────────────────────────────")
	}

	router, handlers := api.NewRouter(cfg, api.DepsFrom(inf))

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Bool("dev", *dev).
			Str("config", *configPath).
			Str("mssql", cfg.MSSQL.Host).
			Strs("formats", cfg.Export.Formats).
			Msg("mssql-converter started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	// in-flight conversions finish, cleanup included
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
	handlers.Wait()
	log.Info().Msg("stopped")
}
