package flags

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/pim-storage/common"
	"github.com/ruteri/pim-storage/cryptoutils"
	"github.com/ruteri/pim-storage/httpserver"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)
	logFile := cCtx.String(LogFileFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
		File:    logFile,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) (*httpserver.HTTPServerConfig, error) {
	cfg := &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}

	if hosts := cCtx.StringSlice(TLSHostsFlag.Name); len(hosts) > 0 {
		cert, err := cryptoutils.RandomCert(hosts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS certificate: %w", err)
		}
		logger.Info("Serving with a self-signed certificate",
			"hosts", hosts,
			"fingerprint", cryptoutils.Fingerprint(cert.Certificate[0]))
		cfg.TLSCertificate = &cert
	}

	return cfg, nil
}

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Value:   "pimstorage.toml",
	EnvVars: []string{"PIMSTORAGE_CONFIG"},
	Usage:   "TOML file with [storages.<name>] tables",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "pimstorage",
	Usage: "add 'service' tag to logs",
}
var LogFileFlag = &cli.StringFlag{
	Name:  "log-file",
	Usage: "write logs to a rotated file instead of stdout",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for the collection API",
}
var TLSHostsFlag = &cli.StringSliceFlag{
	Name:  "tls-host",
	Usage: "serve HTTPS with a self-signed certificate for these hosts",
}
var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	ConfigFlag,
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
	LogFileFlag,
}

var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	TLSHostsFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
