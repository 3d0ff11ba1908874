// Command respkv-server runs the RESP3 key/value server: load configuration,
// bring up structured logging, construct the sharded backend store, and
// serve connections through the redhub engine until a termination signal
// arrives.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/IceFireDB/respkv/internal/config"
	"github.com/IceFireDB/respkv/internal/logging"
	"github.com/IceFireDB/respkv/pkg/backend"
	"github.com/IceFireDB/respkv/pkg/command"
	"github.com/IceFireDB/respkv/pkg/resp"

	redhub "github.com/IceFireDB/respkv"
	"github.com/panjf2000/gnet/v2"
)

var (
	configPath string
	addrFlag   string
	logLevel   string
	shardsFlag int
)

var rootCmd = &cobra.Command{
	Use:   "respkv-server",
	Short: "Run the RESP3 key/value server",
	Example: "  respkv-server --config respkv.yaml\n" +
		"  respkv-server --addr tcp://0.0.0.0:6380 --log-level debug",
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	rootCmd.Flags().StringVar(&addrFlag, "addr", "", "Override the listen address (tcp://host:port)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Override the log level (debug|info|warn|error)")
	rootCmd.Flags().IntVar(&shardsFlag, "shards", 0, "Override the backend shard count (0 = auto)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.OverrideAddr(addrFlag)
	cfg.OverrideLogLevel(logLevel)
	cfg.OverrideShards(shardsFlag)

	log := logging.New(logging.Options{
		Stdout:     cfg.Logging.Stdout,
		Level:      cfg.Logging.Level,
		Filename:   cfg.Logging.Filename,
		MaxSize:    cfg.Logging.MaxSize,
		MaxAge:     cfg.Logging.MaxAge,
		MaxBackups: cfg.Logging.MaxBackups,
	})

	var store *backend.Store
	if cfg.Shards > 0 {
		store = backend.NewWithShards(cfg.Shards)
	} else {
		store = backend.New()
	}

	rh := redhub.New(
		func(c *redhub.Conn) (resp.Frame, redhub.Action) {
			return resp.Frame{}, redhub.None
		},
		func(c *redhub.Conn, err error) redhub.Action {
			return redhub.None
		},
		func(frame resp.Frame) (resp.Frame, redhub.Action) {
			parsed, err := command.TryParse(frame)
			if err != nil {
				return resp.NewError("Command Err: " + err.Error()), redhub.None
			}
			return command.Execute(parsed, store), redhub.None
		},
		log,
	)

	options := redhub.Options{
		Multicore:     cfg.Multicore,
		ReadBufferCap: cfg.ReadBufferCap,
		TCPNoDelay:    gnet.TCPNoDelay,
	}
	if cfg.TLS.Addr != "" {
		options.TLSListenEnable = true
		options.TLSAddr = cfg.TLS.Addr
		options.TLSCertFile = cfg.TLS.CertFile
		options.TLSKeyFile = cfg.TLS.KeyFile
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Addr)
		errCh <- redhub.ListenAndServe(cfg.Addr, options, rh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server exited: %w", err)
		}
		return nil
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
		if err := rh.Close(); err != nil {
			log.Errorf("shutdown error: %v", err)
		}
		return <-errCh
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
