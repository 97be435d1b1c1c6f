package main

import (
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aeolun/lanchat/pkg/logger"
	"github.com/aeolun/lanchat/pkg/server"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

var (
	configPath string
	port       int
	sshPort    int
	httpPort   int
	fileDirs   []string
	debug      bool
	pprofAddr  string
)

var rootCmd = &cobra.Command{
	Use:   "lanchat-server",
	Short: "LanChat server - multi-client chat with file sharing",
	Long: `LanChat server accepts chat clients over TCP (and optionally SSH and
WebSocket), relays their messages to everyone connected, and serves
downloads from the configured file directories.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "~/.lanchat/config.toml", "Path to config file (created with defaults if missing)")
	rootCmd.Flags().IntVar(&port, "port", 0, "TCP port to listen on (overrides config)")
	rootCmd.Flags().IntVar(&sshPort, "ssh-port", 0, "SSH port to listen on, 0 keeps the config value (overrides config)")
	rootCmd.Flags().IntVar(&httpPort, "http-port", 0, "HTTP port for /ws, /metrics and /health (overrides config)")
	rootCmd.Flags().StringSliceVar(&fileDirs, "dir", nil, "Directory to serve files from, repeatable (overrides config)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.Flags().StringVar(&pprofAddr, "pprof", "", "Serve pprof on this address, e.g. localhost:6060")

	rootCmd.SetVersionTemplate(`{{printf "LanChat Server %s" .Version}}
`)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration (creates default if not found)
	config, err := server.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Command-line flags override config file
	if port != 0 {
		config.Server.TCPPort = port
	}
	if sshPort != 0 {
		config.Server.SSHPort = sshPort
	}
	if httpPort != 0 {
		config.Server.HTTPPort = httpPort
	}
	if len(fileDirs) > 0 {
		config.Files.Dirs = fileDirs
	}

	logConfig := config.ToLoggerConfig()
	if debug {
		logConfig.Level = "debug"
	}
	log, err := logger.New(logConfig)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	serverConfig := config.ToServerConfig()

	// Ensure file directories exist so a fresh install starts with an empty catalog
	for _, dir := range serverConfig.FileDirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Error().Err(err).Str("dir", dir).Msg("Failed to create file directory")
			return err
		}
	}

	log.Info().Str("config", configPath).Str("version", Version).Msg("Starting LanChat server")

	srv, err := server.NewServer(serverConfig, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create server")
		return err
	}

	if err := srv.Start(); err != nil {
		var failure *server.StartupFailure
		if errors.As(err, &failure) {
			log.Error().Err(failure.Err).Str("stage", failure.Stage).Msg("Server startup failed")
		}
		return err
	}

	log.Info().
		Int("tcp_port", serverConfig.TCPPort).
		Int("ssh_port", serverConfig.SSHPort).
		Int("http_port", serverConfig.HTTPPort).
		Strs("file_dirs", serverConfig.FileDirs).
		Int("files", srv.Catalog().Len()).
		Msg("LanChat server started")

	if pprofAddr != "" {
		go func() {
			log.Info().Str("addr", pprofAddr).Msg("Starting pprof server")
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				log.Warn().Err(err).Msg("pprof server error")
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("Shutting down server")
	if err := srv.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	log.Info().Msg("Server stopped")
	return nil
}
