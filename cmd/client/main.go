package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aeolun/lanchat/pkg/client"
	"github.com/aeolun/lanchat/pkg/client/ui"
	"github.com/aeolun/lanchat/pkg/logger"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

var (
	serverAddr  string
	username    string
	downloadDir string
	logFile     string
	debug       bool
	plain       bool
)

var rootCmd = &cobra.Command{
	Use:   "lanchat",
	Short: "LanChat client",
	Long: `LanChat client connects to a LanChat server over TCP, SSH or WebSocket.

Addresses:
  host:port            plain TCP (default port 8888)
  ssh://[user@]host    SSH (default port 2222)
  ws://host[:port]     WebSocket (default port 8080), wss:// for TLS`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runClient,
}

func init() {
	rootCmd.Flags().StringVarP(&serverAddr, "server", "s", "localhost:8888", "Server address")
	rootCmd.Flags().StringVarP(&username, "username", "u", "", "Username (prompted if empty)")
	rootCmd.Flags().StringVar(&downloadDir, "downloads", "downloads", "Directory for downloaded files")
	rootCmd.Flags().StringVar(&logFile, "log", "client.log", "Log file path")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.Flags().BoolVar(&plain, "plain", false, "Line-based mode without the terminal UI")

	rootCmd.SetVersionTemplate(`{{printf "LanChat %s" .Version}}
`)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	// Console logging would corrupt the terminal UI
	logConfig := logger.Config{Level: "info", File: logFile}
	if debug {
		logConfig.Level = "debug"
	}
	log, err := logger.New(logConfig)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	stdin := bufio.NewReader(os.Stdin)
	if username == "" {
		fmt.Print("Enter your username: ")
		line, err := stdin.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read username: %w", err)
		}
		username = strings.TrimRight(line, "\r\n")
	}

	conn, err := client.NewConnection(serverAddr, log.Logger)
	if err != nil {
		return err
	}
	conn.SetDownloadDir(downloadDir)

	if err := conn.Connect(username); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", serverAddr, err)
	}
	defer conn.Close()

	if plain {
		return runPlain(conn, stdin)
	}

	p := tea.NewProgram(ui.NewModel(conn, username, Version), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running program: %w", err)
	}
	return nil
}

// runPlain prints server events and sends each stdin line until either side ends
func runPlain(conn *client.Connection, stdin *bufio.Reader) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range conn.Events() {
			switch ev.Kind {
			case client.EventMessage:
				fmt.Println(ev.Text)
			case client.EventDownload:
				if ev.Err != nil {
					fmt.Fprintf(os.Stderr, "Download of %s failed: %v\n", ev.File, ev.Err)
				} else {
					fmt.Printf("Saved %s (%d bytes)\n", ev.Path, ev.Size)
				}
			case client.EventDisconnected:
				if ev.Err != nil {
					fmt.Fprintf(os.Stderr, "Disconnected: %v\n", ev.Err)
				} else {
					fmt.Println("Disconnected from server")
				}
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return nil
			}
			if err := conn.Send(line); err != nil {
				return err
			}
		}
	}
}
