package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aeolun/lanchat/pkg/client"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur."

var loremWords = strings.Fields(strings.ToLower(strings.NewReplacer(",", "", ".", "").Replace(loremIpsum)))

var (
	serverAddr string
	numClients int
	numPosts   int
	duration   time.Duration
	minDelay   time.Duration
	maxDelay   time.Duration
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "lanchat-loadtest",
	Short:         "Connect many bot clients to a LanChat server and measure broadcast latency",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runLoadTest,
}

func init() {
	rootCmd.Flags().StringVar(&serverAddr, "server", "localhost:8888", "Server address")
	rootCmd.Flags().IntVar(&numClients, "clients", 10, "Number of concurrent clients")
	rootCmd.Flags().IntVar(&numPosts, "messages", 0, "Messages per client, 0 posts until the duration ends")
	rootCmd.Flags().DurationVar(&duration, "duration", time.Minute, "Test duration")
	rootCmd.Flags().DurationVar(&minDelay, "min-delay", 100*time.Millisecond, "Minimum delay between posts")
	rootCmd.Flags().DurationVar(&maxDelay, "max-delay", time.Second, "Maximum delay between posts")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for a post to come back")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// generateUsername joins two lorem fragments with a short unique suffix
func generateUsername() string {
	frag := func() string {
		w := loremWords[rand.Intn(len(loremWords))]
		if len(w) > 4 {
			w = w[:4]
		}
		return w
	}
	return frag() + frag() + "-" + uuid.NewString()[:4]
}

// Stats tracks performance metrics
type Stats struct {
	messagesPosted    atomic.Int64
	messagesFailed    atomic.Int64
	totalResponseTime atomic.Int64 // in microseconds
	connectionErrors  atomic.Int64
	received          atomic.Int64 // every frame seen by every bot

	timeouts       atomic.Int64
	disconnections atomic.Int64
}

func (s *Stats) recordSuccess(responseTimeUs int64) {
	s.messagesPosted.Add(1)
	s.totalResponseTime.Add(responseTimeUs)
}

func (s *Stats) recordTimeout() {
	s.messagesFailed.Add(1)
	s.timeouts.Add(1)
}

func (s *Stats) recordDisconnection() {
	s.messagesFailed.Add(1)
	s.disconnections.Add(1)
}

func (s *Stats) snapshot() (posted, failed, connErrors int64, avgResponseUs float64) {
	posted = s.messagesPosted.Load()
	failed = s.messagesFailed.Load()
	connErrors = s.connectionErrors.Load()

	if posted > 0 {
		avgResponseUs = float64(s.totalResponseTime.Load()) / float64(posted)
	}

	return
}

// BotClient represents a fake client for load testing
type BotClient struct {
	id       int
	username string
	conn     *client.Connection
	stats    *Stats

	// Token of the post waiting for its own broadcast, and when it was sent
	mu      sync.Mutex
	pending string
	sentAt  time.Time
	echoed  chan struct{}
}

func NewBotClient(id int, addr string, stats *Stats) (*BotClient, error) {
	conn, err := client.NewConnection(addr, zerolog.Nop())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	return &BotClient{
		id:       id,
		username: generateUsername(),
		conn:     conn,
		stats:    stats,
		echoed:   make(chan struct{}, 1),
	}, nil
}

func (bc *BotClient) Connect() error {
	if err := bc.conn.Connect(bc.username); err != nil {
		bc.stats.connectionErrors.Add(1)
		return err
	}
	go bc.readEvents()
	return nil
}

// readEvents counts frames and signals when the pending post comes back
func (bc *BotClient) readEvents() {
	prefix := bc.username + ": "
	for ev := range bc.conn.Events() {
		if ev.Kind != client.EventMessage {
			continue
		}
		bc.stats.received.Add(1)

		text, ok := strings.CutPrefix(ev.Text, prefix)
		if !ok {
			continue
		}

		bc.mu.Lock()
		if bc.pending != "" && strings.HasPrefix(text, bc.pending) {
			bc.stats.recordSuccess(time.Since(bc.sentAt).Microseconds())
			bc.pending = ""
			select {
			case bc.echoed <- struct{}{}:
			default:
			}
		}
		bc.mu.Unlock()
	}
}

// PostRandomMessage sends one message and waits for the server to broadcast it back
func (bc *BotClient) PostRandomMessage() {
	wordCount := 3 + rand.Intn(12)
	words := make([]string, wordCount)
	for i := range words {
		words[i] = loremWords[rand.Intn(len(loremWords))]
	}
	token := uuid.NewString()[:8]

	bc.mu.Lock()
	bc.pending = token
	bc.sentAt = time.Now()
	bc.mu.Unlock()

	if err := bc.conn.Send(token + " " + strings.Join(words, " ")); err != nil {
		bc.stats.recordDisconnection()
		return
	}

	select {
	case <-bc.echoed:
	case <-time.After(timeout):
		bc.mu.Lock()
		bc.pending = ""
		bc.mu.Unlock()
		bc.stats.recordTimeout()
	}
}

func (bc *BotClient) Run(until time.Time, stop <-chan struct{}) {
	defer bc.conn.Close()

	for posts := 0; time.Now().Before(until) && bc.conn.IsConnected(); posts++ {
		if numPosts > 0 && posts >= numPosts {
			return
		}
		bc.PostRandomMessage()

		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}
		select {
		case <-time.After(delay):
		case <-stop:
			return
		}
	}
}

func runLoadTest(cmd *cobra.Command, args []string) error {
	if numClients < 1 {
		return fmt.Errorf("--clients must be at least 1")
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()

	// Ramp up over 25% of the test duration
	rampUpDuration := duration / 4
	staggerDelay := rampUpDuration / time.Duration(numClients)
	if staggerDelay < time.Millisecond {
		staggerDelay = time.Millisecond
	}

	log.Info().
		Str("server", serverAddr).
		Int("clients", numClients).
		Int("messages", numPosts).
		Dur("duration", duration).
		Dur("stagger", staggerDelay).
		Msg("Starting load test")

	stats := &Stats{}
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAll := func() { stopOnce.Do(func() { close(stop) }) }

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			log.Warn().Msg("Shutdown signal received, stopping test")
			stopAll()
		case <-stop:
		}
	}()

	start := time.Now()
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				posted, failed, connErrors, avgUs := stats.snapshot()
				log.Info().
					Int64("posted", posted).
					Float64("rate", float64(posted)/time.Since(start).Seconds()).
					Int64("failed", failed).
					Int64("conn_errors", connErrors).
					Int64("received", stats.received.Load()).
					Float64("avg_ms", avgUs/1000).
					Msg("Stats")
			case <-stop:
				return
			}
		}
	}()

	until := start.Add(duration)
	var wg sync.WaitGroup

spawn:
	for i := 0; i < numClients; i++ {
		bot, err := NewBotClient(i, serverAddr, stats)
		if err != nil {
			stopAll()
			return err
		}
		if err := bot.Connect(); err != nil {
			log.Warn().Err(err).Int("bot", i).Msg("Connect failed")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				bot.Run(until, stop)
			}()
		}

		select {
		case <-time.After(staggerDelay):
		case <-stop:
			break spawn
		}
	}

	wg.Wait()
	stopAll()

	posted, failed, connErrors, avgUs := stats.snapshot()
	elapsed := time.Since(start)
	log.Info().
		Dur("elapsed", elapsed).
		Int64("posted", posted).
		Float64("rate", float64(posted)/elapsed.Seconds()).
		Int64("failed", failed).
		Int64("timeouts", stats.timeouts.Load()).
		Int64("disconnections", stats.disconnections.Load()).
		Int64("conn_errors", connErrors).
		Int64("received", stats.received.Load()).
		Float64("avg_ms", avgUs/1000).
		Msg("Final results")

	if posted+failed > 0 {
		log.Info().Float64("success_pct", float64(posted)/float64(posted+failed)*100).Msg("Success rate")
	}
	return nil
}
