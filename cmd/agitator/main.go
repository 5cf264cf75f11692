// Package main - agitator
// Load generator: many WebSocket clients hammering CLICK and PURCHASE to
// check the click cap and the engine lock hold under contention.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// Config for the agitator
type Config struct {
	ServerURL      string
	NumClients     int
	ActionInterval time.Duration
	TestDuration   time.Duration
	PurchaseRatio  float64
	Output         string
}

// defaultClients matches the server's default max_clients; extra
// connections are refused with 503.
const defaultClients = 8

// Stats tracks performance metrics
type Stats struct {
	MessagesSent      int64
	MessagesReceived  int64
	ClicksAccepted    int64
	ClicksRejected    int64
	PurchasesAccepted int64
	PurchasesRejected int64
	RateLimited       int64
	Errors            int64
	Latencies         []time.Duration
	mu                sync.Mutex
}

var upgradeIDs = []string{"rig1", "core1", "gpu1", "node1", "rx1"}

var config Config

var rootCmd = &cobra.Command{
	Use:          "agitator",
	Short:        "stress the mecha-server WebSocket bridge",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("=========================================")
		fmt.Println("AGITATOR - Stress Test Tool")
		fmt.Println("=========================================")
		fmt.Printf("Server:   %s\n", config.ServerURL)
		fmt.Printf("Clients:  %d\n", config.NumClients)
		if config.NumClients > defaultClients {
			fmt.Printf("          server default max_clients is %d; use profile = \"stress\" or raise it\n", defaultClients)
		}
		fmt.Printf("Interval: %v\n", config.ActionInterval)
		fmt.Printf("Duration: %v\n", config.TestDuration)
		fmt.Println("=========================================")

		ctx, cancel := context.WithTimeout(cmd.Context(), config.TestDuration)
		defer cancel()
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()

		stats := runStressTest(ctx, config)
		return printResults(stats, config)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&config.ServerURL, "url", "ws://localhost:8080/ws", "WebSocket server URL")
	f.IntVar(&config.NumClients, "clients", defaultClients, "number of concurrent clients (raise server.max_clients to go higher)")
	f.DurationVar(&config.ActionInterval, "interval", 20*time.Millisecond, "action interval per client")
	f.DurationVar(&config.TestDuration, "duration", 30*time.Second, "test duration")
	f.Float64Var(&config.PurchaseRatio, "purchase-ratio", 0.1, "share of actions that are purchases")
	f.StringVar(&config.Output, "out", "stress_test_results.json", "where to write the JSON summary")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runStressTest(ctx context.Context, config Config) *Stats {
	stats := &Stats{
		Latencies: make([]time.Duration, 0, 10000),
	}

	var wg sync.WaitGroup

	fmt.Println("\nStarting clients...")

	for i := 0; i < config.NumClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			runClient(ctx, clientID, config, stats)
		}(i)

		// Stagger client starts to avoid thundering herd
		time.Sleep(10 * time.Millisecond)
	}

	fmt.Printf("All %d clients started\n\n", config.NumClients)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Printf("Progress: sent=%d recv=%d clicks=%d/%d errors=%d\n",
					atomic.LoadInt64(&stats.MessagesSent),
					atomic.LoadInt64(&stats.MessagesReceived),
					atomic.LoadInt64(&stats.ClicksAccepted),
					atomic.LoadInt64(&stats.ClicksRejected),
					atomic.LoadInt64(&stats.Errors))
			}
		}
	}()

	wg.Wait()
	return stats
}

// resultFrame is the subset of a server frame the agitator looks at.
type resultFrame struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Error  string `json:"error"`
	Result struct {
		Accepted bool `json:"accepted"`
	} `json:"result"`
}

func runClient(ctx context.Context, clientID int, config Config, stats *Stats) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, config.ServerURL, nil)
	if err != nil {
		fmt.Printf("client %d: connection failed: %v\n", clientID, err)
		atomic.AddInt64(&stats.Errors, 1)
		return
	}
	defer conn.Close()

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			atomic.AddInt64(&stats.MessagesReceived, 1)
			countResult(data, stats)
		}
	}()

	rng := rand.New(rand.NewSource(int64(clientID) + time.Now().UnixNano()))
	ticker := time.NewTicker(config.ActionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			action := generateAction(rng, config.PurchaseRatio)
			start := time.Now()

			if err := conn.WriteJSON(action); err != nil {
				atomic.AddInt64(&stats.Errors, 1)
				return
			}

			latency := time.Since(start)
			atomic.AddInt64(&stats.MessagesSent, 1)

			stats.mu.Lock()
			stats.Latencies = append(stats.Latencies, latency)
			stats.mu.Unlock()
		}
	}
}

func countResult(data []byte, stats *Stats) {
	var f resultFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}
	if f.Type == "error" && f.Error == "rate limited" {
		atomic.AddInt64(&stats.RateLimited, 1)
		return
	}
	if f.Type != "result" {
		return
	}
	switch f.Action {
	case "CLICK":
		if f.Result.Accepted {
			atomic.AddInt64(&stats.ClicksAccepted, 1)
		} else {
			atomic.AddInt64(&stats.ClicksRejected, 1)
		}
	case "PURCHASE":
		if f.Error == "" {
			atomic.AddInt64(&stats.PurchasesAccepted, 1)
		} else {
			atomic.AddInt64(&stats.PurchasesRejected, 1)
		}
	}
}

func generateAction(rng *rand.Rand, purchaseRatio float64) map[string]interface{} {
	if rng.Float64() < purchaseRatio {
		return map[string]interface{}{
			"type":       "PURCHASE",
			"upgrade_id": upgradeIDs[rng.Intn(len(upgradeIDs))],
		}
	}
	return map[string]interface{}{"type": "CLICK"}
}

func printResults(stats *Stats, config Config) error {
	fmt.Println("\n=========================================")
	fmt.Println("STRESS TEST RESULTS")
	fmt.Println("=========================================")

	sent := atomic.LoadInt64(&stats.MessagesSent)
	recv := atomic.LoadInt64(&stats.MessagesReceived)
	errs := atomic.LoadInt64(&stats.Errors)
	accepted := atomic.LoadInt64(&stats.ClicksAccepted)
	rejected := atomic.LoadInt64(&stats.ClicksRejected)

	fmt.Printf("Messages Sent:      %d\n", sent)
	fmt.Printf("Messages Received:  %d\n", recv)
	fmt.Printf("Clicks Accepted:    %d\n", accepted)
	fmt.Printf("Clicks Throttled:   %d\n", rejected)
	fmt.Printf("Purchases:          %d ok, %d refused\n",
		atomic.LoadInt64(&stats.PurchasesAccepted), atomic.LoadInt64(&stats.PurchasesRejected))
	fmt.Printf("Rate Limited:       %d\n", atomic.LoadInt64(&stats.RateLimited))
	fmt.Printf("Errors:             %d\n", errs)

	throughput := float64(sent) / config.TestDuration.Seconds()
	acceptedPerSec := float64(accepted) / config.TestDuration.Seconds()
	fmt.Printf("Throughput:         %.2f msg/sec\n", throughput)
	fmt.Printf("Accepted clicks/s:  %.2f\n", acceptedPerSec)

	if len(stats.Latencies) > 0 {
		var total time.Duration
		var min, max time.Duration = stats.Latencies[0], stats.Latencies[0]

		for _, l := range stats.Latencies {
			total += l
			if l < min {
				min = l
			}
			if l > max {
				max = l
			}
		}

		avg := total / time.Duration(len(stats.Latencies))

		fmt.Printf("\nWrite latency:\n")
		fmt.Printf("  Min: %v\n", min)
		fmt.Printf("  Avg: %v\n", avg)
		fmt.Printf("  Max: %v\n", max)
	}

	results := map[string]interface{}{
		"messages_sent":      sent,
		"messages_received":  recv,
		"clicks_accepted":    accepted,
		"clicks_rejected":    rejected,
		"rate_limited":       atomic.LoadInt64(&stats.RateLimited),
		"errors":             errs,
		"throughput_per_sec": throughput,
		"accepted_per_sec":   acceptedPerSec,
		"config": map[string]interface{}{
			"clients":  config.NumClients,
			"interval": config.ActionInterval.String(),
			"duration": config.TestDuration.String(),
		},
	}

	jsonData, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(config.Output, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	fmt.Printf("\nResults saved to %s\n", config.Output)
	return nil
}
