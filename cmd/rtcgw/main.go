// rtcgw is the CLI entry point.
//
// This tool runs a WebRTC signaling peer over the HTTP long-polling
// rendezvous protocol. It signs in to a rendezvous server, answers offers
// from the first peer that calls, and can also accept offers directly on a
// local TCP port.
//
// Settings come from built-in defaults, an optional YAML file (-config) and
// CLI flags, in that order.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/rtcgw/internal/conductor"
	"github.com/1ureka/rtcgw/internal/config"
	"github.com/1ureka/rtcgw/internal/monitor"
	"github.com/1ureka/rtcgw/internal/signaling"
	"github.com/1ureka/rtcgw/internal/util"
)

var version = "dev"

// signOutGrace bounds how long an interrupt waits for the rendezvous server
// to acknowledge sign-out.
const signOutGrace = 3 * time.Second

func main() {
	// Cancelled on Ctrl+C.
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "", "YAML configuration file")
	listen := flag.String("listen", "", "Address for the direct offer listener")
	port := flag.Int("port", 0, "Port for the direct offer listener, 1~65535")
	server := flag.String("server", "", "Rendezvous server host (empty disables sign-in)")
	serverPort := flag.Int("server-port", 0, "Rendezvous server port, 1~65535")
	name := flag.String("name", "", "Name announced to other peers")
	monitorAddr := flag.String("monitor", "", "Address for the WebSocket event feed (empty disables it)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = *listen
		case "port":
			cfg.Port = *port
		case "server":
			cfg.Server = *server
		case "server-port":
			cfg.ServerPort = *serverPort
		case "name":
			cfg.Name = *name
		case "monitor":
			cfg.Monitor = *monitorAddr
		case "debug":
			cfg.Debug = *debugMode
		}
	})

	if err := cfg.Validate(); err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("rtcgw v%s", version))
	pterm.Println()

	if err := run(sigCtx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("signaling peer stopped")
}

// run wires the signaling client, the call conductor and the optional event
// feed, then drives the event loop until sigCtx is cancelled.
func run(sigCtx context.Context, cfg config.Config) error {
	// The loop outlives the interrupt long enough to sign out.
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := signaling.NewClient()
	cond := conductor.New(client, client.Post, conductor.Options{STUN: cfg.STUN})

	observers := signaling.MultiObserver{cond}

	if cfg.Monitor != "" {
		hub := monitor.NewHub(client.ID)
		if _, err := hub.Start(runCtx, cfg.Monitor); err != nil {
			return fmt.Errorf("failed to start event feed: %w", err)
		}
		defer func() {
			if err := hub.Stop(); err != nil {
				util.LogWarning("event feed shutdown: %v", err)
			}
		}()
		observers = append(observers, hub)
	}

	client.RegisterObserver(observers)

	client.Post(func() {
		if err := cond.StartListen(cfg.Listen, cfg.Port); err != nil {
			util.LogError("failed to listen for direct offers: %v", err)
			cancel()
			return
		}
		util.LogInfo("accepting direct offers on %s", client.Addr())

		if cfg.Server == "" {
			return
		}
		if err := client.Connect(cfg.Server, cfg.ServerPort, cfg.Name); err != nil {
			util.LogError("failed to sign in: %v", err)
		}
	})

	go func() {
		select {
		case <-sigCtx.Done():
		case <-runCtx.Done():
			return
		}
		util.LogInfo("interrupt received, signing out")
		awaitSignOut(client, cond, signOutGrace)
		cancel()
	}()

	util.StartStatsReporter(runCtx)

	err := client.Run(runCtx, cfg.Tick, cond.SendMessage)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// awaitSignOut asks the conductor to close and polls the client state from
// the loop until it reaches NotConnected or grace runs out.
func awaitSignOut(client *signaling.Client, cond *conductor.Conductor, grace time.Duration) {
	if !client.Post(cond.Close) {
		return
	}

	done := make(chan struct{})
	deadline := time.After(grace)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-deadline:
			util.LogWarning("sign-out not acknowledged within %s", grace)
			return
		case <-ticker.C:
			client.Post(func() {
				if client.State() == signaling.NotConnected {
					select {
					case <-done:
					default:
						close(done)
					}
				}
			})
		}
	}
}
