package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

var (
	listenAddr  = flag.String("listen", ":9100", "Address to serve the avatar websocket on")
	path        = flag.String("path", "/avatar", "Websocket path")
	speakRate   = flag.Float64("rate", 15.0, "Simulated speech rate (characters per second)")
	startReady  = flag.Bool("ready", true, "Report ready immediately after setup")
	interactive = flag.Bool("interactive", false, "Enable interactive mode")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
)

func main() {
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	config := &SimulatorConfig{
		ListenAddr: *listenAddr,
		Path:       *path,
		SpeakRate:  *speakRate,
		StartReady: *startReady,
	}

	simulator := NewSimulator(config, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down simulator...")
		simulator.Stop()
		os.Exit(0)
	}()

	if err := simulator.Start(); err != nil {
		logger.Fatal("Failed to start simulator", zap.Error(err))
	}

	if *interactive {
		runInteractiveMode(simulator)
	} else {
		fmt.Printf("Avatar subsystem simulator started\n")
		fmt.Printf("  Listening: %s%s\n", *listenAddr, *path)
		fmt.Printf("  Speech rate: %.1f chars/s\n", *speakRate)
		fmt.Println("\nPress Ctrl+C to stop")

		select {}
	}
}

func runInteractiveMode(sim *Simulator) {
	fmt.Println("\nAvatar Subsystem Simulator - Interactive Mode")
	fmt.Println("=============================================")
	fmt.Println("Commands:")
	fmt.Println("  ready                  - Report the avatar as ready")
	fmt.Println("  notready               - Report the avatar as not ready")
	fmt.Println("  done                   - Complete the current utterance early")
	fmt.Println("  rate <chars-per-sec>   - Change the simulated speech rate")
	fmt.Println("  status                 - Show connection and speech state")
	fmt.Println("  quit                   - Exit simulator")
	fmt.Println("")

	sim.RunInteractive()
}
