package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/padgrid/midicore/internal/pkg/logger"
	"github.com/padgrid/midicore/internal/pkg/midi/driver/rtmidi"
)

var log = logger.GetLogger()

var (
	nocolor  = flag.Bool("nocolor", false, "disable color")
	silent   = flag.Bool("silent", false, "no output logging, best performance")
	logLevel = flag.Int("loglevel", 2,
		"logging level, each level enables additional information class (0-4, default: 2)\n"+
			"\navailable options:\n"+
			"0: errors only\n"+
			"1: warnings (dropped messages, rejected devices)\n"+
			"2: general info (device appearance, profile changes)\n"+
			"3: midi message traffic, noisy\n"+
			"4: debug",
	)
	profileDir = flag.String("profiles", "", "override mapping profile directory")
)

func init() {
	flag.Parse()
}

func handleSigs(wg *sync.WaitGroup, sigs <-chan os.Signal, cancel func()) {
	defer wg.Done()
	var counter int
	for sig := range sigs {
		if counter > 0 {
			fmt.Println("Dirty exit")
			os.Exit(1)
		}
		log.Info(fmt.Sprintf("signal received: %v", sig), logger.Debug)
		cancel()
		counter++
	}
}

func main() {
	if err := createConfigDirectoryIfNeeded(); err != nil {
		fmt.Printf("config setup failed: %v\n", err)
		os.Exit(1)
	}

	cfg := LoadConfig(configPath)
	if *profileDir != "" {
		cfg.ProfileDirectory = *profileDir
	}
	log.Info(fmt.Sprintf("config: %+v", cfg), logger.Debug)

	var sigs = make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(context.Background())

	wg := sync.WaitGroup{}
	wg.Add(1)
	go handleSigs(&wg, sigs, cancel)

	pumpDone := make(chan struct{})
	go func() {
		consolePump(*silent, *nocolor, *logLevel)
		close(pumpDone)
	}()

	transport := rtmidi.New(cfg.DiscoveryRate)
	app, err := NewApp(cfg, transport)
	if err != nil {
		log.Info(fmt.Sprintf("startup failed: %v", err), logger.Error)
		cancel()
	} else {
		if err := app.Run(ctx); err != nil {
			log.Info(fmt.Sprintf("runtime error: %v", err), logger.Error)
		}
	}

	transport.Close()
	close(sigs)
	wg.Wait()

	// closing logger can be safely invoked only when all goroutines that may
	// emit logs are done
	close(logger.Messages)
	<-pumpDone
}
