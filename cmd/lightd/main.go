package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"lightd/internal/app"
	"lightd/internal/config"
)

func main() {
	var (
		cfgPath   string
		start     string
		check     bool
		listPorts bool
	)
	flag.StringVar(&cfgPath, "config", "./lightd.yaml", "path to config (json or yaml)")
	flag.StringVar(&start, "start", "", "comma-separated functions (name or id) to start once running")
	flag.BoolVar(&check, "check", false, "validate the config and exit")
	flag.BoolVar(&listPorts, "list-midi", false, "list MIDI input ports and exit")
	flag.Parse()

	defer midi.CloseDriver()

	if listPorts {
		for _, p := range midi.GetInPorts() {
			fmt.Println(p.String())
		}
		return
	}
	if check {
		if _, err := config.NewConfigManager(cfgPath).Load(); err != nil {
			fmt.Fprintln(os.Stderr, "invalid config:", err)
			os.Exit(1)
		}
		fmt.Println("config ok")
		return
	}

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	if err := a.Start(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}
	for _, ref := range strings.Split(start, ",") {
		if ref = strings.TrimSpace(ref); ref == "" {
			continue
		}
		if err := a.StartFunction(ref); err != nil {
			fmt.Fprintln(os.Stderr, "start:", err)
		}
	}

	reason := app.StopUnknown
	select {
	case s := <-sig:
		reason = app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
		}
		os.Exit(1)
	}
}
