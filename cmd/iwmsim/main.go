package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/soypat/iwm"
	"github.com/soypat/iwm/internal/sim"
)

func main() {
	err := run()
	if err != nil {
		fmt.Fprintln(os.Stderr, "iwmsim:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		flagProfile   = flag.String("profile", "", "YAML adapter profile. Default profile is used if empty")
		flagInstances = flag.Int("n", 1, "Number of simulated adapters to attach")
		flagLevel     = flag.String("level", "info", "Log level: trace, debug, info, warn, error")
		flagEvents    = flag.Bool("events", false, "Print the resource event log of every adapter")
	)
	flag.Parse()
	level, err := parseLevel(*flagLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	prof := sim.DefaultProfile()
	if *flagProfile != "" {
		prof, err = sim.LoadProfile(*flagProfile)
		if err != nil {
			return err
		}
	}
	logger.Info("profile", slog.String("name", prof.Name), slog.Any("interrupts", prof.Interrupts.Types))

	drv := iwm.NewDriver(logger, nil)
	adapters := make([]*sim.Adapter, *flagInstances)
	var attachErr error
	for i := range adapters {
		adapters[i] = sim.New(prof)
		d, err := drv.Attach(i, adapters[i], nil)
		if err != nil {
			attachErr = err
			logger.Error("attach", slog.Int("instance", i), slog.String("err", err.Error()))
			continue
		}
		rev, _ := d.HWRevision()
		claims := adapters[i].Controller().Fire()
		logger.Info("attached",
			slog.String("name", d.Name()),
			slog.String("intr", d.InterruptType().String()),
			slog.Uint64("hwrev", uint64(rev)),
			slog.String("link", d.LinkState().String()),
			slog.Any("claims", claims),
			slog.Duration("bringup", adapters[i].Now()),
		)
	}
	err = drv.Close()
	if err != nil {
		return err
	}
	for i, a := range adapters {
		if *flagEvents {
			for _, ev := range a.Events() {
				fmt.Printf("iwm%d\t%s\n", i, ev)
			}
		}
		if live := a.Live(); !live.Zero() {
			return fmt.Errorf("iwm%d: resources leaked: %+v", i, live)
		}
	}
	return attachErr
}

func parseLevel(s string) (slog.Level, error) {
	if s == "trace" {
		return slog.LevelDebug - 1, nil
	}
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}
