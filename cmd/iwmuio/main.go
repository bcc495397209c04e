//go:build linux

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/soypat/iwm"
	"github.com/soypat/iwm/csr"
	"github.com/soypat/iwm/internal/uio"
)

func main() {
	var (
		flagAddr  = flag.String("addr", "", "PCI address of the adapter, e.g. 0000:03:00.0")
		flagDebug = flag.Bool("d", false, "Enable debug logging")
	)
	flag.Parse()
	if *flagAddr == "" {
		flag.Usage()
		os.Exit(2)
	}
	level := slog.LevelInfo
	if *flagDebug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	bus, err := uio.Open(*flagAddr)
	if err != nil {
		fatal(err)
	}
	d, err := iwm.Attach(bus, iwm.Config{Logger: logger})
	if err != nil {
		fatal(err)
	}
	rev, _ := d.HWRevision()
	gp, _ := d.ReadRegister(csr.GP_CNTRL)
	logger.Info("adapter ready",
		slog.String("addr", *flagAddr),
		slog.String("intr", d.InterruptType().String()),
		slog.Uint64("hwrev", uint64(rev)),
		slog.String("gp_cntrl", fmt.Sprintf("%#08x", gp)),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	err = d.Detach()
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "iwmuio:", err)
	os.Exit(1)
}
