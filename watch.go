package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/muacore/mua/monitor"
)

func cmdWatch(c *cmd) {
	c.params = "[-poll interval] [-metrics address] [mailbox ...]"
	c.help = `Watch mailboxes and print a line when they change.

Without mailboxes, the spool mailbox is watched. With -metrics, message counts
are exported in Prometheus format at /metrics on the address. Stop with
interrupt.
`
	var poll time.Duration
	var metricsAddr string
	c.flag.DurationVar(&poll, "poll", 0, "if > 0, also check all mailboxes at this interval")
	c.flag.StringVar(&metricsAddr, "metrics", "", "address to serve metrics on, e.g. localhost:8010")
	args := c.Parse()

	mc := mustLoadConfig()
	if len(args) == 0 {
		args = []string{"!"}
	}

	ctx, stop := signal.NotifyContext(cmdContext(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon, err := monitor.New(mc)
	xcheckf(err, "starting monitor")
	defer func() {
		err := mon.Close()
		c.log.Check(err, "closing monitor")
	}()
	mon.Poll = poll

	for _, arg := range args {
		ch, err := mon.Add(ctx, arg)
		xcheckf(err, "watching %s", arg)
		printChange(ch)
		watchObserve(ch)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.Run(gctx, func(ch monitor.Change) {
			printChange(ch)
			watchObserve(ch)
		})
	})
	if metricsAddr != "" {
		ln, err := net.Listen("tcp", metricsAddr)
		xcheckf(err, "listening for metrics")
		c.log.Info("serving metrics", slog.String("address", ln.Addr().String()))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 30 * time.Second}
		g.Go(func() error {
			err := srv.Serve(ln)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		xcheckf(err, "watching")
	}
}

func printChange(ch monitor.Change) {
	var size string
	if fi, err := os.Stat(ch.Path); err == nil {
		size = humanize.Bytes(uint64(fi.Size()))
	} else {
		size = "missing"
	}
	var newMail string
	if ch.NewMail {
		newMail = ", new mail"
	}
	fmt.Printf("%s %s: %d messages, %d unread, %d new, %d flagged (%s)%s\n", time.Now().Format("15:04:05"), ch.Path, ch.Total, ch.Unread, ch.New, ch.Flagged, size, newMail)
}
