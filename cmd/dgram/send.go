package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"github.com/sambigeara/dgram/pkg/bufpool"
	"github.com/sambigeara/dgram/pkg/config"
	"github.com/sambigeara/dgram/pkg/dgram"
	"github.com/sambigeara/dgram/pkg/observability/logging"
	"github.com/sambigeara/dgram/pkg/observability/metrics"
	"github.com/sambigeara/dgram/pkg/selector"
	"github.com/sambigeara/dgram/pkg/sendchan"
	"github.com/sambigeara/dgram/pkg/socket"
	"github.com/sambigeara/dgram/pkg/udpsock"
	"github.com/sambigeara/dgram/pkg/util"
)

type sendParams struct {
	logger  *zap.SugaredLogger
	pacer   *util.Pacer
	to      netip.AddrPort
	count   int
	size    int
	timeout time.Duration
	offer   bool
}

func runSend(cmd *cobra.Command, _ []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	toFlag, _ := cmd.Flags().GetString("to")
	count, _ := cmd.Flags().GetInt("count")
	size, _ := cmd.Flags().GetInt("size")
	offer, _ := cmd.Flags().GetBool("offer")
	interval, _ := cmd.Flags().GetDuration("interval")
	jitter, _ := cmd.Flags().GetFloat64("jitter")

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	if err := logging.Init(cfg.LogLevel); err != nil {
		return err
	}
	defer zap.S().Sync() //nolint:errcheck

	logger := zap.S().Named("send")

	pool := bufpool.New(cfg.BufferSize)
	if size < 0 || size > pool.Size() {
		return fmt.Errorf("size must be within [0, %d]", pool.Size())
	}

	raddr, err := net.ResolveUDPAddr("udp", toFlag)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", toFlag, err)
	}
	to := raddr.AddrPort()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background()) //nolint:errcheck

	reg, err := metrics.ObservePool(mp, "send", pool)
	if err != nil {
		return err
	}
	defer reg.Unregister() //nolint:errcheck

	sel, err := selector.NewEpoll()
	if err != nil {
		return err
	}

	sock, err := udpsock.Listen(cfg.Bind, sel, socket.Options{
		TTL:         cfg.TTL,
		TOS:         cfg.TOS,
		WriteBuffer: cfg.WriteBuffer,
		Broadcast:   cfg.Broadcast,
	}, sendchan.WithPool(pool), sendchan.WithMeterProvider(mp))
	if err != nil {
		_ = sel.Close()
		return err
	}
	defer sock.Close()

	logger.Infow("sending", "local", sock.LocalAddr(), "to", to, "count", count, "size", size, "offer", offer)

	loopCtx, stopLoop := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		return sel.Run(gctx)
	})
	g.Go(func() error {
		defer stopLoop()
		return sendLoop(gctx, sock, sendParams{
			to:      to,
			count:   count,
			size:    size,
			offer:   offer,
			pacer:   util.NewPacer(interval, jitter),
			timeout: cfg.SendTimeout,
			logger:  logger,
		})
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	sum, err := collectSummary(context.Background(), reader)
	if err != nil {
		return err
	}
	renderSummary(cmd.OutOrStdout(), sum)
	return nil
}

func sendLoop(ctx context.Context, sock *udpsock.Socket, p sendParams) error {
	for i := range p.count {
		if i > 0 {
			if err := p.pacer.Wait(ctx); err != nil {
				return err
			}
		}

		d := dgram.New(fill(p.size, i), p.to)
		if p.offer {
			if !sock.Outgoing().Offer(d) {
				p.logger.Debugw("offer rejected", "seq", i)
			}
			continue
		}

		if err := sendOne(ctx, sock, d, p.timeout); err != nil {
			var te *sendchan.TransportError
			switch {
			case errors.As(err, &te):
				p.logger.Warnw("send failed", "seq", i, "err", err)
			case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
				p.logger.Warnw("send timed out", "seq", i)
			default:
				return err
			}
		}
	}
	return nil
}

func sendOne(ctx context.Context, sock *udpsock.Socket, d dgram.Datagram, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return sock.Send(ctx, d)
}

func fill(size, seq int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(seq + i)
	}
	return b
}
