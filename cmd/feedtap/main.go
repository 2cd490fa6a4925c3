// feedtap dials the market feed directly and prints decoded ticks to the
// console. It bypasses the hub and is meant for checking credentials and
// instrument keys.
//
// Usage: feedtap --mode quote NSE_EQ:2885 IDX_I:13
//
// Credentials are read from flags or the environment:
//
//	DHAN_CLIENT_ID     - Provider client id
//	DHAN_ACCESS_TOKEN  - Provider access token
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/rickgao/tickhub/internal/auth"
	"github.com/rickgao/tickhub/internal/config"
	"github.com/rickgao/tickhub/internal/connection"
	"github.com/rickgao/tickhub/internal/instrument"
	"github.com/rickgao/tickhub/internal/logging"
	"github.com/rickgao/tickhub/internal/model"
	"github.com/rickgao/tickhub/internal/push"
)

func main() {
	cmd := &cli.Command{
		Name:      "feedtap",
		Usage:     "Stream decoded ticks for a set of instruments",
		ArgsUsage: "SEGMENT:SECURITY_ID...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "feed url", Value: config.DefaultFeedURL},
			&cli.StringFlag{Name: "mode", Usage: "ticker, quote or full", Value: config.DefaultFeedMode},
			&cli.StringFlag{Name: "client-id", Usage: "provider client id", Sources: cli.EnvVars("DHAN_CLIENT_ID")},
			&cli.StringFlag{Name: "token", Usage: "provider access token", Sources: cli.EnvVars("DHAN_ACCESS_TOKEN")},
			&cli.StringFlag{Name: "token-file", Usage: "file holding the access token"},
			&cli.StringFlag{Name: "env-file", Usage: "dotenv file", Value: ".env"},
			&cli.BoolFlag{Name: "json", Usage: "print ticks as push JSON"},
			&cli.DurationFlag{Name: "stats", Usage: "stats interval (0 = off)", Value: 10 * time.Second},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "feedtap:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if err := config.LoadEnvFiles(cmd.String("env-file")); err != nil {
		return err
	}

	logger, err := logging.New(config.LogConfig{Level: "debug", Format: "console"})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	mode, err := model.ParseMode(cmd.String("mode"))
	if err != nil {
		return err
	}
	if cmd.NArg() == 0 {
		return errors.New("at least one instrument is required")
	}
	keys, err := instrument.ParseAll(cmd.Args().Slice())
	if err != nil {
		return err
	}

	creds, err := auth.LoadCredentials(cmd.String("client-id"), cmd.String("token"), cmd.String("token-file"))
	if err != nil {
		logger.Info("set DHAN_CLIENT_ID and DHAN_ACCESS_TOKEN or pass --client-id and --token")
		return err
	}
	logger.Info("using credentials", zap.String("credentials", creds.Redacted()))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clientCfg := connection.DefaultClientConfig()
	clientCfg.URL = cmd.String("url")
	clientCfg.Credentials = creds

	dialCtx, cancel := context.WithTimeout(ctx, clientCfg.HandshakeTimeout)
	conn, err := connection.NewDialer(clientCfg, logger).Dial(dialCtx, mode, keys)
	cancel()
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()

	logger.Info("streaming started - press Ctrl+C to stop",
		zap.Stringer("mode", mode),
		zap.Int("instruments", len(keys)),
	)

	var statsC <-chan time.Time
	if d := cmd.Duration("stats"); d > 0 {
		t := time.NewTicker(d)
		defer t.Stop()
		statsC = t.C
	}

	asJSON := cmd.Bool("json")
	counts := make(map[model.TickKind]int64)
	started := time.Now()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down...", zap.Any("ticks", counts))
			return nil

		case err := <-conn.Errors():
			return fmt.Errorf("feed: %w", err)

		case <-statsC:
			logger.Info("stats",
				zap.Any("ticks", counts),
				zap.Duration("uptime", time.Since(started).Round(time.Second)),
			)

		case tick, ok := <-conn.Ticks():
			if !ok {
				return errors.New("feed closed")
			}
			counts[tick.Kind]++
			printTick(tick, asJSON)
		}
	}
}

func printTick(tick model.Tick, asJSON bool) {
	if asJSON {
		data, _ := json.Marshal(push.NewTickMessage(tick))
		fmt.Println(string(data))
		return
	}

	switch tick.Kind {
	case model.TickKindTicker:
		fmt.Printf("[TICKER] %s ltp=%s ltt=%s\n",
			tick.Key, tick.LTP, tick.LTT.Format(time.TimeOnly))
	case model.TickKindQuote:
		fmt.Printf("[QUOTE] %s ltp=%s ltq=%d atp=%s vol=%d ohlc=%s/%s/%s/%s\n",
			tick.Key, tick.LTP, tick.LTQ, tick.ATP, tick.Volume, tick.Open, tick.High, tick.Low, tick.Close)
	case model.TickKindOI:
		fmt.Printf("[OI] %s oi=%d\n", tick.Key, tick.OI)
	case model.TickKindPrevClose:
		fmt.Printf("[PREV_CLOSE] %s close=%s oi=%d\n", tick.Key, tick.PrevClose, tick.OI)
	case model.TickKindFull:
		bid, ask := "-", "-"
		if len(tick.Depth) > 0 {
			bid = tick.Depth[0].BidPrice.String()
			ask = tick.Depth[0].AskPrice.String()
		}
		fmt.Printf("[FULL] %s ltp=%s vol=%d oi=%d bid=%s ask=%s levels=%d\n",
			tick.Key, tick.LTP, tick.Volume, tick.OI, bid, ask, len(tick.Depth))
	default:
		fmt.Printf("[%s] %s ltp=%s\n", tick.Kind, tick.Key, tick.LTP)
	}
}
