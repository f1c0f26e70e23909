// strix-tap attaches to a conversation stream and prints what flows
// through it: messages as they stream, tool calls with their inputs and
// outputs, errors as they surface. It speaks the same wire format as any
// other peer, so pointing it at a websocket endpoint or a NATS subject
// prefix is all it takes to watch a conversation live.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	_ "github.com/joho/godotenv/autoload"
	"github.com/k0kubun/pp/v3"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/casualjim/strix"
	"github.com/casualjim/strix/pkg/natsx"
	"github.com/casualjim/strix/transport"
	"github.com/casualjim/strix/wire"
)

var log zerolog.Logger

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log = zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: slog.LevelInfo}),
	))
}

var (
	rawFrames bool
	debugLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "strix-tap",
	Short: "Attach to a conversation stream and print its frames",
	PersistentPreRun: func(*cobra.Command, []string) {
		if debugLogs {
			slog.SetDefault(slog.New(
				zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: slog.LevelDebug}),
			))
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&rawFrames, "raw", false, "dump decoded frames instead of the rendered view")
	rootCmd.PersistentFlags().BoolVar(&debugLogs, "debug", false, "enable debug logging")
	rootCmd.AddCommand(wsCmd, natsCmd)
}

var wsURL string

var wsCmd = &cobra.Command{
	Use:   "ws",
	Short: "Tap a websocket frame endpoint",
	RunE:  runWS,
}

func init() {
	wsCmd.Flags().StringVar(&wsURL, "url", "ws://localhost:8080/frames", "websocket endpoint")
}

func runWS(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	t := newTap()
	ch, err := transport.DialWS(ctx, wsURL, t.dispatch)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()
	slog.Info("attached", slog.String("url", wsURL))

	select {
	case <-ctx.Done():
		return nil
	case <-ch.Closed():
		if err := ch.Err(); err != nil && !errors.Is(err, transport.ErrClosed) {
			return err
		}
		return nil
	}
}

var (
	natsURL    string
	natsPrefix string
)

var natsCmd = &cobra.Command{
	Use:   "nats",
	Short: "Tap every conversation under a NATS subject prefix",
	RunE:  runNATS,
}

func init() {
	natsCmd.Flags().StringVar(&natsURL, "url", "", "server url, defaults to NATS_URL")
	natsCmd.Flags().StringVar(&natsPrefix, "prefix", "strix", "subject prefix to tap")
}

func runNATS(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	nc, err := natsx.Connect(natsURL)
	if err != nil {
		return err
	}
	defer nc.Close()

	t := newTap()
	outSub, err := transport.SubscribeOutbound(nc, natsPrefix, t.dispatch)
	if err != nil {
		return err
	}
	defer func() { _ = outSub.Unsubscribe() }()

	inSub, err := transport.SubscribeInbound(nc, natsPrefix, t.dispatch)
	if err != nil {
		return err
	}
	defer func() { _ = inSub.Unsubscribe() }()

	slog.Info("attached", slog.String("prefix", natsPrefix), slog.String("server", nc.ConnectedUrl()))
	<-ctx.Done()
	return nil
}

// tap feeds observed frames through a manager so the full node tree
// materializes, then prints lifecycle events as they fire.
type tap struct {
	m *strix.Manager
}

func newTap() *tap {
	t := &tap{m: strix.New()}
	t.m.OnSessionStart(t.session)
	t.m.OnUnhandledError(func(evt strix.ErrorEvent) {
		fmt.Printf("%s [%s] %s\n", color.RedString("error"), evt.NodeID, evt.Err.Message)
	})
	return t
}

func (t *tap) dispatch(f wire.Frame) {
	if rawFrames {
		pp.Println(f)
		return
	}
	t.m.Dispatch(f)
}

func (t *tap) session(s *strix.Session) {
	fmt.Printf("%s %s\n", color.CyanString("session"), s.ID())
	s.OnLabelUpdated(func(label string) {
		fmt.Printf("%s %q\n", color.CyanString("label"), label)
	})
	s.OnExchangeStart(t.exchange)
	s.OnAsyncToolCallStart(func(tc *strix.AsyncToolCall) { t.toolCall(&tc.ToolCall) })
	s.OnInputStreamStart(t.inputStream)
	s.OnEnding(func(wire.SessionEnding) {
		fmt.Printf("%s %s\n", color.CyanString("session ending"), s.ID())
	})
	s.OnEnd(func(wire.SessionEnd) {
		fmt.Printf("%s %s\n", color.CyanString("session end"), s.ID())
	})
}

func (t *tap) exchange(x *strix.Exchange) {
	x.OnMessageStart(t.message)
}

func (t *tap) message(msg *strix.Message) {
	role := "unknown"
	if start, err := msg.Start(); err == nil {
		role = string(start.Role)
	}

	var opened bool
	msg.OnContentPartStart(func(p *strix.ContentPart) {
		p.OnChunk(func(c wire.Chunk) {
			if !opened {
				fmt.Printf("%s: ", color.MagentaString(role))
				opened = true
			}
			fmt.Print(c.Data)
		})
		p.OnEnd(func(wire.ContentPartEnd) {
			if opened {
				fmt.Println()
				opened = false
			}
		})
	})
	msg.OnToolCallStart(func(tc *strix.ToolCall) { t.toolCall(tc) })
}

func (t *tap) toolCall(tc *strix.ToolCall) {
	input := ""
	if start, err := tc.Start(); err == nil {
		input = start.Input.Raw
	}
	fmt.Printf("%s%s\n", color.YellowString(tc.Name()), input)
	tc.OnEnd(func(end wire.ToolCallEnd) {
		switch {
		case end.Cancelled:
			fmt.Printf("%s cancelled\n", color.YellowString(tc.Name()))
		case end.IsError:
			fmt.Printf("%s %s %s\n", color.YellowString(tc.Name()), color.RedString("failed:"), end.Output.Raw)
		default:
			fmt.Printf("%s -> %s\n", color.YellowString(tc.Name()), end.Output.Raw)
		}
	})
}

func (t *tap) inputStream(st *strix.InputStream) {
	mime := ""
	if start, err := st.Start(); err == nil {
		mime = start.MimeType
	}
	fmt.Printf("%s %s (%s)\n", color.BlueString("stream"), st.ID(), mime)
	var total int
	st.OnChunk(func(c wire.StreamChunk) { total += len(c.Data) })
	st.OnEnd(func(end wire.StreamEnd) {
		status := "complete"
		if end.Interrupted {
			status = "interrupted"
		}
		fmt.Printf("%s %s %s, %d bytes\n", color.BlueString("stream"), st.ID(), status, total)
	})
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("strix-tap failed")
	}
}
