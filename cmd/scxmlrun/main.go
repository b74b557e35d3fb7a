// Command scxmlrun is the engine's demo/operator CLI: it builds a small
// in-memory document, starts a Session against it, optionally exposes
// the HTTP and WebSocket event I/O processors, and drives the session
// from a timer, reporting the active configuration on every cycle.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/comalice/scxml-core/config"
	"github.com/comalice/scxml-core/dispatch/httpproc"
	"github.com/comalice/scxml-core/dispatch/wsproc"
	"github.com/comalice/scxml-core/document"
	"github.com/comalice/scxml-core/document/memdoc"
	"github.com/comalice/scxml-core/event"
	"github.com/comalice/scxml-core/interpreter"
	"github.com/comalice/scxml-core/logging"
	"github.com/comalice/scxml-core/persistence"
	"github.com/comalice/scxml-core/scripting/gojahost"
)

func main() {
	app := &cli.App{
		Name:  "scxmlrun",
		Usage: "run an in-memory SCXML document against the execution core",
		Commands: []*cli.Command{
			runCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "scxmlrun:", err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "start the built-in traffic-light demo document",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a TOML engine config file"},
			&cli.IntFlag{Name: "cycles", Value: 12, Usage: "number of timer ticks before exiting"},
			&cli.DurationFlag{Name: "period", Value: 2 * time.Second, Usage: "timer period between TIMER events"},
			&cli.StringFlag{Name: "snapshot-dir", Value: "/tmp/scxmlrun-snapshots", Usage: "directory the session's final configuration is saved to on stop"},
			&cli.BoolFlag{Name: "print-dot", Usage: "print a Graphviz DOT render of the configuration every cycle"},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := logging.New(os.Stdout, parseLevel(cfg.Logging.Level))

	model, err := trafficLightDocument(cfg)
	if err != nil {
		return err
	}

	host := gojahost.New()
	dispatcher := httpproc.New(logger)
	wsDispatcher := wsproc.New(logger)

	persister, err := persistence.NewJSONPersister(c.String("snapshot-dir"))
	if err != nil {
		return err
	}

	sess := interpreter.New(model, host,
		interpreter.WithLogger(logger),
		interpreter.WithDispatcher(dispatcher),
		interpreter.WithPersister(persister),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.HTTPDispatch.Enabled {
		dispatcher.Register(sess.ID(), sess)
		server := &http.Server{Addr: cfg.HTTPDispatch.Addr, Handler: dispatcher.Handler()}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http event i/o processor stopped", logging.Fields{"error": err.Error()})
			}
		}()
		defer server.Close()
	}
	if cfg.WSDispatch.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/sessions/"+sess.ID()+"/ws", func(w http.ResponseWriter, r *http.Request) {
			wsDispatcher.ServeHTTP(w, r, sess.ID(), sess)
		})
		server := &http.Server{Addr: cfg.WSDispatch.Addr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("websocket event i/o processor stopped", logging.Fields{"error": err.Error()})
			}
		}()
		defer server.Close()
	}

	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Stop(context.Background())

	ticker := time.NewTicker(c.Duration("period"))
	defer ticker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	maxCycles := c.Int("cycles")
	cycle := 0
	for {
		select {
		case <-ticker.C:
			if err := sess.Send(ctx, event.Event{Name: "timer"}); err != nil {
				logger.Warn("send failed", logging.Fields{"error": err.Error()})
			}
			cycle++
			fmt.Printf("--- cycle %d --- active: %v\n", cycle, sess.ActiveStates())
			if c.Bool("print-dot") {
				fmt.Println(sess.Visualize())
			}
			if cycle >= maxCycles {
				fmt.Println("demo complete")
				return nil
			}
		case <-sig:
			fmt.Println("shutting down")
			return nil
		}
	}
}

// trafficLightDocument builds a three-light cycle as a document.Model
// via memdoc's fluent builder.
func trafficLightDocument(cfg config.EngineConfig) (document.Model, error) {
	binding := document.EarlyBinding
	if cfg.DataModel.DefaultBinding == "late" {
		binding = document.LateBinding
	}
	return memdoc.NewBuilder("traffic-light", "", binding).
		Compound("traffic").WithInitial("red").
		Atomic("red").Transition([]string{"timer"}, "", []string{"green"}, document.External).
		Atomic("green").Transition([]string{"timer"}, "", []string{"yellow"}, document.External).
		Atomic("yellow").Transition([]string{"timer"}, "", []string{"red"}, document.External).
		Build()
}

func parseLevel(level string) logrus.Level {
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lv
}
