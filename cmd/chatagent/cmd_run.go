package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/chatagent"
	"github.com/hupe1980/chatagent/config"
	"github.com/hupe1980/chatagent/core"
	"github.com/hupe1980/chatagent/engine"
	"github.com/hupe1980/chatagent/logging"
)

// inboundEvent is one NDJSON input line.
type inboundEvent struct {
	ConversationID int64     `json:"conversation_id"`
	ActorID        int64     `json:"actor_id"`
	MessageID      int64     `json:"message_id"`
	Name           string    `json:"name,omitempty"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
}

// outcomeRecord is one NDJSON output line.
type outcomeRecord struct {
	ConversationID int64  `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
	Admitted       bool   `json:"admitted"`
	Executed       bool   `json:"executed"`
	Reason         string `json:"reason,omitempty"`
	Action         string `json:"action,omitempty"`
	Method         string `json:"method,omitempty"`
	ExternalID     int64  `json:"external_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

type runFlags struct {
	shadow bool
	enable bool
	watch  bool
}

// newRunCmd creates the "chatagent run" subcommand.
func newRunCmd(flags *globalFlags) *cobra.Command {
	rf := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run [events.ndjson]",
		Short: "Replay chat events through the agent",
		Long: "Read newline-delimited JSON events from a file or stdin and feed each one to the agent.\n" +
			"Every event yields one JSON outcome line on stdout. Lines that fail to parse are skipped.\n" +
			"Logs and console platform output are written to stderr.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(flags)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			rf.apply(cfg)

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("run: %w", err)
				}
				defer f.Close()
				in = f
			}

			return runAgent(ctx, cfg, flags.configPath, rf, in, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&rf.shadow, "shadow", false, "force shadow mode (no platform calls)")
	cmd.Flags().BoolVar(&rf.enable, "enable", false, "force the agent on regardless of agent.enabled")
	cmd.Flags().BoolVar(&rf.watch, "watch", false, "reload the config file when it changes")

	return cmd
}

func (rf *runFlags) apply(cfg *config.Config) {
	if rf.shadow {
		cfg.Agent.Mode = string(core.ModeShadow)
	}
	if rf.enable {
		cfg.Agent.Enabled = true
	}
}

// runAgent assembles the agent and replays in. Outcome lines go to out; logs
// and console platform lines go to errOut so out stays valid NDJSON.
func runAgent(ctx context.Context, cfg *config.Config, cfgPath string, rf *runFlags, in io.Reader, out, errOut io.Writer, optFns ...func(o *chatagent.Options)) error {
	logger, flush, err := newLogger(cfg.Logging, errOut)
	if err != nil {
		return err
	}
	defer flush()

	ag, err := chatagent.New(ctx, cfg, append([]func(o *chatagent.Options){func(o *chatagent.Options) {
		o.Logger = logger
		o.Output = errOut
	}}, optFns...)...)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	ag.Engine().Callbacks().RegisterCallback(engine.NewLoggingCallback(engine.CallbackOnError, logger))

	if err := ag.Start(ctx); err != nil {
		_ = ag.Close()
		return fmt.Errorf("run: %w", err)
	}
	defer func() {
		if err := ag.Close(); err != nil {
			logger.Warn("run.stop_failed", "error", err.Error())
		}
	}()

	if rf.watch && cfgPath != "" {
		w, err := config.Watch(cfgPath, func(next *config.Config) {
			rf.apply(next)
			ag.Engine().UpdateConfig(next)
		}, func(o *config.WatchOptions) { o.Logger = logger })
		if err != nil {
			logger.Warn("run.watch_failed", "path", cfgPath, "error", err.Error())
		} else {
			defer w.Close()
		}
	}

	n, err := replay(ctx, in, out, ag, logger)
	logger.Info("run.done", "events", n)
	return err
}

// handler is the part of chatagent.Agent that replay drives.
type handler interface {
	Handle(ctx context.Context, ev core.Event, name string) engine.Outcome
}

// replay feeds every NDJSON event from r to h and writes one outcome line
// per event to w. It returns the number of events handled.
func replay(ctx context.Context, r io.Reader, w io.Writer, h handler, logger logging.Logger) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(w)

	n := 0
	for line := 1; sc.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}

		var in inboundEvent
		if err := json.Unmarshal([]byte(raw), &in); err != nil {
			logger.Warn("run.bad_event", "line", line, "error", err.Error())
			continue
		}

		ev := core.NewEvent(in.ConversationID, in.ActorID, in.MessageID, in.Text)
		if !in.Timestamp.IsZero() {
			ev.Timestamp = in.Timestamp.UTC()
		}

		out := h.Handle(ctx, ev, in.Name)
		n++

		if err := enc.Encode(recordOf(ev, out)); err != nil {
			return n, fmt.Errorf("write outcome: %w", err)
		}
	}

	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read events: %w", err)
	}
	return n, nil
}

func recordOf(ev core.Event, out engine.Outcome) outcomeRecord {
	rec := outcomeRecord{
		ConversationID: ev.ConversationID,
		MessageID:      ev.MessageID,
		Admitted:       out.Admitted,
		Executed:       out.Executed,
		Reason:         out.Reason,
	}
	if out.Admitted {
		rec.Method = out.Result.Method
		rec.ExternalID = out.Result.ExternalID
		rec.Error = out.Result.Error
	}
	if out.State != nil && out.State.Decision != nil {
		rec.Action = string(out.State.Decision.Action)
	}
	return rec
}
