package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amma-stories/amma/internal/agent"
	"github.com/amma-stories/amma/internal/identity"
	"github.com/amma-stories/amma/internal/session"
	"github.com/amma-stories/amma/internal/stream"
)

const chatPrefix = "AMMA: "

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to AMMA in the terminal",
		Long: `Start a terminal conversation with one in-memory session.
Replies are typed out character by character. Type quit or exit to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			// Terminal output belongs to the conversation.
			logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			convLog, err := agent.NewConversationLogger(agent.ConversationLogConfig(cfg.ConversationLog), logger)
			if err != nil {
				return fmt.Errorf("initialize conversation logger: %w", err)
			}
			defer func() { _ = convLog.Close() }()

			graph, err := buildGraph(ctx, cfg, convLog, logger)
			if err != nil {
				return err
			}

			sessions := session.NewManager(graph,
				session.WithConversationLogger(convLog),
				session.WithLogger(logger),
			)
			deliverer := stream.NewDeliverer(stream.NewRegistry(logger), stream.Pacing{Base: cfg.Stream.BaseDelay}, logger)

			return chatLoop(ctx, sessions, deliverer, identity.NewSessionID(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// chatLoop reads lines from in until EOF, quit or exit, and types each reply
// to out.
func chatLoop(ctx context.Context, sessions stream.Sessions, deliverer *stream.Deliverer, sessionID string, in io.Reader, out io.Writer) error {
	conn := stream.NewWriterConn(out, chatPrefix)
	scanner := bufio.NewScanner(in)

	for {
		if _, err := io.WriteString(out, "You: "); err != nil {
			return err
		}
		if !scanner.Scan() {
			_, _ = io.WriteString(out, "\n")
			return scanner.Err()
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		switch strings.ToLower(text) {
		case "quit", "exit":
			return nil
		}

		turn, err := sessions.ApplyTurn(ctx, sessionID, text)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if sendErr := conn.Send(ctx, stream.Event{Type: stream.EventError, Content: "Error: " + err.Error()}); sendErr != nil {
				return sendErr
			}
			continue
		}
		if deliverer.DeliverTo(ctx, conn, turn.Reply) == stream.OutcomeFailed {
			return fmt.Errorf("write reply: %w", io.ErrShortWrite)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
