// pocketclaude is a single multi-command binary for all three roles of the
// system: the Relay switch, the Agent that owns local PTY sessions, and a
// reference CLI Client adapter (§4.5).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pocketclaude/pocketclaude/internal/agent"
	"github.com/pocketclaude/pocketclaude/internal/agentconfig"
	"github.com/pocketclaude/pocketclaude/internal/client"
	"github.com/pocketclaude/pocketclaude/internal/history"
	"github.com/pocketclaude/pocketclaude/internal/projects"
	"github.com/pocketclaude/pocketclaude/internal/relay"
	"github.com/pocketclaude/pocketclaude/internal/session"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pocketclaude",
		Short: "Relay, Agent, and reference Client for a remote-attachable CLI assistant",
	}

	rootCmd.AddCommand(
		relayCmd(),
		agentCmd(),
		clientCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// relay
// ---------------------------------------------------------------------------

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run the message-switch Relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			token := os.Getenv("RELAY_TOKEN")
			if token == "" {
				return fmt.Errorf("RELAY_TOKEN is required")
			}
			port := os.Getenv("PORT")
			if port == "" {
				port = "8080"
			}

			s := relay.NewServer(token, 30*time.Second, 60*time.Second)
			addr := ":" + port
			slog.Info("relay listening", "addr", addr)
			srv := &http.Server{Addr: addr, Handler: s.Mux()}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()
			go func() {
				<-ctx.Done()
				slog.Info("relay shutting down")
				srv.Close()
			}()

			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("relay listen: %w", err)
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// agent
// ---------------------------------------------------------------------------

func agentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the Agent: owns local PTY sessions and the uplink to a Relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			relayURL := os.Getenv("RELAY_URL")
			if relayURL == "" {
				return fmt.Errorf("RELAY_URL is required")
			}
			token := os.Getenv("RELAY_TOKEN")
			if token == "" {
				return fmt.Errorf("RELAY_TOKEN is required")
			}

			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("resolving home directory: %w", err)
			}
			quickHome := os.Getenv("QUICK_SESSION_PATH")
			if quickHome == "" {
				quickHome = home
			}
			launchCmd := os.Getenv("CLAUDE_PATH")
			if launchCmd == "" {
				launchCmd = "claude"
			}

			dataDir := filepath.Join(home, ".pocketclaude")
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return fmt.Errorf("creating data dir: %w", err)
			}

			cfg, err := agentconfig.Load(dataDir)
			if err != nil {
				return fmt.Errorf("loading agent config: %w", err)
			}

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolving executable path: %w", err)
			}
			catalog, err := projects.Load(filepath.Join(filepath.Dir(exe), "projects.json"), quickHome)
			if err != nil {
				return fmt.Errorf("loading projects: %w", err)
			}

			hist := history.NewStore(filepath.Join(dataDir, "history"))

			dispatcher := agent.NewDispatcher(catalog, hist)
			mgr := session.NewManager(cfg, catalog, hist, launchCmd, dispatcher.OnOutput, dispatcher.OnClosed, dispatcher.OnIdle)
			dispatcher.SetManager(mgr)

			uplink := agent.NewUplink(relayURL, token, &cfg.Uplink, dispatcher)
			dispatcher.SetUplink(uplink)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()

			stop := make(chan struct{})
			go func() {
				<-ctx.Done()
				close(stop)
			}()

			go mgr.RunIdleReaper(stop)
			go dispatcher.Run(stop)

			slog.Info("agent starting", "relay_url", relayURL, "data_dir", dataDir)
			uplink.Run(ctx)
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// client
// ---------------------------------------------------------------------------

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Reference CLI Client adapter (§4.5)",
	}
	cmd.AddCommand(
		clientConnectCmd(),
		clientAttachCmd(),
		clientSendCmd(),
		clientListCmd(),
		clientHistoryCmd(),
	)
	return cmd
}

func clientTarget() (client.Target, error) {
	url := os.Getenv("RELAY_URL")
	if url == "" {
		return client.Target{}, fmt.Errorf("RELAY_URL is required")
	}
	token := os.Getenv("RELAY_TOKEN")
	if token == "" {
		return client.Target{}, fmt.Errorf("RELAY_TOKEN is required")
	}
	return client.Target{URL: url, Token: token}, nil
}

func clientConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Authenticate and print status/error frames until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := clientTarget()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()

			conn, err := client.Connect(ctx, target)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer conn.Close()

			cache := client.NewCache()
			fmt.Println("connected")
			for {
				env, err := conn.Recv(ctx)
				if err != nil {
					return nil
				}
				cache.HandleStatus(env, time.Now())
				fmt.Printf("%s agentConnected=%v\n", env.Type, cache.AgentConnected())
			}
		},
	}
}

func clientAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <projectId>",
		Short: "Attach to (or start) a project's session and forward stdin/stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := clientTarget()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()

			conn, err := client.Connect(ctx, target)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer conn.Close()

			return client.Attach(ctx, conn, client.NewCache(), args[0])
		},
	}
}

func clientSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <sessionId> <input>",
		Short: "Send one input line to an existing session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := clientTarget()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			conn, err := client.Connect(ctx, target)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer conn.Close()

			return client.SendInput(ctx, conn, args[0], args[1])
		},
	}
}

func clientListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List live sessions known to the Agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := clientTarget()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			conn, err := client.Connect(ctx, target)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer conn.Close()

			sessions, err := client.ListSessions(ctx, conn)
			if err != nil {
				return err
			}
			for _, s := range sessions {
				fmt.Printf("%s\tproject=%s\tstatus=%s\tworkingDir=%s\tlastActivity=%s\n",
					s.ID, s.ProjectID, s.Status, s.WorkingDir,
					strconv.FormatInt(s.LastActivity, 10))
			}
			return nil
		},
	}
}

func clientHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <projectId>",
		Short: "Print the stored session history summaries for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := clientTarget()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			conn, err := client.Connect(ctx, target)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer conn.Close()

			p, err := client.GetSessionHistory(ctx, conn, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%+v\n", p.Data)
			return nil
		},
	}
}
