package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	client "github.com/cbbshop1/solace-sentience"
	"github.com/cbbshop1/solace-sentience/internal/config"
	"github.com/cbbshop1/solace-sentience/internal/factory"
	"github.com/cbbshop1/solace-sentience/internal/logger"
)

var (
	backendURL  string
	storeDriver string
	sqlitePath  string
	debug       bool
)

const commandTimeout = 30 * time.Second

func main() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// NewRootCmd constructs the root CLI command; exposed for unit testing.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "solacectl",
		Short:         "Solace session log: threads, messages and exports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.WarnLevel
			if debug {
				level = zerolog.DebugLevel
				_ = os.Setenv("SOLACE_DEBUG", "true")
			}
			logger.InitConsole(cmd.ErrOrStderr(), level)
			log.Debug().Msg("debug logging enabled")
		},
	}

	rootCmd.PersistentFlags().StringVar(&backendURL, "backend-url", "", "Chat backend base URL (overrides SOLACE_BACKEND_URL)")
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "", "Store driver: memory|sqlite|postgres (overrides SOLACE_STORE_DRIVER)")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite-path", "", "SQLite database path (overrides SOLACE_SQLITE_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable verbose debug output")

	rootCmd.AddCommand(newThreadsCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newLogCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newChatCmd())

	return rootCmd
}

// session is an open client plus what it takes to shut it down.
type session struct {
	c      *client.Client
	closer io.Closer
}

func (s *session) Close() { _ = s.closer.Close() }

// openSession loads config, applies flag overrides, starts the client and
// selects thread when given.
func openSession(ctx context.Context, thread string) (*session, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	if backendURL != "" {
		cfg.BackendURL = backendURL
	}
	if storeDriver != "" || sqlitePath != "" {
		if storeDriver != "" {
			cfg.StoreDriver = storeDriver
		}
		if sqlitePath != "" {
			cfg.SQLitePath = sqlitePath
		}
		if err := cfg.ResolveDefaults(); err != nil {
			return nil, err
		}
	}

	c, closer, err := factory.NewClient(ctx, cfg, log.Logger)
	if err != nil {
		return nil, err
	}
	s := &session{c: c, closer: closer}
	if err := c.Start(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if thread != "" && thread != c.Active() {
		if err := c.Select(ctx, thread); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func newThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List conversation threads (active marked with *)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			s, err := openSession(ctx, "")
			if err != nil {
				return err
			}
			defer s.Close()

			active := s.c.Active()
			for _, cv := range s.c.Conversations() {
				mark := " "
				if cv.ID == active {
					mark = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s  %s  %s\n", mark, cv.ID, cv.CreatedAt.Local().Format("2006-01-02 15:04"), cv.DisplayTitle())
			}
			return nil
		},
	}
	cmd.AddCommand(newThreadNewCmd(), newThreadSelectCmd(), newThreadArchiveCmd(), newThreadRenameCmd())
	return cmd
}

func newThreadNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new [title]",
		Short: "Create a thread and make it active",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			s, err := openSession(ctx, "")
			if err != nil {
				return err
			}
			defer s.Close()

			title := ""
			if len(args) == 1 {
				title = args[0]
			}
			cv, err := s.c.Create(ctx, title)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Thread created: %s - %s\n", cv.ID, cv.DisplayTitle())
			return nil
		},
	}
}

func newThreadSelectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <thread-id>",
		Short: "Make a thread active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			s, err := openSession(ctx, "")
			if err != nil {
				return err
			}
			defer s.Close()

			if _, ok := findThread(s.c, args[0]); !ok {
				return fmt.Errorf("thread %s not found", args[0])
			}
			if err := s.c.Select(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Active thread: %s\n", args[0])
			return nil
		},
	}
}

func newThreadArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <thread-id>",
		Short: "Archive a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			s, err := openSession(ctx, "")
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.c.Archive(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Thread archived: %s (active: %s)\n", args[0], s.c.Active())
			return nil
		},
	}
}

func newThreadRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <thread-id> <title>",
		Short: "Rename a thread",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			s, err := openSession(ctx, "")
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.c.Rename(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Thread renamed: %s - %s\n", args[0], strings.TrimSpace(args[1]))
			return nil
		},
	}
}

func newSendCmd() *cobra.Command {
	var thread string
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "send <text>...",
		Short: "Send a message to the active thread",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout+wait)
			defer cancel()
			s, err := openSession(ctx, thread)
			if err != nil {
				return err
			}
			defer s.Close()

			text := strings.Join(args, " ")
			log.Debug().Str("thread_id", s.c.Active()).Int("text_len", len(text)).Msg("sending message")

			if wait <= 0 {
				if err := s.c.Send(ctx, s.c.Active(), text); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Message sent")
				return nil
			}
			waitCtx, cancelWait := context.WithTimeout(ctx, wait)
			defer cancelWait()
			entry, err := s.c.SendAndWait(waitCtx, s.c.Active(), text)
			if errors.Is(err, client.ErrReplyPending) {
				fmt.Fprintln(cmd.OutOrStdout(), "Message sent; reply still pending")
				return nil
			}
			if err != nil {
				return err
			}
			printEntry(cmd.OutOrStdout(), entry, false)
			return nil
		},
	}
	cmd.Flags().StringVar(&thread, "thread", "", "Thread ID (defaults to the active thread)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait this long for the reply")
	return cmd
}

func newLogCmd() *cobra.Command {
	var thread string
	var limit int
	var asJSON, showAffect bool

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the active thread's log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("limit must be >= 1")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			s, err := openSession(ctx, thread)
			if err != nil {
				return err
			}
			defer s.Close()
			if s.c.Active() == "" {
				return client.ErrNoActiveConversation
			}
			// Wait for the initial fetch to land.
			if err := awaitLoaded(ctx, s.c); err != nil {
				return err
			}

			v := s.c.View()
			entries := v.Entries
			if len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			for _, e := range entries {
				printEntry(out, e, showAffect)
			}
			fmt.Fprintf(out, "-- %s | trust %.3f | %s\n", v.State, v.Trust, affectLine(v.Affect))
			return nil
		},
	}
	cmd.Flags().StringVar(&thread, "thread", "", "Thread ID (defaults to the active thread)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Most recent entries to print")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	cmd.Flags().BoolVar(&showAffect, "affect", false, "Print each entry's emotion state")
	return cmd
}

func newExportCmd() *cobra.Command {
	var thread, dir string
	var noAffect bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the active thread as Markdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			s, err := openSession(ctx, thread)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := awaitLoaded(ctx, s.c); err != nil {
				return err
			}

			path, err := s.c.Export(dir, !noAffect)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported: %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&thread, "thread", "", "Thread ID (defaults to the active thread)")
	cmd.Flags().StringVar(&dir, "dir", ".", "Output directory")
	cmd.Flags().BoolVar(&noAffect, "no-affect", false, "Omit emotion state and trust lines")
	return cmd
}

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract plain text from a document via the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			s, err := openSession(ctx, "")
			if err != nil {
				return err
			}
			defer s.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			res, err := s.c.ExtractText(ctx, f.Name(), f)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return nil
		},
	}
}

func newChatCmd() *cobra.Command {
	var thread string
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive session on the active thread (/quit to leave)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, thread)
			if err != nil {
				return err
			}
			defer s.Close()
			if s.c.Active() == "" {
				if _, err := s.c.Create(ctx, ""); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			if cv, ok := s.c.ActiveConversation(); ok {
				fmt.Fprintf(out, "== %s ==\n", cv.DisplayTitle())
			}

			in := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !in.Scan() {
					return in.Err()
				}
				line := strings.TrimSpace(in.Text())
				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				}
				waitCtx, cancel := context.WithTimeout(ctx, wait)
				entry, err := s.c.SendAndWait(waitCtx, s.c.Active(), line)
				cancel()
				switch {
				case errors.Is(err, client.ErrReplyPending):
					fmt.Fprintln(out, "(reply still pending)")
				case err != nil:
					fmt.Fprintf(out, "error: %v\n", err)
				default:
					printReply(out, entry)
				}
			}
		},
	}
	cmd.Flags().StringVar(&thread, "thread", "", "Thread ID (defaults to the active thread)")
	cmd.Flags().DurationVar(&wait, "wait", 60*time.Second, "How long to wait for each reply")
	return cmd
}

func findThread(c *client.Client, id string) (client.Conversation, bool) {
	for _, cv := range c.Conversations() {
		if cv.ID == id {
			return cv, true
		}
	}
	return client.Conversation{}, false
}

// awaitLoaded waits until the active log finished its initial fetch.
func awaitLoaded(ctx context.Context, c *client.Client) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for c.View().Loading {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func printEntry(w io.Writer, e client.LogEntry, withAffect bool) {
	at := e.CreatedAt.Local().Format("15:04")
	if e.UserText != nil {
		fmt.Fprintf(w, "[%s] You: %s\n", at, *e.UserText)
	}
	printReply(w, e)
	if withAffect {
		fmt.Fprintf(w, "        %s | trust %.3f\n", affectLine(e.Affect), e.Trust())
	}
}

func printReply(w io.Writer, e client.LogEntry) {
	if e.AIResponse == nil {
		fmt.Fprintln(w, "        Solace is thinking…")
		return
	}
	fmt.Fprintf(w, "[%s] Solace: %s\n", e.CreatedAt.Local().Format("15:04"), *e.AIResponse)
	if r, ok := e.Reasoning.Text(); ok {
		fmt.Fprintf(w, "        (reasoning) %s\n", r)
	}
}

func affectLine(a client.AffectVector) string {
	parts := make([]string, 0, 8)
	for _, c := range a.Components() {
		parts = append(parts, fmt.Sprintf("%s %.2f", c.Key, c.Value))
	}
	return strings.Join(parts, " ")
}
