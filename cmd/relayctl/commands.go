package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hpn/hpn-g-relay/internal/app"
	"github.com/hpn/hpn-g-relay/internal/config"
	"github.com/hpn/hpn-g-relay/internal/domain"
	"github.com/hpn/hpn-g-relay/internal/logging"
	"github.com/hpn/hpn-g-relay/internal/orchestrator"
	"github.com/hpn/hpn-g-relay/internal/quality"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "relayctl",
		Short: "Run prompts through the relay from the command line",
		Long: `relayctl loads the same configuration as the server and runs the
relay in-process.

Available subcommands:
  ask           - Answer a prompt in fast or all mode
  summarize     - Summarise a long text chunk by chunk
  moderate      - Classify text with the moderation service
  clear-history - Forget a user's conversation`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml")

	root.AddCommand(
		newAskCmd(opts),
		newSummarizeCmd(opts),
		newModerateCmd(opts),
		newClearHistoryCmd(opts),
	)
	return root
}

// withRelay loads configuration, builds the relay and runs fn against it.
// Logs go to stderr so stdout carries only answers.
func withRelay(ctx context.Context, opts *rootOptions, fn func(*app.App) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	logger := logging.New(os.Stderr, cfg.Logging)
	relay, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer relay.Close()

	return fn(relay)
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		mode    string
		userID  string
		role    string
		limited bool
		clean   bool
	)

	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Answer a prompt",
		Long: `Answer a prompt. Fast mode returns the first usable answer; all mode
asks every backend and joins their answers.

With --clean the answer is regenerated until it passes the quality gate.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			req := orchestrator.Request{
				Prompt:  prompt,
				Mode:    domain.Mode(mode),
				UserID:  domain.UserID(userID),
				Role:    role,
				Limited: limited,
			}

			return withRelay(cmd.Context(), opts, func(relay *app.App) error {
				var answer string
				if clean {
					c, err := relay.Gate.Answer(cmd.Context(), relay.Orchestrator.NewSession(req), prompt)
					if err != nil && !errors.Is(err, quality.ErrNoCandidate) {
						return err
					}
					answer = c.Text
				} else {
					var err error
					if answer, err = relay.Orchestrator.Run(cmd.Context(), req); err != nil {
						return err
					}
				}

				if answer == "" {
					return errors.New("no backend produced an answer")
				}
				fmt.Fprintln(cmd.OutOrStdout(), answer)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", string(domain.ModeFast), "fast or all")
	cmd.Flags().StringVarP(&userID, "user", "u", "0", "user id; 0 keeps no history")
	cmd.Flags().StringVar(&role, "role", "", "system prompt for identified users")
	cmd.Flags().BoolVar(&limited, "limited", false, "skip the token backend")
	cmd.Flags().BoolVar(&clean, "clean", false, "regenerate until the answer passes the quality gate")
	return cmd
}

func newSummarizeCmd(opts *rootOptions) *cobra.Command {
	var (
		prompt  string
		file    string
		limit   int
		limited bool
	)

	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Summarise a long text",
		Long: `Summarise text read from --file, or stdin when no file is given.
The text is cut into chunks and at most limit+1 chunks are sent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			return withRelay(cmd.Context(), opts, func(relay *app.App) error {
				summary, err := relay.Orchestrator.Summarize(cmd.Context(), prompt, text, limit, limited)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), summary)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "Кратко перескажи текст: ", "instruction prepended to every chunk")
	cmd.Flags().StringVarP(&file, "file", "f", "", "file to summarise")
	cmd.Flags().IntVar(&limit, "limit", 4, "process at most limit+1 chunks")
	cmd.Flags().BoolVar(&limited, "limited", false, "skip the token backend")
	return cmd
}

func newModerateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "moderate <text>",
		Short: "Classify text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRelay(cmd.Context(), opts, func(relay *app.App) error {
				v, err := relay.Moderator.Check(cmd.Context(), strings.Join(args, " "))
				if err != nil && !errors.Is(err, domain.ErrModerationDegraded) {
					return err
				}

				out := cmd.OutOrStdout()
				switch {
				case v.Degraded:
					fmt.Fprintf(out, "degraded: %s\n", v.Detail)
				case v.Flagged:
					fmt.Fprintf(out, "flagged: %s\n", strings.Join(v.Categories, ", "))
				default:
					fmt.Fprintln(out, "clean")
				}
				return nil
			})
		},
	}
}

func newClearHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-history <user_id>",
		Short: "Forget a user's conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRelay(cmd.Context(), opts, func(relay *app.App) error {
				if err := relay.Orchestrator.ClearHistory(cmd.Context(), domain.UserID(args[0])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "history cleared for %s\n", args[0])
				return nil
			})
		},
	}
}

func readInput(stdin io.Reader, path string) (string, error) {
	if path == "" {
		b, err := io.ReadAll(stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}
