// Package main provides the shellagent CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/richinex/shellagent/cli"
	"github.com/richinex/shellagent/config"
	"github.com/richinex/shellagent/internal/logger"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	provider     string
	model        string
	maxIter      int
	shell        string
	dbPath       string
	noTranscript bool
	logLevel     string
	verbose      bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		// A second interrupt terminates the process.
		<-ctx.Done()
		stop()
	}()

	rootCmd := &cobra.Command{
		Use:   "shellagent",
		Short: "Chat with a model that runs shell scripts on this machine",
		Long: `A terminal assistant that sends your requests to a language model and
runs the shell scripts it asks for, feeding the output back until the model
reports that the request is complete.

Supported providers: ` + strings.Join(config.SupportedProviders(), ", ") + `.
API keys are read from the environment, a .env file, or the credentials
file written by /api <key>.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initLogging,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Chat(cmd.Context(), options())
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider (openai, anthropic, deepseek, gemini); defaults to $LLM_PROVIDER or gemini")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Model name; defaults to the provider's configured model")
	rootCmd.PersistentFlags().IntVarP(&maxIter, "max-iter", "m", 0, "Maximum model calls per request (default $AGENT_MAX_ITERATIONS or 15)")
	rootCmd.PersistentFlags().StringVar(&shell, "shell", "", "Shell for scripts: auto, bash, sh, pwsh, powershell")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Transcript database path (default $SHELLAGENT_DB or .shellagent/transcripts.db)")
	rootCmd.PersistentFlags().BoolVar(&noTranscript, "no-transcript", false, "Do not record the conversation")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show full command output and per-request statistics")

	// Add commands
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(transcriptsCmd())

	err := rootCmd.ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		// Failed turns already reported their error.
		if !errors.Is(err, cli.ErrTaskFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func options() cli.Options {
	opts := cli.DefaultOptions()
	opts.Provider = provider
	opts.Model = model
	opts.MaxIter = maxIter
	opts.Shell = shell
	opts.DBPath = dbPath
	opts.NoTranscript = noTranscript
	opts.Verbose = verbose
	return opts
}

func initLogging(cmd *cobra.Command, args []string) error {
	settings, err := config.New(provider)
	if err != nil {
		return err
	}
	level := settings.Log.Level
	switch {
	case logLevel != "":
		level = logLevel
	case verbose:
		level = "debug"
	}
	return logger.Init(logger.Config{
		Level:       level,
		Format:      settings.Log.Format,
		OutputPaths: settings.Log.Output,
	})
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session (default)",
		Long: `Start an interactive chat session.

Commands inside the chat:
  /api <key>   Save the API key for the current provider and start a new conversation
  /api         Remove the saved API key
  /reset       Clear the conversation history
  exit, quit   Leave the chat`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Chat(cmd.Context(), options())
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [request]",
		Short: "Run a single request and exit",
		Long:  "Run a single request to completion. Exits non-zero when the request fails.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunTask(cmd.Context(), strings.Join(args, " "), options())
		},
	}
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListTools(options())
		},
	}
}

func transcriptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcripts",
		Short: "Browse recorded conversations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recorded sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListTranscripts(cmd.Context(), options())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show [session-id]",
		Short: "Print every turn of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ShowTranscript(cmd.Context(), args[0], options())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete [session-id]",
		Short: "Delete a session's transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.DeleteTranscript(cmd.Context(), args[0], options())
		},
	})

	return cmd
}
