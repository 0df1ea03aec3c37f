package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func executeCLI() error {
	root := buildRootCommand(true)
	if err := root.Execute(); err != nil {
		return err
	}
	return nil
}

func buildRootCommand(includeDocsCommand bool) *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "dotrecall",
		Short: "Conversational memory service with short- and long-term recall",
		Long: strings.TrimSpace(`dotrecall keeps conversational memory for chat assistants.

Every turn is recorded in a per-session short-term buffer; once the buffer is
full it is summarized into durable long-term facts. Replies are generated with
the session's memory plus recent activity from the user's other sessions.

Use CLI commands to chat locally, inspect sessions, serve the HTTP API or MCP
tools, and run the Discord gateway.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newSessionsCommand())
	root.AddCommand(newSessionCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newMCPCommand())
	root.AddCommand(newGatewayCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	if includeDocsCommand {
		docsCmd := newDocsCommand(func() *cobra.Command { return buildRootCommand(false) })
		root.AddCommand(docsCmd)
	}

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.dotrecall config and workspace",
		Long:    "Create the default configuration and the workspace directory that holds the memory database.",
		Example: "  dotrecall onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboard(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newChatCommand() *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:     "chat",
		Aliases: []string{"agent"},
		Short:   "Chat locally with memory (CLI mode)",
		Long:    "Run an interactive chat or send a one-shot message. Without --session a new session is started and its id printed.",
		Example: strings.Join([]string{
			"  dotrecall chat",
			"  dotrecall chat --session 3f2a9c1e-...",
			"  dotrecall chat --message \"what did we plan for Kyoto?\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.message = strings.TrimSpace(opts.message)
			opts.session = strings.TrimSpace(opts.session)
			return chatCmd(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "One-shot message to send")
	cmd.Flags().StringVarP(&opts.session, "session", "s", "", "Session id to continue (default: start a new session)")
	cmd.Flags().StringVarP(&opts.user, "user", "u", "", "User id (default: agents.defaults.user_id)")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func newSessionsCommand() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:     "sessions",
		Short:   "List a user's sessions, most recent first",
		Example: "  dotrecall sessions --user alice",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sessionsCmd(cmd.OutOrStdout(), user)
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User id (default: agents.defaults.user_id)")
	return cmd
}

func newSessionCommand() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:     "session <session-id>",
		Short:   "Show a session's long-term facts and short-term buffer",
		Example: "  dotrecall session discord:1234:5678 --user 5678",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sessionCmd(cmd.OutOrStdout(), user, args[0])
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User id (default: agents.defaults.user_id)")
	return cmd
}

func newServeCommand() *cobra.Command {
	var (
		addr  string
		debug bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP chat API",
		Long: strings.TrimSpace(`Serve POST /chat, GET /sessions and GET /sessions/{id}.

Callers identify themselves with the X-User-ID header; authentication is
expected to happen in front of this server.`),
		Example: "  dotrecall serve --addr 127.0.0.1:18790",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd(addr, debug)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: gateway.host:gateway.port)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newMCPCommand() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:     "mcp",
		Short:   "Serve memory tools over MCP (stdio)",
		Long:    "Expose chat, list_sessions and session_detail as MCP tools on stdin/stdout. Logs go to stderr.",
		Example: "  dotrecall mcp --user alice",
		RunE: func(cmd *cobra.Command, args []string) error {
			return mcpCmd(user)
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User id for tool calls that omit user_id (default: agents.defaults.user_id)")
	return cmd
}

func newGatewayCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Run the Discord gateway + HTTP API",
		Long:    "Start channel adapters, the memory-backed agent loop, the HTTP API and the summary sweeper.",
		Example: "  dotrecall gateway --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			return gatewayCmd(debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration, provider, and runtime readiness",
		Example: "  dotrecall status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusCmd(cmd.OutOrStdout())
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  dotrecall version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}
