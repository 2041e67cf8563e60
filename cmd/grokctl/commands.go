package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"grok-bot/internal/adapters/repo"
	"grok-bot/internal/app"
	"grok-bot/internal/infra/config"
	"grok-bot/internal/infra/db"
	"grok-bot/internal/infra/log"
	"grok-bot/internal/usecase/admin"
	"grok-bot/internal/usecase/persona"
)

// env — подключения, открытые на время одной команды.
type env struct {
	repo     *repo.Postgres
	admin    *admin.Service
	personas *persona.Service
	log      zerolog.Logger
	close    func()
}

func open() (*env, error) {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	pool, err := app.Pool(cfg)
	if err != nil {
		return nil, err
	}
	r := repo.NewPostgres(pool)
	return &env{
		repo:     r,
		admin:    admin.NewService(r, r, logger),
		personas: persona.NewService(r, nil, r, "", logger),
		log:      logger,
		close:    pool.Close,
	}, nil
}

// withEnv открывает подключение к БД и закрывает его после fn.
func withEnv(fn func(ctx context.Context, e *env, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := open()
		if err != nil {
			return err
		}
		defer e.close()
		return fn(cmd.Context(), e, cmd.OutOrStdout(), args)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "grokctl",
		Short:         "Grok bot operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd(), newErrorsCmd(), newMemoryCmd(), newPersonasCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			pool, err := app.Pool(cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newErrorsCmd() *cobra.Command {
	errorsCmd := &cobra.Command{Use: "errors", Short: "Inspect the persisted error log"}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Show recent errors, newest first",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, e *env, out io.Writer, _ []string) error {
			rows, err := e.admin.RecentErrors(ctx, limit)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No errors logged.")
				return nil
			}
			for _, row := range rows {
				fmt.Fprintln(out, admin.Line(row))
			}
			return nil
		}),
	}
	list.Flags().IntVarP(&limit, "limit", "n", admin.DefaultErrorLimit, "how many errors to show")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one error with context and traceback",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, out io.Writer, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			row, err := e.admin.ErrorDetails(ctx, id)
			if err != nil {
				return err
			}
			if row == nil {
				return fmt.Errorf("error #%d not found", id)
			}
			fmt.Fprint(out, admin.Report(*row))
			return nil
		}),
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all logged errors",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, e *env, out io.Writer, _ []string) error {
			if err := e.admin.ClearErrors(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "All error logs have been cleared.")
			return nil
		}),
	}

	errorsCmd.AddCommand(list, show, clearCmd)
	return errorsCmd
}

func newMemoryCmd() *cobra.Command {
	memoryCmd := &cobra.Command{Use: "memory", Short: "Inspect channel summaries"}

	show := &cobra.Command{
		Use:   "show <channel-id>",
		Short: "Print the rolling summary of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, out io.Writer, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			summary, err := e.admin.ChannelSummary(ctx, id)
			if err != nil {
				return err
			}
			if summary == nil {
				fmt.Fprintln(out, "No memory stored for this channel.")
				return nil
			}
			fmt.Fprintf(out, "%s\n\nLast message: %d\nUpdated: %s\n", summary.Content, summary.LastMsgID, summary.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
			return nil
		}),
	}

	clearCmd := &cobra.Command{
		Use:   "clear <channel-id>",
		Short: "Forget the summary of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, out io.Writer, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := e.admin.ClearChannelSummary(ctx, id); err != nil {
				return err
			}
			fmt.Fprintln(out, "Memory cleared.")
			return nil
		}),
	}

	memoryCmd.AddCommand(show, clearCmd)
	return memoryCmd
}

func newPersonasCmd() *cobra.Command {
	personasCmd := &cobra.Command{Use: "personas", Short: "Manage stored personas"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List personas, Standard first",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, e *env, out io.Writer, _ []string) error {
			rows, err := e.personas.List(ctx)
			if err != nil {
				return err
			}
			for _, p := range rows {
				fmt.Fprintf(out, "%d\t%s\t%s\n", p.ID, p.Name, p.Description)
			}
			return nil
		}),
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a custom persona",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, out io.Writer, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			name, err := e.personas.Delete(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Deleted persona %s.\n", name)
			return nil
		}),
	}

	personasCmd.AddCommand(list, del)
	return personasCmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
