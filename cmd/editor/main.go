// Command editor is a terminal client for the document API. Text typed in
// edit mode is autosaved the same way the browser editor saves.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/docedit/docedit/internal/client"
	"github.com/docedit/docedit/internal/document"
	"github.com/docedit/docedit/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "editor: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("DOCEDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "editor",
		Short:         "Edit documents on a docedit server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logger.Init(v.GetString("log-level"))
		},
	}
	pf := root.PersistentFlags()
	pf.String("server", "http://localhost:5001", "API base URL")
	pf.Duration("debounce", time.Second, "quiet period before an edit is saved")
	pf.Duration("status-clear", 2*time.Second, "how long saved/error stays visible")
	pf.Duration("timeout", 15*time.Second, "per-request timeout")
	pf.String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = v.BindPFlags(pf)

	api := func() *client.Client {
		return client.New(v.GetString("server"), v.GetDuration("timeout"))
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List documents, most recently updated first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				docs, err := api().List(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tUPDATED")
				for _, d := range docs {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Title, d.UpdatedAt.Local().Format(time.DateTime))
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "create [title]",
			Short: "Create an empty document",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				title := "Untitled Document"
				if len(args) == 1 {
					title = args[0]
				}
				d, err := api().Create(cmd.Context(), document.Snapshot{Title: title})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), d.ID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print a document",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := api().Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n\n%s", d.Title, d.Content)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a document",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := api().Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %q\n", d.Title)
				return nil
			},
		},
		&cobra.Command{
			Use:   "edit <id>",
			Short: "Append lines to a document with autosave",
			Long: `Each line read from stdin is appended to the document content and
saved after the debounce period. Commands:
  :w          save now
  :t <title>  rename
  :p          print the buffer
  :q          save pending edits and quit
  :q!         quit, dropping unsaved edits`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c := api()
				return runEdit(cmd.Context(), editOptions{
					ID:          args[0],
					Loader:      c,
					Saver:       c,
					Debounce:    v.GetDuration("debounce"),
					StatusClear: v.GetDuration("status-clear"),
					In:          cmd.InOrStdin(),
					Out:         cmd.OutOrStdout(),
				})
			},
		},
	)
	return root
}
