package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/gpipe/internal/core"
	"github.com/3cpo-dev/gpipe/internal/outputs"
	"github.com/3cpo-dev/gpipe/pkg/api"
)

// Inspect and manage operations
func newOpsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Inspect, wait for and cancel operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newOpsGetCmd())
	cmd.AddCommand(newOpsWaitCmd())
	cmd.AddCommand(newOpsCancelCmd())
	cmd.AddCommand(newOpsLsCmd())
	cmd.AddCommand(newOpsRemoteLsCmd())
	cmd.AddCommand(newOpsOutputsCmd())
	return cmd
}

func newOpsGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Fetch the current state of an operation",
		Long:  "Fetch the current state of an operation. With --local the last snapshot from the history is printed without calling the API.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if local, _ := cmd.Flags().GetBool("local"); local {
				return printStored(cmd, args[0])
			}
			e, err := resolveEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			op, err := e.client.GetOperation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			remember(cmd, e, op)
			return printResult(cmd, op)
		},
	}
	cmd.Flags().Bool("local", false, "read the operation from the local history only")
	return cmd
}

// printStored prints one history row; unknown names exit 1.
func printStored(cmd *cobra.Command, name string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := core.NewStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	row, err := store.Get(cmd.Context(), name)
	if errors.Is(err, core.ErrOperationNotFound) {
		return &exitError{code: 1, err: err}
	}
	if err != nil {
		return err
	}
	return printResult(cmd, row)
}

func newOpsWaitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait NAME...",
		Short: "Poll operations until they are done",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			store, err := e.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			interval, timeout := pollSettings(cmd, e)
			if interval <= 0 {
				return fmt.Errorf("wait needs a positive --poll-interval")
			}
			ops := make([]*api.Operation, 0, len(args))
			for _, name := range args {
				op, err := e.client.GetOperation(cmd.Context(), name)
				if err != nil {
					return err
				}
				ops = append(ops, op)
			}
			ops, err = waitAll(cmd, e, store, ops, interval, timeout)
			if perr := printResult(cmd, ops); perr != nil {
				return perr
			}
			if err != nil {
				return err
			}
			return failedError(ops)
		},
	}
	cmd.Flags().Int("poll-interval", -1, "seconds between status checks (default from config)")
	cmd.Flags().Duration("poll-timeout", 0, "give up waiting after this long (default from config, 0 waits forever)")
	return cmd
}

func newOpsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel NAME...",
		Short: "Request cancellation of operations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			for _, name := range args {
				if err := e.client.CancelOperation(cmd.Context(), name); err != nil {
					return err
				}
				log.Info().Str("operation", name).Msg("Cancellation requested")
			}
			return nil
		},
	}
}

// List the local operation history
func newOpsLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List operations submitted from this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := core.NewStore(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			var f core.ListFilter
			f.PendingOnly, _ = cmd.Flags().GetBool("pending")
			f.Sample, _ = cmd.Flags().GetString("sample")
			f.Limit, _ = cmd.Flags().GetInt("limit")
			rows, err := store.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("format") {
				return printResult(cmd, rows)
			}
			renderHistory(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().Bool("pending", false, "only operations not known to be done")
	cmd.Flags().String("sample", "", "only operations of this sample")
	cmd.Flags().Int("limit", 50, "maximum rows (0 for all)")
	return cmd
}

func renderHistory(w io.Writer, rows []core.StoredOperation) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Operation", "Sample", "Project", "State", "Submitted", "Updated"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, r := range rows {
		table.Append([]string{r.Name, r.Sample, r.Project, state(r), humanize.Time(r.SubmittedAt), humanize.Time(r.UpdatedAt)})
	}
	table.Render()
}

func state(r core.StoredOperation) string {
	switch {
	case !r.Done:
		return "running"
	case r.ErrorMessage != "":
		return "failed: " + r.ErrorMessage
	default:
		return "done"
	}
}

// List operations known to the service
func newOpsRemoteLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote-ls",
		Short: "List the project's operations as reported by the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			if err := e.requireProject(); err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			ops, err := e.client.ListOperations(cmd.Context(), e.cfg.Project, limit)
			if err != nil {
				return err
			}
			return printResult(cmd, ops)
		},
	}
	cmd.Flags().Int("limit", 50, "maximum operations (0 for all)")
	return cmd
}

// Print output paths of a finished operation
func newOpsOutputsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outputs NAME",
		Short: "Print the paths under --prefix found in an operation's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, _ := cmd.Flags().GetString("prefix")
			e, err := resolveEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			op, err := e.client.GetOperation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			remember(cmd, e, op)
			paths, err := operationOutputs(op, prefix)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	cmd.Flags().String("prefix", "gs://", "only print values starting with this prefix")
	return cmd
}

// operationOutputs collects matching strings from the response, then the
// metadata of op.
func operationOutputs(op *api.Operation, prefix string) ([]string, error) {
	var out []string
	for _, raw := range []json.RawMessage{op.Response, op.Metadata} {
		if len(raw) == 0 {
			continue
		}
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", op.Name, err)
		}
		out = append(out, outputs.Matching(v, prefix)...)
	}
	return out, nil
}

// remember stores a snapshot fetched outside of a run.
func remember(cmd *cobra.Command, e *env, op *api.Operation) {
	store, err := e.openStore()
	if err != nil {
		log.Debug().Err(err).Msg("Operation history unavailable")
		return
	}
	defer store.Close()
	logStoreError(store.UpdateSnapshot(cmd.Context(), op), op.Name)
}
