package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
)

func newKeysCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect stored credentials",
	}
	cmd.AddCommand(
		newKeysStatsCommand(opts),
		newKeysListCommand(opts, "due", "List active keys due for rotation", dueKeys),
		newKeysListCommand(opts, "expired", "List active keys past their expiry", expiredKeys),
		newKeysVerifyCommand(opts),
	)
	return cmd
}

type keyLister func(cmd *cobra.Command, a *app) ([]model.CredentialInfo, error)

func dueKeys(cmd *cobra.Command, a *app) ([]model.CredentialInfo, error) {
	store, err := a.requireStore()
	if err != nil {
		return nil, err
	}
	return store.GetKeysDueForRotation(cmd.Context())
}

func expiredKeys(cmd *cobra.Command, a *app) ([]model.CredentialInfo, error) {
	store, err := a.requireStore()
	if err != nil {
		return nil, err
	}
	return store.GetExpiredKeys(cmd.Context())
}

func newKeysStatsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show credential inventory counts",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			store, err := a.requireStore()
			if err != nil {
				return err
			}
			stats, err := store.GetKeyStats(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "TOTAL\tACTIVE\tEXPIRED\tDUE FOR ROTATION\n")
			_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%d\n", stats.Total, stats.Active, stats.Expired, stats.DueForRotation)
			_ = w.Flush()

			if len(stats.ByProvider) > 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
				w = tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintf(w, "PROVIDER\tKEYS\n")
				for _, p := range model.Providers() {
					if n := stats.ByProvider[p]; n > 0 {
						_, _ = fmt.Fprintf(w, "%s\t%d\n", p, n)
					}
				}
				_ = w.Flush()
			}
			return nil
		}),
	}
}

func newKeysListCommand(opts *rootOptions, use, short string, list keyLister) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			keys, err := list(cmd, a)
			if err != nil {
				return err
			}
			printKeys(cmd.OutOrStdout(), keys)
			return nil
		}),
	}
}

func newKeysVerifyCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id>",
		Short: "Check that a stored key still decrypts",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, args []string) error {
			store, err := a.requireStore()
			if err != nil {
				return err
			}
			res, err := store.VerifyKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !res.Valid {
				return fmt.Errorf("key %s failed verification: %s", args[0], res.Error)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "key %s OK\n", args[0])
			return nil
		}),
	}
}

func newProvidersCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show where each provider's key resolves from",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, a *app, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "PROVIDER\tSOURCE\tENV VAR\n")
			for _, s := range a.cache.GetProvidersStatus(cmd.Context()) {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", s.Provider, s.Source, a.fallback.EnvVar(s.Provider))
			}
			return w.Flush()
		}),
	}
}

// withApp wires the application for the duration of one command.
func withApp(opts *rootOptions, run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), opts.cfg, opts.logger)
		if err != nil {
			return err
		}
		defer a.close()
		return run(cmd, a, args)
	}
}

func printKeys(out io.Writer, keys []model.CredentialInfo) {
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(out, "no keys")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID\tNAME\tPROVIDER\tENVIRONMENT\tHINT\tEXPIRES\tROTATION DUE\n")
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			k.ID, k.Name, k.Provider, k.Environment, k.Hint, formatDate(k.ExpiresAt), formatDate(k.RotationDue))
	}
	_ = w.Flush()
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.DateOnly)
}
