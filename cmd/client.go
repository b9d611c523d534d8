package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/discoverd/internal/brand"
	"grimm.is/discoverd/internal/client"
)

// clientFlags are shared by the commands that talk to a running service.
type clientFlags struct {
	url         string
	authToken   string
	fingerprint string
	timeout     time.Duration
}

func (f *clientFlags) register(c *cobra.Command) {
	c.Flags().StringVar(&f.url, "url", os.Getenv(brand.ConfigEnvPrefix+"_URL"),
		"discoverd API URL (default http://<this host>:5050/v1)")
	c.Flags().StringVar(&f.authToken, "auth-token", os.Getenv("OS_AUTH_TOKEN"), "token sent as X-Auth-Token")
	c.Flags().StringVar(&f.fingerprint, "fingerprint", "", "pin the server certificate by SHA-256 fingerprint")
	c.Flags().DurationVar(&f.timeout, "timeout", 30*time.Second, "request timeout")
}

func (f *clientFlags) client() *client.HTTPClient {
	opts := []client.ClientOption{client.WithTimeout(f.timeout)}
	if f.authToken != "" {
		opts = append(opts, client.WithAuthToken(f.authToken))
	}
	if f.fingerprint != "" {
		opts = append(opts, client.WithFingerprint(f.fingerprint))
	}
	return client.NewHTTPClient(f.url, opts...)
}

func newIntrospectCommand() *cobra.Command {
	var (
		flags clientFlags
		opts  client.IntrospectOptions
	)
	c := &cobra.Command{
		Use:   "introspect UUID...",
		Short: "Start introspection of nodes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := flags.client()
			for _, id := range args {
				if err := cl.Introspect(cmd.Context(), id, opts); err != nil {
					return fmt.Errorf("node %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Introspection started for %s\n", id)
			}
			return nil
		},
	}
	flags.register(c)
	c.Flags().StringVar(&opts.NewIPMIUsername, "new-ipmi-username", "", "BMC user name for the ramdisk to set")
	c.Flags().StringVar(&opts.NewIPMIPassword, "new-ipmi-password", "", "BMC password for the ramdisk to set")
	return c
}

func newStatusCommand() *cobra.Command {
	var (
		flags  clientFlags
		asJSON bool
	)
	c := &cobra.Command{
		Use:   "status UUID",
		Short: "Show introspection status of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := flags.client().GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printStatus(cmd, args[0], st, asJSON)
		},
	}
	flags.register(c)
	c.Flags().BoolVar(&asJSON, "json", false, "print the raw status document")
	return c
}

func printStatus(cmd *cobra.Command, id string, st *client.Status, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	state := "running"
	if st.Finished {
		state = "finished"
	}
	fmt.Fprintf(out, "Node:     %s\n", id)
	fmt.Fprintf(out, "State:    %s\n", state)
	if st.Error != nil {
		fmt.Fprintf(out, "Error:    %s\n", *st.Error)
	}
	return nil
}

// waitContext bounds ctx by timeout when one is set.
func waitContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
