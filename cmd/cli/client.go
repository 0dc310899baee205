package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/ospd/internal/client"
	"github.com/anstrom/ospd/internal/osp"
)

const (
	defaultClientTimeout = 30 * time.Second
	timeLayout           = "2006-01-02 15:04:05"
)

func newClientCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Send OSP commands to a running daemon",
		Long: `Send OSP commands to a running daemon over mutual TLS. Connection
settings can also be given as OSPD_CLIENT_* environment variables.`,
		Example: `  ospd client --cert-file client.pem --key-file client-key.pem --ca-file ca.pem version
  ospd client start 192.168.1.10 --param ports=22,80,443 --param timing=4
  ospd client scans --details`,
	}

	flags := cmd.PersistentFlags()
	flags.String("host", "127.0.0.1", "daemon host")
	flags.Int("port", 1234, "daemon port")
	flags.String("cert-file", "", "client certificate")
	flags.String("key-file", "", "client private key")
	flags.String("ca-file", "", "CA certificate used to verify the daemon")
	flags.String("server-name", "", "name expected in the daemon certificate (default is the host)")
	flags.Duration("timeout", defaultClientTimeout, "timeout of each command")

	bindFlags(o, flags, map[string]string{
		"client.host":        "host",
		"client.port":        "port",
		"client.cert_file":   "cert-file",
		"client.key_file":    "key-file",
		"client.ca_file":     "ca-file",
		"client.server_name": "server-name",
		"client.timeout":     "timeout",
	})

	cmd.AddCommand(
		newClientVersionCommand(o),
		newClientDetailsCommand(o),
		newClientHelpCommand(o),
		newClientScansCommand(o),
		newClientStartCommand(o),
		newClientDeleteCommand(o),
	)
	return cmd
}

// newClient builds an OSP client from the client flags.
func (o *options) newClient() (*client.Client, error) {
	host := o.v.GetString("client.host")
	serverName := o.v.GetString("client.server_name")
	if serverName == "" {
		serverName = host
	}

	tlsConfig, err := client.LoadTLSConfig(
		o.v.GetString("client.cert_file"),
		o.v.GetString("client.key_file"),
		o.v.GetString("client.ca_file"),
		serverName,
	)
	if err != nil {
		return nil, err
	}

	address := net.JoinHostPort(host, strconv.Itoa(o.v.GetInt("client.port")))
	return client.New(address, tlsConfig, client.WithTimeout(o.v.GetDuration("client.timeout"))), nil
}

// withClient runs fn with a connected client.
func (o *options) withClient(fn func(ctx context.Context, c *client.Client, out io.Writer) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		c, err := o.newClient()
		if err != nil {
			return err
		}
		return fn(cmd.Context(), c, cmd.OutOrStdout())
	}
}

func newClientVersionCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show protocol, daemon and scanner versions",
		Args:  cobra.NoArgs,
		RunE: o.withClient(func(ctx context.Context, c *client.Client, out io.Writer) error {
			v, err := c.GetVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Protocol: %s %s\n", v.ProtocolName, v.ProtocolVersion)
			fmt.Fprintf(out, "Daemon:   %s %s\n", v.DaemonName, v.DaemonVersion)
			fmt.Fprintf(out, "Scanner:  %s %s\n", v.ScannerName, v.ScannerVersion)
			return nil
		}),
	}
}

func newClientDetailsCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "details",
		Short: "Show the scanner description and parameters",
		Args:  cobra.NoArgs,
		RunE: o.withClient(func(ctx context.Context, c *client.Client, out io.Writer) error {
			details, err := c.GetScannerDetails(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, details.Description)
			fmt.Fprintln(out)
			return renderParams(out, details.Params)
		}),
	}
}

func newClientHelpCommand(o *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "help-commands",
		Short: "List the commands the daemon supports",
		Args:  cobra.NoArgs,
		RunE: o.withClient(func(ctx context.Context, c *client.Client, out io.Writer) error {
			text, body, err := c.Help(ctx, format)
			if err != nil {
				return err
			}
			if format == "xml" {
				return renderHelp(out, body)
			}
			fmt.Fprintln(out, text)
			return nil
		}),
	}
	cmd.Flags().StringVar(&format, "format", "", "help format: text or xml")
	return cmd
}

func newClientScansCommand(o *options) *cobra.Command {
	var (
		scanID  string
		details bool
	)
	cmd := &cobra.Command{
		Use:   "scans",
		Short: "List scans and their progress",
		Args:  cobra.NoArgs,
		RunE: o.withClient(func(ctx context.Context, c *client.Client, out io.Writer) error {
			scans, err := c.GetScans(ctx, scanID, details)
			if err != nil {
				return err
			}
			if len(scans) == 0 {
				fmt.Fprintln(out, "No scans")
				return nil
			}
			if err := renderScans(out, scans); err != nil {
				return err
			}
			if !details {
				return nil
			}
			for i := range scans {
				if len(scans[i].Results) == 0 {
					continue
				}
				fmt.Fprintf(out, "\nResults of %s:\n", scans[i].ID)
				if err := renderResults(out, scans[i].Results); err != nil {
					return err
				}
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&scanID, "id", "", "only show this scan")
	cmd.Flags().BoolVar(&details, "details", false, "include scan results")
	return cmd
}

func newClientStartCommand(o *options) *cobra.Command {
	var params map[string]string
	cmd := &cobra.Command{
		Use:   "start TARGET",
		Short: "Start a scan of TARGET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient()
			if err != nil {
				return err
			}
			id, err := c.StartScan(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "scanner parameter as key=value, repeatable")
	return cmd
}

func newClientDeleteCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete SCAN_ID",
		Short: "Delete a finished scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.newClient()
			if err != nil {
				return err
			}
			if err := c.DeleteScan(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted scan %s\n", args[0])
			return nil
		},
	}
}

func formatUnix(sec int64) string {
	if sec == 0 {
		return "-"
	}
	return time.Unix(sec, 0).UTC().Format(timeLayout)
}

func renderScans(out io.Writer, scans []client.Scan) error {
	table := tablewriter.NewWriter(out)
	table.Header("ID", "Target", "Progress", "Started", "Ended", "Results")
	for i := range scans {
		s := &scans[i]
		if err := table.Append([]string{
			s.ID,
			s.Target,
			fmt.Sprintf("%d%%", s.Progress),
			formatUnix(s.StartTime),
			formatUnix(s.EndTime),
			strconv.Itoa(len(s.Results)),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderResults(out io.Writer, results []client.Result) error {
	table := tablewriter.NewWriter(out)
	table.Header("Type", "Name", "Severity", "Value")
	for _, r := range results {
		if err := table.Append([]string{r.Type, r.Name, r.Severity, r.Value}); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderParams(out io.Writer, params []client.ScannerParam) error {
	table := tablewriter.NewWriter(out)
	table.Header("ID", "Type", "Default", "Description")
	for _, p := range params {
		if err := table.Append([]string{p.ID, p.Type, p.Default, p.Description}); err != nil {
			return err
		}
	}
	return table.Render()
}

// renderHelp lists the commands of an XML help response.
func renderHelp(out io.Writer, body *osp.Element) error {
	table := tablewriter.NewWriter(out)
	table.Header("Command", "Description")
	for _, cmd := range body.Children {
		desc := ""
		if d := cmd.Child("description"); d != nil {
			desc = d.Text
		}
		if err := table.Append([]string{cmd.Name, desc}); err != nil {
			return err
		}
	}
	return table.Render()
}
