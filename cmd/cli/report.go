package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/taskpipe/internal/tasks/nmapscan"
)

var (
	reportAddresses bool
	reportHops      bool
)

var reportCmd = &cobra.Command{
	Use:   "report <file.xml>",
	Short: "Print the hosts of an nmap XML report",
	Example: `  taskpipe report /tmp/192.168.1.0_24.xml
  taskpipe report scan.xml --addresses`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := nmapscan.ParseReport(args[0])
		if err != nil {
			return err
		}
		switch {
		case reportAddresses:
			for _, addr := range report.AllAddresses() {
				_, _ = fmt.Fprintln(os.Stdout, addr)
			}
			return nil
		case reportHops:
			return printHops(os.Stdout, report)
		}
		return printReport(os.Stdout, report)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().BoolVar(&reportAddresses, "addresses", false, "print every host and hop address, one per line")
	reportCmd.Flags().BoolVar(&reportHops, "hops", false, "print the traceroute hops of every host")
	reportCmd.MarkFlagsMutuallyExclusive("addresses", "hops")
}

func printReport(w io.Writer, report *nmapscan.Report) error {
	_, _ = fmt.Fprintf(w, "%d of %d hosts up\n", report.Up, report.Total)
	if len(report.Hosts) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Address", "Hostname", "Open Ports", "Hops")
	for _, host := range report.Hosts {
		_ = table.Append([]string{
			strings.Join(host.Addresses, ", "),
			strings.Join(host.Hostnames, ", "),
			formatPorts(host.OpenPorts()),
			strconv.Itoa(len(host.Hops)),
		})
	}
	return table.Render()
}

func printHops(w io.Writer, report *nmapscan.Report) error {
	table := tablewriter.NewWriter(w)
	table.Header("Host", "Hop", "Address", "Name", "RTT (ms)")
	for _, host := range report.Hosts {
		name := strings.Join(host.Addresses, ", ")
		for _, hop := range host.Hops {
			_ = table.Append([]string{
				name,
				strconv.Itoa(hop.Index),
				hop.Addr,
				hop.Host,
				strconv.FormatFloat(hop.RTTMs, 'f', 2, 64),
			})
		}
	}
	return table.Render()
}

func formatPorts(ports []uint16) string {
	if len(ports) == 0 {
		return "-"
	}
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(int(p))
	}
	return strings.Join(parts, ",")
}
