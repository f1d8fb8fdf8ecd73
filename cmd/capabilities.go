package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-dispatch/internal/adapters"
	"github.com/giantswarm/mcp-dispatch/internal/config"
)

// Output formats of the capabilities command.
const (
	outputText = "text"
	outputJSON = "json"
)

// capabilityListing is one row of the capabilities command.
type capabilityListing struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	Operations []string `json:"operations,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// newCapabilitiesCmd creates the command that prints the capabilities a file
// declares without connecting to any backend.
func newCapabilitiesCmd() *cobra.Command {
	var (
		file   string
		output string
	)

	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "List the capabilities and operations of a capabilities file",
		Long: `Parse a capabilities file and print every declared capability with its
adapter kind and the operations it provides. Backends are not contacted, so
this is a quick check of a file before deploying it.

Known adapter kinds: ` + strings.Join(adapters.Kinds(), ", "),
		RunE: func(cmd *cobra.Command, args []string) error {
			loadEnvIfEmpty(&file, "DISPATCH_CONFIG")
			if file == "" {
				return fmt.Errorf("capabilities file is required (--config or DISPATCH_CONFIG)")
			}

			f, err := config.Load(file)
			if err != nil {
				return err
			}
			return printCapabilities(cmd.OutOrStdout(), listCapabilities(f), output)
		},
	}

	cmd.Flags().StringVar(&file, "config", "", "Capabilities YAML file (can also be set via DISPATCH_CONFIG env var)")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format: text or json")

	return cmd
}

func listCapabilities(f *config.File) []capabilityListing {
	out := make([]capabilityListing, 0, len(f.Capabilities))
	for _, c := range f.Capabilities {
		row := capabilityListing{Name: c.Name, Kind: c.Kind}
		capability, _, err := adapters.Declare(c.Kind, c.Name, c.Config)
		if err != nil {
			row.Error = err.Error()
		} else {
			row.Operations = capability.OperationNames()
		}
		out = append(out, row)
	}
	return out
}

func printCapabilities(w io.Writer, rows []capabilityListing, output string) error {
	switch output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case outputText:
	default:
		return fmt.Errorf("unsupported output format %q (supported: text, json)", output)
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No capabilities declared")
		return err
	}

	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "KIND", "OPERATIONS").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	for _, r := range rows {
		ops := strings.Join(r.Operations, ", ")
		if r.Error != "" {
			ops = "error: " + r.Error
		}
		t.Row(r.Name, r.Kind, ops)
	}

	_, err := fmt.Fprintln(w, t.Render())
	return err
}
