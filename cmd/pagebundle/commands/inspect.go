package commands

import (
	"fmt"
	"os"
	"sort"

	"pagebundle/internal/components/chrono"
	"pagebundle/internal/components/telemetry"
	"pagebundle/internal/pipeline"
	"pagebundle/internal/sanitize"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var inspectScope *string

func init() {
	inspectScope = inspectCmd.Flags().String("scope", "", "Content scope: html, text, markdown or article.")
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [url] [--scope <scope>]",
	Short: "Prints the metadata and content of a page without downloading or sending anything.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig(args)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("scope") {
			config.Scope = sanitize.Scope(*inspectScope)
		}

		p, err := pipeline.New(config, chrono.StandardImpl{}, telemetry.SlogAPI{})
		if err != nil {
			return err
		}
		b, err := p.Inspect(cmd.Context())
		if err != nil {
			return err
		}

		keys := make([]string, 0, len(b.Meta))
		for k := range b.Meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Key", "Value"})
		t.AppendRow(table.Row{"page title", b.PageTitle})
		t.AppendSeparator()
		for _, k := range keys {
			t.AppendRow(table.Row{k, b.Meta[k]})
		}
		t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, WidthMax: 80}})
		t.SetStyle(table.StyleRounded)
		t.Render()

		fmt.Println()
		fmt.Println(b.Content)
		return nil
	},
}
