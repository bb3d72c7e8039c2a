package commands

import (
	"fmt"
	"log/slog"
	"os"

	"pagebundle/internal/components/chrono"
	"pagebundle/internal/components/telemetry"
	"pagebundle/internal/pipeline"
	"pagebundle/internal/sanitize"
	"pagebundle/internal/transmit"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	runWebhook   *string
	runOutputDir *string
	runMode      *string
	runDelivery  *string
	runScope     *string
	runWorkers   *int
	runTimeout   *int
	runBackup    *string
	runReport    *string
	runDumpHTTP  *string
)

func init() {
	flags := runCmd.Flags()
	runWebhook = flags.String("webhook", "", "The webhook the bundle is posted to, nothing is sent when empty.")
	runOutputDir = flags.String("output-dir", "", "Directory for the image folder, archive and backup.")
	runMode = flags.String("mode", "", "How images are attached: zip or inline.")
	runDelivery = flags.String("delivery", "", "How text fields are sent: fields or json.")
	runScope = flags.String("scope", "", "Content scope: html, text, markdown or article.")
	runWorkers = flags.Int("workers", 0, "Number of concurrent image downloads.")
	runTimeout = flags.Int("timeout", 0, "Deadline for the whole run in seconds.")
	runBackup = flags.String("backup", "", "Name of the json backup file, empty disables it.")
	runReport = flags.String("report", "", "Name of the html page written next to the backup, empty disables it.")
	runDumpHTTP = flags.String("dump-http", "", "Directory to dump every http exchange into.")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags only touches fields whose flag was given explicitly.
func applyRunFlags(cmd *cobra.Command, config *pipeline.Config) {
	flags := cmd.Flags()
	if flags.Changed("webhook") {
		config.WebhookURL = *runWebhook
	}
	if flags.Changed("output-dir") {
		config.OutputDir = *runOutputDir
	}
	if flags.Changed("mode") {
		config.Mode = transmit.Mode(*runMode)
	}
	if flags.Changed("delivery") {
		config.Delivery = transmit.Delivery(*runDelivery)
	}
	if flags.Changed("scope") {
		config.Scope = sanitize.Scope(*runScope)
	}
	if flags.Changed("workers") {
		config.ImageWorkers = *runWorkers
	}
	if flags.Changed("timeout") {
		config.RunTimeoutSeconds = *runTimeout
	}
	if flags.Changed("backup") {
		config.BackupFile = *runBackup
	}
	if flags.Changed("report") {
		config.ReportFile = *runReport
	}
	if flags.Changed("dump-http") {
		config.DumpHTTPDir = *runDumpHTTP
	}
}

var runCmd = &cobra.Command{
	Use:   "run [url] [--webhook <url>] [--output-dir <dir>]",
	Short: "Fetches a page, downloads its images, archives them and posts the bundle to the webhook.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig(args)
		if err != nil {
			return err
		}
		applyRunFlags(cmd, &config)

		p, err := pipeline.New(config, chrono.StandardImpl{}, telemetry.SlogAPI{})
		if err != nil {
			return err
		}

		slog.Info("processing page", "url", config.TargetURL)
		result, err := p.Run(cmd.Context())
		printRunResult(result)
		return err
	},
}

func printRunResult(result pipeline.Result) {
	if len(result.Images) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"#", "Image", "Result"})
		for _, o := range result.Images {
			status := o.Path
			if !o.Ok() {
				status = "failed: " + o.Err.Error()
			}
			t.AppendRow(table.Row{o.Ref.Index, o.Ref.Src, status})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendRows([]table.Row{
		{"Page title", result.Bundle.PageTitle},
		{"Meta title", result.Bundle.MetaTitle},
		{"Meta description", result.Bundle.MetaDescription},
		{"Image folder", result.Folder},
		{"Archive", result.Bundle.ArchivePath},
		{"Backup", result.Backup},
		{"Report", result.Report},
		{"Duration", result.Duration.String()},
	})
	if result.Transmit != nil {
		t.AppendRow(table.Row{"Webhook", fmt.Sprintf("%d %s", result.Transmit.StatusCode, result.Transmit.Body)})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}
