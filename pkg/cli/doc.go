/*
Package cli provides command-line helpers shared by the llmtap commands.

Output Formatting:

Commands that list things build a Table and pick a formatter from the
--output flag:

	format, err := cli.ParseFormat(outputFlag)
	if err != nil {
		return err
	}
	table := &cli.Table{Headers: []string{"ID", "URL"}, Rows: rows, Records: entries}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), table)

Progress Reporting:

	progress := cli.NewProgressReporter(os.Stderr, "chunks")
	progress.Start(total)
	progress.Update(n)
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

Exit Codes:

ExitCode maps a command error to the process exit status: 2 for
configuration errors, 1 for everything else.
*/
package cli
