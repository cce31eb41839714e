package main

import (
	"os"

	"github.com/docmediator/docmediator/cmd"
	"github.com/docmediator/docmediator/cmd/find"
	"github.com/docmediator/docmediator/cmd/importer"
	"github.com/docmediator/docmediator/cmd/migrate"
	"github.com/docmediator/docmediator/cmd/run"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	runCmd := run.NewRunCommand()
	rootCmd.AddCommand(runCmd)

	migrateCmd := migrate.NewMigrateCommand()
	rootCmd.AddCommand(migrateCmd)

	findCmd := find.NewFindCommand()
	rootCmd.AddCommand(findCmd)

	importCmd := importer.NewImportCommand()
	rootCmd.AddCommand(importCmd)

	versionCmd := cmd.NewVersionCommand()
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
