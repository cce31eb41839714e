package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/docmediator/docmediator/internal/build"
)

// NewVersionCommand returns the command to get the docmediator version.
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Return the docmediator version",
		Long:  "Return the docmediator version.",
		RunE:  version,
		Args:  cobra.NoArgs,
	}

	return cmd
}

// print out the built version
func version(_ *cobra.Command, _ []string) error {
	log.Printf("%s Version %s Date %s commit id %s ", build.ProjectName, build.Version, build.Date, build.Commit)
	return nil
}
