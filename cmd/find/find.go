// Package find contains the command running one find request from the
// command line.
package find

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/docmediator/docmediator/cmd/importer"
	"github.com/docmediator/docmediator/cmd/util"
	"github.com/docmediator/docmediator/internal/mediator"
	serverconfig "github.com/docmediator/docmediator/internal/server/config"
	"github.com/docmediator/docmediator/pkg/logger"
)

const (
	requestFlag   = "request"
	rolesFlag     = "roles"
	explainFlag   = "explain"
	documentsFlag = "documents"
)

func NewFindCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find [REQUEST_FILE]",
		Short: "Run one find request against the configured datastore",
		Long: `Run one find request against the configured datastore and print the response.

The request is read from --request, from REQUEST_FILE, or from stdin when
REQUEST_FILE is '-'.`,
		RunE: runFind,
		Args: cobra.MaximumNArgs(1),
	}

	defaultConfig := serverconfig.DefaultConfig()
	flags := cmd.Flags()

	flags.String(requestFlag, "", "the find request as JSON")
	flags.StringSlice(rolesFlag, nil, "the caller's roles")
	flags.Bool(explainFlag, false, "print the query plans instead of the documents")
	flags.StringSlice(documentsFlag, nil, "document files imported before the request runs")

	util.AddMetadataFlag(cmd, defaultConfig)
	util.AddDatastoreFlags(cmd, defaultConfig)
	util.AddFindFlags(cmd, defaultConfig)

	cmd.PreRun = func(command *cobra.Command, _ []string) {
		util.BindMetadataFlag(command)
		util.BindDatastoreFlags(command)
		util.BindFindFlags(command)
	}

	return cmd
}

func readRequest(cmd *cobra.Command, args []string) ([]byte, error) {
	if req, _ := cmd.Flags().GetString(requestFlag); req != "" {
		return []byte(req), nil
	}
	if len(args) == 0 {
		return nil, errors.New("a request is required: pass --request or a request file")
	}
	if args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}

func runFind(cmd *cobra.Command, args []string) error {
	raw, err := readRequest(cmd, args)
	if err != nil {
		return err
	}
	req := &mediator.FindRequest{}
	if err := json.Unmarshal(raw, req); err != nil {
		return err
	}
	req.Roles, _ = cmd.Flags().GetStringSlice(rolesFlag)

	config, err := util.ReadConfig()
	if err != nil {
		return err
	}
	if err := config.Verify(); err != nil {
		return err
	}
	log := logger.MustNewLogger(config.Log.Format, "none", config.Log.TimestampFormat)

	reg, err := util.LoadMetadata(config.MetadataDir)
	if err != nil {
		return err
	}
	backends, err := util.NewBackends(&config.Datastore, log)
	if err != nil {
		return err
	}
	defer backends.Close()

	documents, _ := cmd.Flags().GetStringSlice(documentsFlag)
	if _, err := importer.Load(cmd.Context(), reg, backends, documents, config.Datastore.MaxDocumentsPerWrite, log); err != nil {
		return err
	}

	m, err := mediator.New(reg, backends,
		mediator.WithLogger(log),
		mediator.WithBatchSize(config.Find.BatchSize),
		mediator.WithMemoryIndexThreshold(config.Find.MemoryIndexThreshold),
		mediator.WithAdaptiveIndexing(config.Find.AdaptiveIndexing),
		mediator.WithAssemblyParallelism(config.Find.AssemblyParallelism),
		mediator.WithMemoryThreshold(config.Find.MemoryThresholdBytes),
		mediator.WithPlanCache(0, 0),
		mediator.WithBruteForceLimit(config.Find.BruteForceLimit),
	)
	if err != nil {
		return err
	}
	defer m.Close()

	var resp *mediator.Response
	if explain, _ := cmd.Flags().GetBool(explainFlag); explain {
		resp = m.Explain(cmd.Context(), req)
	} else {
		resp = m.Find(cmd.Context(), req)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	if resp.Status == mediator.StatusError && len(resp.Errors) > 0 {
		return fmt.Errorf("request failed: %s", resp.Errors[0].Error())
	}
	return nil
}
