// Package importer contains the command loading documents into a datastore.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"

	"github.com/docmediator/docmediator/cmd/util"
	serverconfig "github.com/docmediator/docmediator/internal/server/config"
	"github.com/docmediator/docmediator/pkg/document"
	"github.com/docmediator/docmediator/pkg/logger"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/storage"
)

// DocumentFile is the content of a document file: the documents of one
// entity.
type DocumentFile struct {
	Entity    string         `json:"entity"`
	Version   string         `json:"version,omitempty"`
	Documents []document.Doc `json:"documents"`
}

// ParseDocumentFile parses a YAML or JSON document file.
func ParseDocumentFile(data []byte) (*DocumentFile, error) {
	raw, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, err
	}
	var f DocumentFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if f.Entity == "" {
		return nil, fmt.Errorf("document file names no entity")
	}
	return &f, nil
}

// Load writes the documents of every file into the datastore serving its
// entity, at most batch documents per write. It returns the number of
// documents written.
func Load(ctx context.Context, reg metadata.Registry, backends *storage.Registry, files []string, batch int, l logger.Logger) (int, error) {
	if batch < 1 {
		batch = serverconfig.DefaultMaxDocumentsPerWrite
	}
	total := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return total, err
		}
		f, err := ParseDocumentFile(data)
		if err != nil {
			return total, fmt.Errorf("%s: %w", file, err)
		}
		entity, err := reg.Entity(ctx, f.Entity, f.Version)
		if err != nil {
			return total, fmt.Errorf("%s: %w", file, err)
		}
		ds, err := backends.Datastore(entity)
		if err != nil {
			return total, fmt.Errorf("%s: %w", file, err)
		}
		for chunk := range slices.Chunk(f.Documents, batch) {
			if err := ds.Write(ctx, entity, chunk); err != nil {
				return total, fmt.Errorf("%s: writing %s: %w", file, entity.Key(), err)
			}
			total += len(chunk)
		}
		l.Info("documents imported", zap.String("file", file), zap.String("entity", entity.Key()), zap.Int("documents", len(f.Documents)))
	}
	return total, nil
}

func NewImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import documents into the configured datastore",
		Long: `Import documents into the configured datastore.

Each file is a YAML or JSON object naming an entity (and optionally its version)
and holding the list of its documents:

  entity: user
  documents:
    - {_id: u1, login: alice}`,
		RunE: runImport,
		Args: cobra.MinimumNArgs(1),
	}

	defaultConfig := serverconfig.DefaultConfig()
	util.AddMetadataFlag(cmd, defaultConfig)
	util.AddDatastoreFlags(cmd, defaultConfig)

	cmd.PreRun = func(command *cobra.Command, _ []string) {
		util.BindMetadataFlag(command)
		util.BindDatastoreFlags(command)
	}

	return cmd
}

func runImport(cmd *cobra.Command, files []string) error {
	config, err := util.ReadConfig()
	if err != nil {
		return err
	}
	if err := config.Verify(); err != nil {
		return err
	}
	log := logger.MustNewLogger(config.Log.Format, config.Log.Level, config.Log.TimestampFormat)

	reg, err := util.LoadMetadata(config.MetadataDir)
	if err != nil {
		return err
	}
	backends, err := util.NewBackends(&config.Datastore, log)
	if err != nil {
		return err
	}
	defer backends.Close()

	n, err := Load(cmd.Context(), reg, backends, files, config.Datastore.MaxDocumentsPerWrite, log)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d documents\n", n)
	return nil
}
