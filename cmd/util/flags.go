package util

import (
	"github.com/spf13/cobra"

	serverconfig "github.com/docmediator/docmediator/internal/server/config"
)

// BindDatastoreFlags binds the datastore flags defined by
// AddDatastoreFlags.
func BindDatastoreFlags(command *cobra.Command) {
	flags := command.Flags()

	MustBindPFlag("datastore.engine", flags.Lookup("datastore-engine"))
	MustBindEnv("datastore.engine", "DOCMEDIATOR_DATASTORE_ENGINE")

	MustBindPFlag("datastore.uri", flags.Lookup("datastore-uri"))
	MustBindEnv("datastore.uri", "DOCMEDIATOR_DATASTORE_URI")

	MustBindPFlag("datastore.username", flags.Lookup("datastore-username"))
	MustBindEnv("datastore.username", "DOCMEDIATOR_DATASTORE_USERNAME")

	MustBindPFlag("datastore.password", flags.Lookup("datastore-password"))
	MustBindEnv("datastore.password", "DOCMEDIATOR_DATASTORE_PASSWORD")

	MustBindPFlag("datastore.maxOpenConns", flags.Lookup("datastore-max-open-conns"))
	MustBindEnv("datastore.maxOpenConns", "DOCMEDIATOR_DATASTORE_MAX_OPEN_CONNS", "DOCMEDIATOR_DATASTORE_MAXOPENCONNS")

	MustBindPFlag("datastore.maxIdleConns", flags.Lookup("datastore-max-idle-conns"))
	MustBindEnv("datastore.maxIdleConns", "DOCMEDIATOR_DATASTORE_MAX_IDLE_CONNS", "DOCMEDIATOR_DATASTORE_MAXIDLECONNS")

	MustBindPFlag("datastore.connMaxIdleTime", flags.Lookup("datastore-conn-max-idle-time"))
	MustBindEnv("datastore.connMaxIdleTime", "DOCMEDIATOR_DATASTORE_CONN_MAX_IDLE_TIME", "DOCMEDIATOR_DATASTORE_CONNMAXIDLETIME")

	MustBindPFlag("datastore.connMaxLifetime", flags.Lookup("datastore-conn-max-lifetime"))
	MustBindEnv("datastore.connMaxLifetime", "DOCMEDIATOR_DATASTORE_CONN_MAX_LIFETIME", "DOCMEDIATOR_DATASTORE_CONNMAXLIFETIME")

	MustBindPFlag("datastore.maxDocumentsPerWrite", flags.Lookup("datastore-max-documents-per-write"))
	MustBindEnv("datastore.maxDocumentsPerWrite", "DOCMEDIATOR_DATASTORE_MAX_DOCUMENTS_PER_WRITE", "DOCMEDIATOR_DATASTORE_MAXDOCUMENTSPERWRITE")
}

// BindFindFlags binds the flags defined by AddFindFlags.
func BindFindFlags(command *cobra.Command) {
	flags := command.Flags()

	MustBindPFlag("find.batchSize", flags.Lookup("find-batch-size"))
	MustBindEnv("find.batchSize", "DOCMEDIATOR_FIND_BATCH_SIZE", "DOCMEDIATOR_FIND_BATCHSIZE")

	MustBindPFlag("find.memoryIndexThreshold", flags.Lookup("find-memory-index-threshold"))
	MustBindEnv("find.memoryIndexThreshold", "DOCMEDIATOR_FIND_MEMORY_INDEX_THRESHOLD", "DOCMEDIATOR_FIND_MEMORYINDEXTHRESHOLD")

	MustBindPFlag("find.adaptiveIndexing", flags.Lookup("find-adaptive-indexing"))
	MustBindEnv("find.adaptiveIndexing", "DOCMEDIATOR_FIND_ADAPTIVE_INDEXING", "DOCMEDIATOR_FIND_ADAPTIVEINDEXING")

	MustBindPFlag("find.assemblyParallelism", flags.Lookup("find-assembly-parallelism"))
	MustBindEnv("find.assemblyParallelism", "DOCMEDIATOR_FIND_ASSEMBLY_PARALLELISM", "DOCMEDIATOR_FIND_ASSEMBLYPARALLELISM")

	MustBindPFlag("find.memoryThresholdBytes", flags.Lookup("find-memory-threshold-bytes"))
	MustBindEnv("find.memoryThresholdBytes", "DOCMEDIATOR_FIND_MEMORY_THRESHOLD_BYTES", "DOCMEDIATOR_FIND_MEMORYTHRESHOLDBYTES")

	MustBindPFlag("find.planCacheSize", flags.Lookup("find-plan-cache-size"))
	MustBindEnv("find.planCacheSize", "DOCMEDIATOR_FIND_PLAN_CACHE_SIZE", "DOCMEDIATOR_FIND_PLANCACHESIZE")

	MustBindPFlag("find.planCacheTTL", flags.Lookup("find-plan-cache-ttl"))
	MustBindEnv("find.planCacheTTL", "DOCMEDIATOR_FIND_PLAN_CACHE_TTL", "DOCMEDIATOR_FIND_PLANCACHETTL")

	MustBindPFlag("find.bruteForceLimit", flags.Lookup("find-brute-force-limit"))
	MustBindEnv("find.bruteForceLimit", "DOCMEDIATOR_FIND_BRUTE_FORCE_LIMIT", "DOCMEDIATOR_FIND_BRUTEFORCELIMIT")
}

// AddDatastoreFlags defines the flags selecting and tuning the datastore.
func AddDatastoreFlags(command *cobra.Command, defaultConfig *serverconfig.Config) {
	flags := command.Flags()

	flags.String("datastore-engine", defaultConfig.Datastore.Engine, "the datastore engine that will be used for persistence ('memory', 'postgres', 'mysql' or 'sqlite')")
	flags.String("datastore-uri", defaultConfig.Datastore.URI, "the connection uri to use to connect to the datastore (for any engine other than 'memory')")
	flags.String("datastore-username", "", "the connection username to use to connect to the datastore (overwrites any username provided in the connection uri)")
	flags.String("datastore-password", "", "the connection password to use to connect to the datastore (overwrites any password provided in the connection uri)")
	flags.Int("datastore-max-open-conns", defaultConfig.Datastore.MaxOpenConns, "the maximum number of open connections to the datastore")
	flags.Int("datastore-max-idle-conns", defaultConfig.Datastore.MaxIdleConns, "the maximum number of connections to the datastore in the idle connection pool")
	flags.Duration("datastore-conn-max-idle-time", defaultConfig.Datastore.ConnMaxIdleTime, "the maximum amount of time a connection to the datastore may be idle")
	flags.Duration("datastore-conn-max-lifetime", defaultConfig.Datastore.ConnMaxLifetime, "the maximum amount of time a connection to the datastore may be reused")
	flags.Int("datastore-max-documents-per-write", defaultConfig.Datastore.MaxDocumentsPerWrite, "the maximum number of documents written in one datastore transaction")
}

// AddFindFlags defines the flags tuning composite find.
func AddFindFlags(command *cobra.Command, defaultConfig *serverconfig.Config) {
	flags := command.Flags()

	flags.Int("find-batch-size", defaultConfig.Find.BatchSize, "the number of parent documents whose children are retrieved with one query")
	flags.Int("find-memory-index-threshold", defaultConfig.Find.MemoryIndexThreshold, "the parent batch size from which children are joined through an in-memory index (negative disables the index)")
	flags.Bool("find-adaptive-indexing", defaultConfig.Find.AdaptiveIndexing, "learn per reference whether the in-memory index pays off")
	flags.Int("find-assembly-parallelism", defaultConfig.Find.AssemblyParallelism, "the number of child retrievals of one assembly running concurrently")
	flags.Int64("find-memory-threshold-bytes", defaultConfig.Find.MemoryThresholdBytes, "the largest estimated result size of one request (0 means unbounded)")
	flags.Int64("find-plan-cache-size", defaultConfig.Find.PlanCacheSize, "the number of plan orientations cached (0 disables the cache)")
	flags.Duration("find-plan-cache-ttl", defaultConfig.Find.PlanCacheTTL, "the time a cached plan orientation is kept")
	flags.Int("find-brute-force-limit", defaultConfig.Find.BruteForceLimit, "the largest number of composite edges whose plan orientations are all enumerated")
}

// AddMetadataFlag defines the flag naming the entity metadata directory.
func AddMetadataFlag(command *cobra.Command, defaultConfig *serverconfig.Config) {
	command.Flags().String("metadata-dir", defaultConfig.MetadataDir, "the directory holding the entity metadata files (*.yaml, *.yml, *.json)")
}

// BindMetadataFlag binds the flag defined by AddMetadataFlag.
func BindMetadataFlag(command *cobra.Command) {
	MustBindPFlag("metadataDir", command.Flags().Lookup("metadata-dir"))
	MustBindEnv("metadataDir", "DOCMEDIATOR_METADATA_DIR", "DOCMEDIATOR_METADATADIR")
}
