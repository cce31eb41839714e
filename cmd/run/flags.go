package run

import (
	"github.com/spf13/cobra"

	"github.com/docmediator/docmediator/cmd/util"
)

// bindRunFlagsFunc binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindRunFlagsFunc(command *cobra.Command) func(*cobra.Command, []string) {
	flags := command.Flags()

	return func(_ *cobra.Command, _ []string) {
		util.BindMetadataFlag(command)

		util.MustBindPFlag("bulkParallelism", flags.Lookup("bulk-parallelism"))
		util.MustBindEnv("bulkParallelism", "DOCMEDIATOR_BULK_PARALLELISM", "DOCMEDIATOR_BULKPARALLELISM")

		util.MustBindPFlag("http.addr", flags.Lookup("http-addr"))
		util.MustBindEnv("http.addr", "DOCMEDIATOR_HTTP_ADDR")

		util.MustBindPFlag("http.upstreamTimeout", flags.Lookup("http-upstream-timeout"))
		util.MustBindEnv("http.upstreamTimeout", "DOCMEDIATOR_HTTP_UPSTREAM_TIMEOUT", "DOCMEDIATOR_HTTP_UPSTREAMTIMEOUT")

		util.MustBindPFlag("http.corsAllowedOrigins", flags.Lookup("http-cors-allowed-origins"))
		util.MustBindEnv("http.corsAllowedOrigins", "DOCMEDIATOR_HTTP_CORS_ALLOWED_ORIGINS", "DOCMEDIATOR_HTTP_CORSALLOWEDORIGINS")

		util.MustBindPFlag("http.corsAllowedHeaders", flags.Lookup("http-cors-allowed-headers"))
		util.MustBindEnv("http.corsAllowedHeaders", "DOCMEDIATOR_HTTP_CORS_ALLOWED_HEADERS", "DOCMEDIATOR_HTTP_CORSALLOWEDHEADERS")

		util.BindDatastoreFlags(command)
		util.BindFindFlags(command)

		util.MustBindPFlag("log.format", flags.Lookup("log-format"))
		util.MustBindEnv("log.format", "DOCMEDIATOR_LOG_FORMAT")

		util.MustBindPFlag("log.level", flags.Lookup("log-level"))
		util.MustBindEnv("log.level", "DOCMEDIATOR_LOG_LEVEL")

		util.MustBindPFlag("log.timestampFormat", flags.Lookup("log-timestamp-format"))
		util.MustBindEnv("log.timestampFormat", "DOCMEDIATOR_LOG_TIMESTAMP_FORMAT", "DOCMEDIATOR_LOG_TIMESTAMPFORMAT")

		util.MustBindPFlag("trace.enabled", flags.Lookup("trace-enabled"))
		util.MustBindEnv("trace.enabled", "DOCMEDIATOR_TRACE_ENABLED")

		util.MustBindPFlag("trace.otlp.endpoint", flags.Lookup("trace-otlp-endpoint"))
		util.MustBindEnv("trace.otlp.endpoint", "DOCMEDIATOR_TRACE_OTLP_ENDPOINT")

		util.MustBindPFlag("trace.sampleRatio", flags.Lookup("trace-sample-ratio"))
		util.MustBindEnv("trace.sampleRatio", "DOCMEDIATOR_TRACE_SAMPLE_RATIO", "DOCMEDIATOR_TRACE_SAMPLERATIO")

		util.MustBindPFlag("trace.serviceName", flags.Lookup("trace-service-name"))
		util.MustBindEnv("trace.serviceName", "DOCMEDIATOR_TRACE_SERVICE_NAME", "DOCMEDIATOR_TRACE_SERVICENAME")

		util.MustBindPFlag("metrics.enabled", flags.Lookup("metrics-enabled"))
		util.MustBindEnv("metrics.enabled", "DOCMEDIATOR_METRICS_ENABLED")

		util.MustBindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
		util.MustBindEnv("metrics.addr", "DOCMEDIATOR_METRICS_ADDR")

		util.MustBindPFlag("datastore.metrics.enabled", flags.Lookup("datastore-metrics-enabled"))
		util.MustBindEnv("datastore.metrics.enabled", "DOCMEDIATOR_DATASTORE_METRICS_ENABLED")
	}
}
