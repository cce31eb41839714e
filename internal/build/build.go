// Package build provides build information that is linked into the application. Other
// packages within this project can use this information in logs etc..
package build

var (
	// Version is the build version of the application.
	Version = "dev"

	// Commit is the sha of the git commit the application was built against.
	Commit = "none"

	// Date is the date when the application was built.
	Date = "unknown"

	// ProjectName is the human-readable name of the project.
	ProjectName = "docmediator"
)

// MinimumSupportedDatastoreSchemaRevision is the lowest migration version
// the SQL datastores can serve from.
const MinimumSupportedDatastoreSchemaRevision int64 = 1
