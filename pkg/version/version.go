package version

// Set at build time:
//
//	-X 'github.com/compozy/ragrouter/pkg/version.Version=v1.0.0'
//	-X 'github.com/compozy/ragrouter/pkg/version.CommitHash=abc123'
//	-X 'github.com/compozy/ragrouter/pkg/version.BuildDate=2025-01-01T00:00:00Z'
var (
	Version    = "unknown"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildDate  string `json:"build_date"`
}

func Get() Info {
	return Info{Version: Version, CommitHash: CommitHash, BuildDate: BuildDate}
}

// String renders the one-line form printed by --version.
func (i Info) String() string {
	return i.Version + " (commit " + i.CommitHash + ", built " + i.BuildDate + ")"
}
