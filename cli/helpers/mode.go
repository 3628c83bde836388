package helpers

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

type Mode string

const (
	ModeJSON Mode = "json"
	ModeText Mode = "text"
)

const FormatFlag = "format"

var ciVars = []string{
	"CI",
	"GITHUB_ACTIONS",
	"GITLAB_CI",
	"BUILDKITE",
	"JENKINS_URL",
	"TF_BUILD",
	"CODEBUILD_BUILD_ID",
}

func isRunningInCI() bool {
	for _, v := range ciVars {
		if os.Getenv(v) != "" {
			return true
		}
	}
	return false
}

// IsInteractive reports whether stdout is a color-capable terminal.
func IsInteractive() bool {
	if isRunningInCI() || os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return false
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// DetectMode honors an explicit --format and otherwise picks text output
// only for interactive terminals.
func DetectMode(cmd *cobra.Command) Mode {
	if cmd != nil {
		if f := cmd.Flags().Lookup(FormatFlag); f != nil {
			switch Mode(f.Value.String()) {
			case ModeJSON:
				return ModeJSON
			case ModeText:
				return ModeText
			}
		}
	}
	if IsInteractive() {
		return ModeText
	}
	return ModeJSON
}
