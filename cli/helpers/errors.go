package helpers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/compozy/ragrouter/engine/core"
)

// CliError is the structured error printed when a command fails.
type CliError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *CliError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewCliError(code, message string, details ...string) *CliError {
	err := &CliError{Code: code, Message: message}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

var networkKeywords = []string{
	"connection refused",
	"connection reset",
	"no route to host",
	"network is unreachable",
	"no such host",
	"server selection error",
}

func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, k := range networkKeywords {
		if strings.Contains(msg, k) {
			return true
		}
	}
	return false
}

// Categorize maps well-known failures to a CliError. Unknown errors keep
// their own message, redacted.
func Categorize(err error) *CliError {
	if err == nil {
		return nil
	}
	var cliErr *CliError
	if errors.As(err, &cliErr) {
		return cliErr
	}
	details := core.RedactError(err)
	switch {
	case errors.Is(err, context.Canceled):
		return NewCliError("OPERATION_CANCELED", "Operation was canceled")
	case IsTimeoutError(err):
		return NewCliError("OPERATION_TIMEOUT", "Operation timed out", details)
	case IsNetworkError(err):
		return NewCliError("NETWORK_ERROR", "Network connection failed", details)
	}
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr.Code != "" {
		return NewCliError(coreErr.Code, details)
	}
	return NewCliError("COMMAND_FAILED", details)
}

var (
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Italic(true)
)

func FormatError(err error, mode Mode) string {
	cliErr := Categorize(err)
	if cliErr == nil {
		return ""
	}
	if mode == ModeJSON {
		data, mErr := json.MarshalIndent(map[string]*CliError{"error": cliErr}, "", "  ")
		if mErr != nil {
			return fmt.Sprintf(`{"error":{"code":%q}}`, cliErr.Code)
		}
		return string(data)
	}
	out := errorStyle.Render(cliErr.Code + ": " + cliErr.Message)
	if cliErr.Details != "" && cliErr.Details != cliErr.Message {
		out += "\n" + detailStyle.Render("Details: "+cliErr.Details)
	}
	return out
}

// OutputError writes err to w and returns it categorized.
func OutputError(w io.Writer, err error, mode Mode) error {
	if err == nil {
		return nil
	}
	fmt.Fprintln(w, FormatError(err, mode))
	return Categorize(err)
}
