package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // successful execution
	ExitFailure      = 1 // operation failure (delivery failed, nothing matched)
	ExitCommandError = 2 // command error (bad flags, unreadable database)
)

// ExitError carries a specific exit code out of a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Non-ExitErrors map
// to ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Formatter handles JSON versus text output.
type Formatter struct {
	Format string // "json" | "text"
	Writer io.Writer
}

// response is the JSON envelope every command emits in JSON mode.
type response struct {
	Status string         `json:"status"`
	Data   any            `json:"data,omitempty"`
	Error  *responseError `json:"error,omitempty"`
}

type responseError struct {
	Message string `json:"message"`
}

// JSON reports whether the formatter is in JSON mode.
func (f *Formatter) JSON() bool {
	return f.Format == "json"
}

// Success emits a success payload. Text mode callers usually print
// their own lines instead and skip this.
func (f *Formatter) Success(data any) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(response{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error emits an error payload.
func (f *Formatter) Error(message string) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(response{
			Status: "error",
			Error:  &responseError{Message: message},
		})
	}
	_, err := fmt.Fprintf(f.Writer, "error: %s\n", message)
	return err
}
