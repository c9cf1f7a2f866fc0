package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	appErrors "updateinfo/internal/errors"
	"updateinfo/internal/manifest"
	"updateinfo/internal/update"
)

// handleFetchResult reports a failed fetch and returns true if the command
// must exit.
func handleFetchResult(w io.Writer, fetchErr update.FetchError, cause error, source string) bool {
	switch fetchErr {
	case update.NoError:
		return false
	case update.ConnectionError:
		_, _ = fmt.Fprint(w, formatConnectionMessage(source, cause))
		return true
	case update.DeserError:
		_, _ = fmt.Fprint(w, formatDeserializeMessage(source, cause))
		return true
	default:
		_, _ = fmt.Fprintf(w, "Error: update check failed (%s): %v\n", fetchErr, cause)
		return true
	}
}

func formatConnectionMessage(source string, cause error) string {
	hint := "Check your network connection and try again."
	switch {
	case errors.Is(cause, manifest.ErrRateLimited):
		hint = "The update server is rate limiting requests. Wait a few minutes and try again."
	case errors.Is(cause, manifest.ErrNotFound):
		hint = "No manifest was found at this location. Check manifest.url, manifest.file or manifest.database."
	case errors.Is(cause, manifest.ErrTooLarge):
		hint = "The manifest is larger than the client accepts. Check that the location points at a channel manifest."
	}
	return fmt.Sprintf(`Error: update server unreachable

Source: %s
Cause:  %s

%s

`, describeSource(source), describeCause(cause), hint)
}

func formatDeserializeMessage(source string, cause error) string {
	hint := "The manifest could not be decoded. Check manifest.format matches the payload."
	if appErrors.IsCode(cause, appErrors.CodeInvalidManifest) {
		hint = "The manifest decoded but contains invalid channel records."
	}
	return fmt.Sprintf(`Error: update server returned unreadable data

Source: %s
Cause:  %s

%s

`, describeSource(source), describeCause(cause), hint)
}

func describeSource(source string) string {
	if strings.TrimSpace(source) == "" {
		return "unknown"
	}
	return source
}

func describeCause(cause error) string {
	if cause == nil {
		return "unknown error"
	}
	text := strings.TrimSpace(cause.Error())
	if text == "" {
		return "unknown error"
	}
	return text
}
