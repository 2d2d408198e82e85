// Package validation guards the places where configuration reaches the
// operating system or the network: external transform commands and
// websocket origins.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// systemBinDirs are the absolute directories a command argument may point into.
var systemBinDirs = []string{"/usr/bin/", "/bin/", "/usr/local/bin/"}

// ValidateArgument validates an external command argument to prevent
// injection through configuration.
func ValidateArgument(arg string) error {
	dangerous := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\\", "\"", "'"}
	for _, char := range dangerous {
		if strings.Contains(arg, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if strings.Contains(arg, "..") {
		return fmt.Errorf("contains path traversal: %s", arg)
	}

	if filepath.IsAbs(arg) {
		for _, dir := range systemBinDirs {
			if strings.HasPrefix(arg, dir) {
				return nil
			}
		}
		return fmt.Errorf("absolute path not allowed: %s", arg)
	}

	return nil
}

// ValidateCommand validates a command name against an allowlist.
func ValidateCommand(command string, allowedCommands map[string]bool) error {
	if command == "" {
		return fmt.Errorf("command cannot be empty")
	}

	if !allowedCommands[command] && !allowedCommands[filepath.Base(command)] {
		return fmt.Errorf("command '%s' is not allowed", command)
	}

	if err := ValidateArgument(command); err != nil {
		return fmt.Errorf("invalid command '%s': %w", command, err)
	}

	return nil
}

// ValidateOrigin validates a websocket Origin header. An empty allow list
// admits loopback origins only.
func ValidateOrigin(origin string, allowedOrigins []string) error {
	if origin == "" {
		return fmt.Errorf("origin header is required")
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin format: %w", err)
	}

	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme '%s': only http and https are allowed", originURL.Scheme)
	}

	if len(allowedOrigins) == 0 {
		switch originURL.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return nil
		}
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" || origin == allowed || originURL.Host == allowed {
			return nil
		}
	}

	return fmt.Errorf("origin '%s' is not in allowed origins list", origin)
}
