package errors

import "sort"

// Template is a registered error code.
type Template struct {
	Category   Category
	Message    string
	Suggestion string
}

var registry = map[string]Template{
	// Configuration (TW100-TW199)
	"TW100": {
		Category:   CategoryConfig,
		Message:    "Config file not found",
		Suggestion: "Run 'taskwire config init' to write a default taskwire.json",
	},
	"TW101": {
		Category:   CategoryConfig,
		Message:    "Config file could not be parsed",
		Suggestion: "taskwire.json accepts JSON with comments; taskwire.yaml must be valid YAML",
	},
	"TW102": {
		Category: CategoryConfig,
		Message:  "Invalid config value",
	},
	"TW103": {
		Category: CategoryConfig,
		Message:  "Config file could not be written",
	},

	// Connection and requests (TW200-TW299)
	"TW200": {
		Category:   CategoryConnection,
		Message:    "Could not connect to server",
		Suggestion: "Check server.address in taskwire.json or set TASKWIRE_SERVER",
	},
	"TW201": {
		Category:   CategoryConnection,
		Message:    "Request timed out",
		Suggestion: "Raise client.requestTimeout if the server is slow",
	},
	"TW202": {
		Category:   CategoryConnection,
		Message:    "Connection lost and reconnecting gave up",
		Suggestion: "Raise client.reconnectAttempts or check that the server is up",
	},
	"TW203": {
		Category: CategoryConnection,
		Message:  "Client closed",
	},
	"TW204": {
		Category:   CategoryConnection,
		Message:    "Not connected",
		Suggestion: "The connection is down or still reconnecting; retry shortly",
	},
	"TW205": {
		Category:   CategoryConnection,
		Message:    "Connection reset before the response arrived",
		Suggestion: "The request may or may not have been applied; check before retrying",
	},
	"TW206": {
		Category: CategoryConnection,
		Message:  "Server rejected the request",
	},

	// Protocol (TW300-TW399)
	"TW300": {
		Category: CategoryProtocol,
		Message:  "Malformed frame",
	},
	"TW301": {
		Category:   CategoryProtocol,
		Message:    "Unknown codec",
		Suggestion: "Use one of: json, msgpack, cbor",
	},
	"TW302": {
		Category: CategoryProtocol,
		Message:  "Frame too large",
	},

	// Command line (TW400-TW499)
	"TW400": {
		Category:   CategoryCLI,
		Message:    "Invalid arguments",
		Suggestion: "Run the command with --help for usage",
	},
	"TW401": {
		Category:   CategoryCLI,
		Message:    "Payload is not valid JSON",
		Suggestion: `Quote the payload for your shell, e.g. '{"keyword":"report"}'`,
	},
	"TW402": {
		Category:   CategoryCLI,
		Message:    "Unknown task status",
		Suggestion: "Use nostarted, progress, complete, cancel or delete",
	},
}

// Lookup returns the template for code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}

// Codes returns every registered code in order.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
