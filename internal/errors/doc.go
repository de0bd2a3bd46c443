// Package errors provides coded, actionable error messages for the taskwire
// command line.
//
// Every error the CLI prints carries a code that names the failing area:
//
//   - TW1xx: configuration
//   - TW2xx: connection and requests
//   - TW3xx: wire protocol
//   - TW4xx: command line usage
//
// Library packages return plain sentinel and typed errors; Explain maps
// them onto codes at the edge.
//
//	if err := run(); err != nil {
//	    errors.Print(os.Stderr, errors.Explain(err))
//	}
package errors
