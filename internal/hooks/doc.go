// Package hooks adapts assistant tool-use hook invocations to wavekeeper's
// gates.
//
// A hook receives one JSON payload on stdin (PreToolUse or PostToolUse),
// dispatches it through a Manager to the registered handlers, and blocks the
// tool call when a handler returns a *BlockError. Only tools listed in
// Config.ValidatedTools (default "Task") are inspected.
package hooks
