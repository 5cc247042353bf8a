// Package core provides the foundational domain types and interfaces used by
// agentpool. It defines the core abstractions for:
//
//   - Stream events (the normalized init/text/tool_use/result records an
//     agent conversation emits)
//   - Launchers (pluggable backends that open an agent conversation as an
//     event stream)
//   - Delivery capabilities (chat message sink, out-of-band agent wake)
//   - The shared error taxonomy for pool operations
//
// The package intentionally keeps implementation concerns (session state
// machines, pool management, notification routing) out of scope, exposing
// small interfaces to enable custom backends and extensions.
package core
