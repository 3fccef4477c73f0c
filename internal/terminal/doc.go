// Package terminal multiplexes persistent shell sessions onto at most one
// live network channel each.
//
// # Core Components
//
//   - [Manager]: the session registry. Creates sessions idempotently, kills
//     them, and binds channels to them (attach, detach, input, resize).
//   - [Session]: one shell process, its dimensions, owner and the currently
//     attached [Channel].
//   - The output relay: one goroutine per session that drains the process on
//     every readiness event, appends the decoded chunk to the history store
//     and forwards it to the attached channel.
//
// # Session Lifecycle
//
//  1. [Manager.Create] spawns the process and starts the relay. A session is
//     registered only if the spawn succeeds.
//  2. [Manager.Attach] replays the retained history into a channel and makes
//     it the only attachment. Output produced while nothing is attached goes
//     to history only.
//  3. A failed forward detaches the channel; the chunk stays in history.
//  4. When the process exits the relay stops, the session stays listed as
//     not alive and input to it is dropped.
//  5. [Manager.Kill] cancels and awaits the relay, terminates the process,
//     purges history and the durable record, and removes the session.
//
// # Ordering
//
// Appending a chunk to history, forwarding it, and swapping the attachment
// all happen under the session lock, so a channel attached between two
// chunks sees the first in its replay and the second live, never both and
// never neither.
package terminal
