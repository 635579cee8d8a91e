// Package cosimio couples two independently running solvers so they can
// exchange data, meshes and small parameter sets during a co-simulation,
// without knowing anything about each other's internals.
//
// ## How it works
//
// Each solver creates a `Manager` and calls `Manager.Connect` with an
// `info.Info` describing the coupling. Both sides either pass the same
// "connection_name", or their own "my_name" and the partner's "connect_to",
// in which case the name is derived with `CreateConnectionName`.
//
// Under the hood, a `Connection` asks its transport for a handshake. The
// default "file" communication format rendezvous in a directory shared by
// both processes:
//
// * frames are written to a hidden temporary file and renamed into place,
// * the receiver polls for the final name, reads it and deletes it.
//
// The "socket", "local_socket" and "quic" formats use the same directory to
// agree on roles and publish a listen address, then move frames over TCP, a
// unix socket or a QUIC stream. "memory" pairs two connections of the same
// process through a `transport.Hub`.
//
// Once connected, each exchange is tagged with an "identifier". Frames of one
// identifier arrive in order, frames of distinct identifiers can interleave.
// Every wait is bounded by a timeout: a stalled partner surfaces as
// `ErrConnectionTimeout` and is never retried silently. Retrying is the
// business of the orchestrating solver.
//
// ## Driving a partner
//
// One side can hand control over with `Connection.Run`: it then waits for
// `ControlSignal`s and calls the `Callback` registered for the matching
// `Hook`, until the orchestrator sends `SignalBreakSolutionLoop` or
// `SignalConvergenceAchieved` with `Connection.SendControlSignal`.
//
// ## Results
//
// Every operation returns an `info.Info` along with the error so that thin
// bindings written in other languages can report status without unwrapping
// Go errors. Connect and Disconnect results always carry a
// "connection_status" holding a `ConnectionStatus`.
package cosimio
