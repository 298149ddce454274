// Package service coordinates import jobs running in isolated worker
// processes.
//
// Overview
// The Coordinator owns no job state itself. Start asks a Launcher for a
// worker, records a NOT_STARTED job carrying the returned Handle in the
// registry and hands the Handle to a dedicated goroutine. The worker's
// events are not read before the record exists, so no event can precede
// NOT_STARTED. That goroutine is the only writer of the
// job's record: it drains the Handle's event channel in order and turns each
// event into a full replacement of the record.
//
// A Handle delivers three kinds of events:
//   - frames decoded from the worker's output (see package protocol)
//   - transport errors (undecodable output, pipe failures, timeouts)
//   - exactly one exit event carrying the process exit code
//
// ProcessLauncher is a thin wrapper around os/exec:
//   - starts the process
//   - writes the protocol.Input to stdin and closes it
//   - decodes frames from stdout
//   - optionally forwards stderr lines (extra goroutine)
//   - emits the exit code once all pipes are drained
//
// Data flow:
//
//   Coordinator           drive{id}              ProcessLauncher{cmd}
//       |                    |                       |
//   Start                    |                       |
//       | Launch() -------------------------------->| os/exec.Start
//       | registry.Set       |                       |
//       | go drive() ------->|                       |
//       |                    |<------ frames --------| stdout decoder
//       |                    |<------ exit ----------| Wait()
//       |<-- registry.Update-|                       |
//
// Invariants:
//   - Records move forward only: COMPLETE and FAILED accept nothing else.
//   - Events of one job are applied in emission order, one at a time.
//   - Jobs never share a goroutine or a registry key.
//   - A worker that ends without a terminal frame fails the job.
//
// StatusQuery is the read side. It never blocks on a worker.
package service
