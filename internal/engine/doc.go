// Package engine admits render jobs and runs them one at a time.
//
// A Scheduler owns a bounded FIFO queue and a single worker goroutine.
// Jobs are submitted either synchronously (RunSync waits up to a timeout and
// cancels the job when it gives up) or asynchronously (RunAsync returns the
// job id at once and keeps the Handle in a TTL cache until it is collected
// or expires). Cancellation is cooperative: a running job observes its
// context at the checkpoints between pipeline stages.
//
// Every state change is journalled to an optional Recorder and published on
// the EventBroker in order.
package engine
