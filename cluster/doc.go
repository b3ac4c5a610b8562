// Package cluster tracks the worker pool and elects the scheduling leader.
//
// # Workers
//
// A [Worker] registers with a name, the queues and job keys it can run
// ([Capabilities]) and a parallelism cap. It heartbeats on a fixed
// interval. The SLA monitor marks a worker [StatusOffline] once it has
// been silent for a multiple of that interval and returns its running
// runs to pending. A worker in [StatusMaintenance] heartbeats but takes
// no new runs. CurrentJobs never exceeds MaxParallel; slots are reserved
// and released only inside atomic run ledger writes.
//
// # Leadership
//
// Only one scheduler node fires time-based schedules. [Elector] keeps a
// [Leadership] lease, which every store backend provides. For Kubernetes
// deployments the cluster/k8s sub-package uses a coordination Lease.
package cluster
