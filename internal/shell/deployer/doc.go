// Package deployer orchestrates local application deployments.
//
// A deployment is one or more child processes launched from a single
// artifact. The deployer owns the registry of live deployments: it launches
// instances, watches their processes, probes their endpoints, and derives
// the aggregate state callers observe through Status. Deploy and Undeploy
// return as soon as processes are launched or signaled; convergence to
// deployed, failed, or unknown is observed by polling Status with a
// caller-chosen timeout. The deployer itself enforces none.
package deployer
