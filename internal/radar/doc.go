// Package radar holds the domain model shared by the bridge's decode and
// dispatch layers.
//
// Responsibilities: canonical target and point types, the request/response
// shapes carried by the command path, and the error kinds every layer
// reports. Subpackages own behaviour:
//
//   - variant: per-protocol batch decoding into canonical targets
//   - registry: sensor and adapter slot configuration
//   - pointcloud: per-slot point set assembly
//   - correlator: matching device responses to outstanding requests
//   - dispatch: routing telemetry and commands between the above
//
// Dependency rule: this package imports nothing from its subpackages.
package radar
