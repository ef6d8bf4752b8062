// Package payload hashes queue payloads and checks them against task schemas.
//
// Hash produces the stable digest used for duplicate suppression. Schema wraps
// a compiled CUE expression; Validate reports every violation as an Issue and
// renders the set as an OperationOutcome document for API callers.
package payload
