package types

// Version is the canonical project version.
// The CLI, relay and wire-facing records share this version.
const Version = "0.3.0"

// ContractVersion is stamped on published turn events and transcript records.
// It moves in lockstep with Version.
const ContractVersion = Version
