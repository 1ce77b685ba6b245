package types

// Version is the canonical kernel version. The CLI, checkpoint format,
// and event log all share this version per the lockstep versioning policy.
const Version = "0.1.0"
