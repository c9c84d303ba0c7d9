package utils

// Version of the control plane, shared between the CLI and the daemon.
const Version = "0.1.0"
