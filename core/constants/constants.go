package constants

// Version is the agent release, overridden at build time with -ldflags "-X".
var Version = "v0.1.0"
