package exact

// Version identifies the exact build driver itself. It is overridden at
// release time via -ldflags.
var Version = "HEAD"
