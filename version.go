package killbase

// Version is stamped by the release pipeline via -ldflags.
var Version = "dev"
