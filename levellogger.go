package killbase

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

var (
	debugOut io.Writer = os.Stdout
	errorOut io.Writer = os.Stderr
)

// LogOut implements zerolog.LevelWriter, splitting warnings and errors onto
// stderr so shell pipelines can separate the feed from its noise.
type LogOut struct{}

// Write should not be called; zerolog prefers WriteLevel.
func (l LogOut) Write(p []byte) (n int, err error) {
	return debugOut.Write(p)
}

func (l LogOut) WriteLevel(level zerolog.Level, p []byte) (n int, err error) {
	if level < zerolog.WarnLevel {
		return debugOut.Write(p)
	}

	return errorOut.Write(p)
}
