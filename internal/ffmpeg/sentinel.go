package ffmpeg

import (
	"fmt"
	"os"
	"strings"
)

// SentinelSuffix marks an encode in flight. The sentinel sits next to the
// output and names the target, so a startup sweep can identify and remove
// half-written files after a crash.
const SentinelSuffix = ".encoding_state"

// SentinelPath returns the sentinel path for an encode output.
func SentinelPath(output string) string {
	return output + SentinelSuffix
}

// IsSentinel reports whether a filename is an encode sentinel.
func IsSentinel(name string) bool {
	return strings.HasSuffix(name, SentinelSuffix)
}

// TargetFromSentinel returns the output path a sentinel guards.
func TargetFromSentinel(sentinelPath string) string {
	return strings.TrimSuffix(sentinelPath, SentinelSuffix)
}

// WriteSentinel records that an encode of output has started.
func WriteSentinel(output string) error {
	if err := os.WriteFile(SentinelPath(output), []byte(output+"\n"), 0644); err != nil {
		return fmt.Errorf("writing encode sentinel: %w", err)
	}
	return nil
}

// ClearSentinel removes the sentinel after a completed encode. Missing
// sentinels are not an error.
func ClearSentinel(output string) error {
	err := os.Remove(SentinelPath(output))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing encode sentinel: %w", err)
	}
	return nil
}
