// Package ipc is the file-based command and status channel between the
// audio core daemon and its front-end.
package ipc

import (
	"os"
	"path/filepath"
	"strings"
)

// Command represents user commands from the front-end to the daemon. A
// command may carry one argument separated by whitespace (e.g. the play
// URL or a seek fraction).
type Command string

const (
	CmdRecordMic    Command = "record-mic"    // Start a microphone capture session
	CmdRecordSystem Command = "record-system" // Start a system-audio capture session
	CmdStop         Command = "stop"          // Stop the active capture, delivering a clip
	CmdCancel       Command = "cancel"        // Cancel the active capture, discarding audio
	CmdPlay         Command = "play"          // play <url>: assign a playback source
	CmdPause        Command = "pause"         // Pause playback
	CmdResume       Command = "resume"        // Resume playback
	CmdSeek         Command = "seek"          // seek <fraction 0..1>
	CmdVolume       Command = "volume"        // volume <0..1>
	CmdLoop         Command = "loop"          // Toggle loop mode
	CmdClear        Command = "clear"         // Clear the playback source
	CmdQuit         Command = "quit"          // Shutdown daemon
)

// Request is one parsed command with its optional argument.
type Request struct {
	Command Command
	Arg     string
}

// CommandPath returns the watched command file under the cache dir.
func CommandPath(cacheDir string) string {
	return filepath.Join(cacheDir, "cmd.txt")
}

// WriteCommand writes a command (plus optional argument) for the daemon.
func WriteCommand(cacheDir string, cmd Command, arg string) error {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return err
	}
	line := string(cmd)
	if arg != "" {
		line += " " + arg
	}
	return os.WriteFile(CommandPath(cacheDir), []byte(line), 0644)
}

// ReadCommand reads and clears the pending command. Returns a nil Request
// when no valid command is pending.
func ReadCommand(cacheDir string) (*Request, error) {
	path := CommandPath(cacheDir)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	// Clear the file immediately to prevent re-execution.
	if err := os.WriteFile(path, []byte(""), 0644); err != nil {
		return nil, err
	}

	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return nil, nil
	}

	cmd := Command(fields[0])
	switch cmd {
	case CmdRecordMic, CmdRecordSystem, CmdStop, CmdCancel,
		CmdPlay, CmdPause, CmdResume, CmdSeek, CmdVolume, CmdLoop, CmdClear, CmdQuit:
	default:
		// Unknown command, ignore it.
		return nil, nil
	}

	req := &Request{Command: cmd}
	if len(fields) > 1 {
		req.Arg = fields[1]
	}
	return req, nil
}
