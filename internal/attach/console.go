package attach

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SendMasterFD sends an already-open pty master over a Console
// RemoteSocket via SCM_RIGHTS, adapted from runStartCmdConsole
// (runtime.go), which hands a pty master fd to a peer with
// unix.Sendmsg/unix.UnixRights after starting the child under
// creack/pty.
//
// Here the pty is opened by runtimeproc.Process.Spawn (Terminal: true)
// rather than around a dialed socket, and conmon-v3 is itself the
// attach socket's listener: SendMasterFD is called once a
// Console-typed RemoteSocket has already been accepted, handing over
// the master runtimeproc kept.
func SendMasterFD(client *RemoteSocket, master *os.File) error {
	if client.Type() != Console {
		return fmt.Errorf("console fd passing requires a Console attach client")
	}

	oob := unix.UnixRights(int(master.Fd()))
	if err := unix.Sendmsg(client.FD(), []byte("terminal"), oob, nil, 0); err != nil {
		return fmt.Errorf("failed to send console fd to attach client: %w", err)
	}
	return nil
}
