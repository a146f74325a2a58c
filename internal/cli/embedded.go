package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// embeddedReadyTimeout bounds the wait for the in-process server.
const embeddedReadyTimeout = 10 * time.Second

// startEmbeddedNATS runs an in-process JetStream server on a random local
// port.
//
// Parameters:
//   - storeDir: JetStream data directory; a temporary one when empty
//
// Returns:
//   - string: Client URL of the server
//   - func() error: Shuts the server down and removes a temporary store
//   - error: Server creation or readiness failure
func startEmbeddedNATS(storeDir string) (string, func() error, error) {
	temp := storeDir == ""
	if temp {
		dir, err := os.MkdirTemp("", "peerpair-nats-")
		if err != nil {
			return "", nil, fmt.Errorf("failed to create JetStream store: %w", err)
		}
		storeDir = dir
	} else if err := os.MkdirAll(storeDir, 0o750); err != nil {
		return "", nil, fmt.Errorf("failed to create JetStream store: %w", err)
	}

	removeStore := func() error {
		if temp {
			return os.RemoveAll(storeDir)
		}
		return nil
	}

	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  storeDir,
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		return "", nil, errors.Join(fmt.Errorf("failed to create embedded NATS server: %w", err), removeStore())
	}

	go ns.Start()

	if !ns.ReadyForConnections(embeddedReadyTimeout) {
		ns.Shutdown()
		return "", nil, errors.Join(errors.New("embedded NATS server not ready within timeout"), removeStore())
	}

	shutdown := func() error {
		ns.Shutdown()
		ns.WaitForShutdown()

		return removeStore()
	}

	return ns.ClientURL(), shutdown, nil
}
