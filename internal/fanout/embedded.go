package fanout

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedNATS runs a NATS server inside the relay process, for
// single-node deployments that still want the NATS code path.
type EmbeddedNATS struct {
	server *server.Server
}

// StartEmbeddedNATS starts a server on host:port. Port -1 picks a random
// free port.
func StartEmbeddedNATS(host string, port int) (*EmbeddedNATS, error) {
	ns, err := server.NewServer(&server.Options{
		ServerName: "chatrelay-fanout",
		Host:       host,
		Port:       port,
		NoLog:      true,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready within timeout")
	}
	return &EmbeddedNATS{server: ns}, nil
}

// ClientURL returns the url clients connect to.
func (e *EmbeddedNATS) ClientURL() string {
	return e.server.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (e *EmbeddedNATS) Shutdown() {
	e.server.Shutdown()
	e.server.WaitForShutdown()
}
