package channel

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Kind identifies one of the five logical channels.
type Kind int

const (
	// TriggerChannel carries one-way trigger messages, master to slave.
	TriggerChannel Kind = iota
	// CommandChannel carries bidirectional request/reply control traffic.
	CommandChannel
	// HeartbeatChannel carries periodic liveness messages, slave to master.
	HeartbeatChannel
	// FileChannel carries acquisition file parts, slave to master.
	FileChannel
	// StatusChannel carries session status snapshots, slave to master. It
	// doubles as the sync channel when the correlation step needs
	// cross-node coordination.
	StatusChannel
)

func (k Kind) String() string {
	switch k {
	case TriggerChannel:
		return "trigger"
	case CommandChannel:
		return "command"
	case HeartbeatChannel:
		return "heartbeat"
	case FileChannel:
		return "file"
	case StatusChannel:
		return "status"
	default:
		return "unknown"
	}
}

// Role identifies which end of the protocol a node plays.
type Role int

const (
	MasterRole Role = iota
	SlaveRole
)

func (r Role) String() string {
	if r == MasterRole {
		return "master"
	}
	return "slave"
}

// Ports holds the five fixed port numbers of a node pair. A zero port is
// replaced by an ephemeral port at bind time; the bound port is then
// reported by the endpoint.
type Ports struct {
	Trigger   int
	Command   int
	Heartbeat int
	File      int
	Status    int
}

// DefaultPorts returns the conventional port block used when nothing is
// configured.
func DefaultPorts() Ports {
	return Ports{Trigger: 5551, Command: 5552, Heartbeat: 5553, File: 5554, Status: 5555}
}

func (p Ports) port(kind Kind) int {
	switch kind {
	case TriggerChannel:
		return p.Trigger
	case CommandChannel:
		return p.Command
	case HeartbeatChannel:
		return p.Heartbeat
	case FileChannel:
		return p.File
	case StatusChannel:
		return p.Status
	default:
		return 0
	}
}

// Resolver maps (role, channel kind) to the correct bind or connect
// address. Each node binds the channels it receives on and connects to the
// ones it sends on: the slave binds trigger and command, the master binds
// heartbeat, file and status.
type Resolver struct {
	role     Role
	peerHost string
	ports    Ports
}

// NewResolver creates a resolver for the given role, peer host and port
// block.
func NewResolver(role Role, peerHost string, ports Ports) *Resolver {
	return &Resolver{role: role, peerHost: peerHost, ports: ports}
}

// binds reports whether this role is the binding end of the channel kind.
func (r *Resolver) binds(kind Kind) bool {
	switch kind {
	case TriggerChannel, CommandChannel:
		return r.role == SlaveRole
	case HeartbeatChannel, FileChannel, StatusChannel:
		return r.role == MasterRole
	default:
		return false
	}
}

// BindAddr returns the local listen address for kind, or an error if this
// role is the connecting end of the channel.
func (r *Resolver) BindAddr(kind Kind) (string, error) {
	if !r.binds(kind) {
		return "", fmt.Errorf("%s role does not bind the %s channel", r.role, kind)
	}
	return net.JoinHostPort("", strconv.Itoa(r.ports.port(kind))), nil
}

// ConnectAddr returns the remote address for kind, or an error if this
// role is the binding end of the channel.
func (r *Resolver) ConnectAddr(kind Kind) (string, error) {
	if r.binds(kind) {
		return "", fmt.Errorf("%s role binds the %s channel, nothing to connect to", r.role, kind)
	}
	if r.peerHost == "" {
		return "", errors.New("peer host is empty")
	}
	return net.JoinHostPort(r.peerHost, strconv.Itoa(r.ports.port(kind))), nil
}
