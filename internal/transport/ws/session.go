package ws

import (
	"context"
	"encoding/json"
	"sync"

	"badgeup.io/relay/internal/host"
	"badgeup.io/relay/internal/protocol"
)

const outQueue = 64

// session is one connected host. It implements host.World over the wire.
type session struct {
	id       string
	hostName string
	ctx      context.Context

	entityTypes map[string]bool
	dyeColors   map[string]bool

	out  chan []byte
	work sync.WaitGroup
}

var _ host.World = (*session)(nil)

func newSession(id string, hello protocol.HelloMsg) *session {
	s := &session{
		id:          id,
		hostName:    hello.HostName,
		ctx:         context.Background(),
		entityTypes: make(map[string]bool, len(hello.EntityTypes)),
		dyeColors:   make(map[string]bool, len(hello.DyeColors)),
		out:         make(chan []byte, outQueue),
	}
	for _, t := range hello.EntityTypes {
		s.entityTypes[t] = true
	}
	for _, c := range hello.DyeColors {
		s.dyeColors[c] = true
	}
	return s
}

func (s *session) LookupEntityType(id string) bool { return s.entityTypes[id] }
func (s *session) LookupDyeColor(id string) bool   { return s.dyeColors[id] }

func (s *session) SpawnEntity(ctx context.Context, sp host.Spawn) error {
	msg := protocol.SpawnEntityMsg{
		Type:            protocol.TypeSpawnEntity,
		ProtocolVersion: protocol.Version,
		PlayerID:        sp.Player.String(),
		EntityType:      sp.EntityType,
		Position:        sp.Position.Array(),
		Color:           sp.Color,
		DisplayName:     sp.DisplayName,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return protocol.Wrap(protocol.ErrInternal, "", err)
	}
	if err := ctx.Err(); err != nil {
		return protocol.Wrap(protocol.ErrTimeout, "", err)
	}
	select {
	case s.out <- b:
		return nil
	default:
		return protocol.Errorf(protocol.ErrRemoteFailure, "", "host %s is not reading; spawn dropped", s.hostName)
	}
}

// send queues v, dropping it if the host is not reading.
func (s *session) send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case s.out <- b:
	case <-s.ctx.Done():
	default:
	}
}

func (s *session) sendError(reqID string, err error) {
	code := protocol.WireCode(err)
	s.send(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Code:            code,
		Message:         err.Error(),
	})
}
