// hostsim is a stand-in game host for exercising a running relay: it opens a
// session, breaks and places blocks for a few players and asks for their
// progress now and then.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"badgeup.io/relay/internal/protocol"
)

var blocks = []string{"minecraft:stone", "minecraft:dirt", "minecraft:oak_log", "minecraft:sand"}

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8090/v1/ws", "relay ws url")
		name     = flag.String("name", "hostsim", "host name")
		players  = flag.Int("players", 3, "simulated players")
		interval = flag.Duration("interval", time.Second, "time between block changes")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[hostsim] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		HostName:        *name,
		EntityTypes:     []string{"minecraft:sheep", "minecraft:pig", "minecraft:cow"},
		DyeColors:       []string{"minecraft:red", "minecraft:blue", "minecraft:white"},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	ids := make([]string, *players)
	for i := range ids {
		ids[i] = uuid.NewString()
	}

	// gorilla conns allow one concurrent writer.
	var wmu sync.Mutex
	write := func(v any) {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.WriteJSON(v)
	}

	go readLoop(conn, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	tick := time.NewTicker(*interval)
	defer tick.Stop()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	for n := 1; ; n++ {
		select {
		case <-stop:
			return
		case <-tick.C:
		}
		player := ids[r.Intn(len(ids))]
		write(blockChange(r, player))
		if n%10 == 0 {
			write(protocol.ProgressReqMsg{
				Type:            protocol.TypeProgressReq,
				ProtocolVersion: protocol.Version,
				ReqID:           fmt.Sprintf("P_%d", n),
				PlayerID:        player,
			})
		}
	}
}

func blockChange(r *rand.Rand, player string) protocol.BlockChangeMsg {
	snap := func(t string) json.RawMessage {
		b, _ := json.Marshal(map[string]any{"type": t, "pos": [3]int{r.Intn(64), 64, r.Intn(64)}})
		return b
	}
	m := protocol.BlockChangeMsg{ProtocolVersion: protocol.Version, PlayerID: player}
	block := blocks[r.Intn(len(blocks))]
	if r.Intn(2) == 0 {
		m.Type = protocol.TypeBlockBreak
		m.Transactions = []protocol.BlockTransaction{{Original: snap(block), Final: snap("minecraft:air")}}
		if r.Intn(3) > 0 {
			m.MainHand = json.RawMessage(`{"type":"minecraft:iron_pickaxe"}`)
		}
	} else {
		m.Type = protocol.TypeBlockPlace
		m.Transactions = []protocol.BlockTransaction{{Original: snap("minecraft:air"), Final: snap(block)}}
	}
	return m
}

func readLoop(conn *websocket.Conn, logger *log.Logger) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("read: %v", err)
			os.Exit(0)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err == nil {
				logger.Printf("WELCOME session_id=%s", w.SessionID)
			}
		case protocol.TypeSpawnEntity:
			var s protocol.SpawnEntityMsg
			if err := json.Unmarshal(msg, &s); err == nil {
				logger.Printf("SPAWN %s for %s at %v color=%q", s.EntityType, s.PlayerID, s.Position, s.Color)
			}
		case protocol.TypeProgress:
			var p protocol.ProgressMsg
			if err := json.Unmarshal(msg, &p); err == nil {
				logger.Printf("PROGRESS %s: %d entries", p.ReqID, len(p.Entries))
				for _, e := range p.Entries {
					logger.Printf("  %-11s %5.1f%% %s", e.Status, e.PercentComplete*100, e.Name)
				}
			}
		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err == nil {
				logger.Printf("ERROR req=%s code=%s %s", e.ReqID, e.Code, e.Message)
			}
		}
	}
}
