package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type registerFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type sendFrame struct {
	Type       string `json:"type"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type stats struct {
	sent     atomic.Int64
	received atomic.Int64
	failed   atomic.Int64
}

func main() {
	wsURL := flag.String("url", "ws://localhost:8080/ws", "websocket endpoint")
	pairs := flag.Int("pairs", 500, "number of user pairs")
	msgCount := flag.Int("messages", 20, "messages per user")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	log.Info().Int("users", *pairs*2).Int("messages", *msgCount).Msg("starting stress test")

	var (
		wg    sync.WaitGroup
		st    stats
		start = time.Now()
	)

	// User 0a talks to user 0b, 1a to 1b, and so on.
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runPair(log, *wsURL, *msgCount, &st)
		}()
	}

	wg.Wait()
	log.Info().
		Int64("sent", st.sent.Load()).
		Int64("received", st.received.Load()).
		Int64("failed", st.failed.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("load test complete")
}

func runPair(log zerolog.Logger, wsURL string, msgCount int, st *stats) {
	userA := "lt_" + uuid.NewString()
	userB := "lt_" + uuid.NewString()

	var wg sync.WaitGroup
	wg.Add(2)
	go spamChat(log, &wg, wsURL, userA, userB, msgCount, st)
	go spamChat(log, &wg, wsURL, userB, userA, msgCount, st)
	wg.Wait()
}

func spamChat(log zerolog.Logger, wg *sync.WaitGroup, wsURL, self, peer string, msgCount int, st *stats) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Error().Err(err).Str("user", self).Msg("ws connect failed")
		st.failed.Add(1)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(registerFrame{Type: "registerUser", UserID: self}); err != nil {
		st.failed.Add(1)
		return
	}

	// Count what the peer pushes to us until we go quiet.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var head struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(raw, &head) == nil && head.Type == "receiveMessage" {
				st.received.Add(1)
			}
		}
	}()

	// Give the peer a moment to register so most sends go direct.
	time.Sleep(200 * time.Millisecond)

	for i := 0; i < msgCount; i++ {
		err := conn.WriteJSON(sendFrame{
			Type:       "sendMessage",
			SenderID:   self,
			ReceiverID: peer,
			Content:    fmt.Sprintf("LoadTest Msg %d from %s", i, self),
		})
		if err != nil {
			log.Error().Err(err).Str("user", self).Msg("send failed")
			st.failed.Add(1)
			break
		}
		st.sent.Add(1)
		// Simulate a real network instead of saturating localhost.
		time.Sleep(10 * time.Millisecond)
	}

	<-readDone
	log.Debug().Str("user", self).Int("messages", msgCount).Msg("finished")
}
