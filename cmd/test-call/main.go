package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"yuzu/callagent/internal/bridge"
)

// frameBytes is 20ms of mu-law 8 kHz audio.
const frameBytes = 160

func main() {
	url := flag.String("url", "ws://localhost:8080/media", "Media websocket URL")
	agent := flag.String("agent", "", "Agent id sent as a custom parameter")
	audio := flag.String("audio", "", "Raw mu-law 8 kHz file to stream (silence if empty)")
	silence := flag.Duration("silence", 5*time.Second, "Silence to stream after the audio")
	timeout := flag.Duration("timeout", 60*time.Second, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	conn, _, err := ws.Dial(ctx, *url, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", *url, err)
	}
	defer conn.Close(ws.StatusNormalClosure, "done")
	conn.SetReadLimit(1 << 20)

	callSid := "CA" + uuid.NewString()
	streamSid := "MZ" + uuid.NewString()
	fmt.Printf("=== Test Call ===\n")
	fmt.Printf("Call: %s\nStream: %s\n\n", callSid, streamSid)

	// Receiver
	done := make(chan struct{})
	go func() {
		defer close(done)
		var bytesIn int
		for {
			var msg bridge.Outbound
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				if ctx.Err() == nil {
					fmt.Printf("\n[ws] closed: %v (received %d audio bytes)\n", ws.CloseStatus(err), bytesIn)
				}
				return
			}
			printOutbound(msg, &bytesIn)
		}
	}()

	send := func(m bridge.Inbound) {
		if err := wsjson.Write(ctx, conn, m); err != nil {
			log.Fatalf("send %s: %v", m.Event, err)
		}
	}

	fmt.Println("[1] Sending connected + start...")
	send(bridge.Inbound{Event: bridge.EventConnected})
	params := map[string]string{}
	if *agent != "" {
		params["agentId"] = *agent
	}
	send(bridge.Inbound{
		Event:     bridge.EventStart,
		StreamSid: streamSid,
		Start: &bridge.StartInfo{
			CallSid:          callSid,
			StreamSid:        streamSid,
			Tracks:           []string{"inbound"},
			MediaFormat:      &bridge.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
			CustomParameters: params,
		},
	})

	payload, err := loadAudio(*audio)
	if err != nil {
		log.Fatalf("read audio: %v", err)
	}
	// mu-law silence
	quiet := make([]byte, int(*silence/(20*time.Millisecond))*frameBytes)
	for i := range quiet {
		quiet[i] = 0xFF
	}
	payload = append(payload, quiet...)

	fmt.Printf("[2] Streaming %s of audio...\n", time.Duration(len(payload)/frameBytes)*20*time.Millisecond)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	seq := 0
	for off := 0; off < len(payload); off += frameBytes {
		select {
		case <-tick.C:
		case <-ctx.Done():
			fmt.Println("[*] Interrupted")
			return
		case <-done:
			fmt.Println("[*] Server ended the call")
			return
		}
		end := min(off+frameBytes, len(payload))
		seq++
		send(bridge.Inbound{
			Event:     bridge.EventMedia,
			StreamSid: streamSid,
			Media: &bridge.MediaInfo{
				Track:     "inbound",
				Chunk:     fmt.Sprint(seq),
				Timestamp: fmt.Sprint(seq * 20),
				Payload:   base64.StdEncoding.EncodeToString(payload[off:end]),
			},
		})
	}

	fmt.Println("[3] Sending stop...")
	send(bridge.Inbound{Event: bridge.EventStop, StreamSid: streamSid, Stop: &bridge.StopInfo{CallSid: callSid}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
	}
}

func loadAudio(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

func printOutbound(msg bridge.Outbound, bytesIn *int) {
	ts := time.Now().Format("15:04:05.000")
	switch msg.Event {
	case bridge.EventMedia:
		if msg.Media == nil {
			return
		}
		b, _ := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if *bytesIn == 0 {
			fmt.Printf("[%s] <- first audio frame\n", ts)
		}
		*bytesIn += len(b)
	case bridge.EventClear:
		fmt.Printf("[%s] <- clear (after %d audio bytes)\n", ts, *bytesIn)
	default:
		fmt.Printf("[%s] <- %s\n", ts, msg.Event)
	}
}
