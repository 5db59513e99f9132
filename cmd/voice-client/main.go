package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/room4-2/OrderDesk/auth"
	"github.com/room4-2/OrderDesk/messages"
)

type clientMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type serverMessage struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId,omitempty"`
	Payload   map[string]any `json:"payload"`
}

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "WebSocket server URL")
	audioFile := flag.String("file", "examples/user.wav", "Audio file to send")
	format := flag.String("format", "wav", "Container format sent with voice.start")
	mode := flag.String("mode", "voice", "voice (buffered) or realtime (streamed PCM)")
	token := flag.String("token", os.Getenv("ORDERDESK_TOKEN"), "Access token")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "Signing secret used to mint a token when -token is empty")
	tenant := flag.String("tenant", "demo", "Tenant for a minted token")
	orderSession := flag.String("order-session", "", "Order session to continue")
	flag.Parse()

	if *token == "" && *secret != "" {
		minted, err := auth.NewAuthenticator(*secret, "").Issue(auth.Identity{UserID: "voice-client", TenantID: *tenant}, time.Hour)
		if err != nil {
			log.Fatalf("Failed to mint token: %v", err)
		}
		*token = minted
	}

	header := map[string][]string{}
	if *token != "" {
		header["Authorization"] = []string{"Bearer " + *token}
	}

	log.Printf("Connecting to %s...", *serverURL)
	conn, resp, err := websocket.DefaultDialer.Dial(*serverURL, header)
	if err != nil {
		if resp != nil {
			log.Fatalf("Failed to connect: %v (HTTP %d)", err, resp.StatusCode)
		}
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Println("Connected")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	finished := make(chan struct{}, 1)

	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}

			var msg serverMessage
			if err := sonic.Unmarshal(data, &msg); err != nil {
				log.Println("Parse error:", err)
				continue
			}

			switch msg.Type {
			case messages.TypeVoicePartial, messages.TypeRealtimePartial:
				fmt.Printf("... %v\n", msg.Payload["text"])
			case messages.TypeVoiceTranscript, messages.TypeRealtimeFinal:
				fmt.Printf("you: %v\n", msg.Payload["text"])
			case messages.TypeVoiceResponse, messages.TypeRealtimeResponse:
				fmt.Printf("assistant: %v\n", msg.Payload["text"])
				if cart, ok := msg.Payload["cart"].(map[string]any); ok {
					fmt.Printf("cart total: %v %v\n", cart["total"], cart["currency"])
				}
				finished <- struct{}{}
			case messages.TypeStatus:
				log.Printf("Status: %v %v", msg.Payload["status"], msg.Payload["message"])
			case messages.TypeError:
				log.Printf("Error: %v %v", msg.Payload["code"], msg.Payload["message"])
			}
		}
	}()

	audioData, err := loadAudioFile(*audioFile, *mode == "realtime")
	if err != nil {
		log.Fatalf("Failed to load audio: %v", err)
	}

	sessionID := uuid.NewString()
	prefix := "voice."
	if *mode == "realtime" {
		prefix = "realtime."
		send(conn, messages.TypeRealtimeStart, messages.RealtimeStartPayload{SessionID: sessionID, OrderSessionID: *orderSession, SampleRate: 16000})
	} else {
		send(conn, messages.TypeVoiceStart, messages.VoiceStartPayload{SessionID: sessionID, OrderSessionID: *orderSession, Format: *format})
	}

	// 100ms at 16kHz 16-bit mono
	chunkSize := 3200
	total := (len(audioData) + chunkSize - 1) / chunkSize
	for i := 0; i < len(audioData); i += chunkSize {
		end := min(i+chunkSize, len(audioData))
		send(conn, prefix+"chunk", messages.ChunkPayload{
			SessionID: sessionID,
			Data:      base64.StdEncoding.EncodeToString(audioData[i:end]),
		})
		log.Printf("Sent chunk %d/%d (%d bytes)", i/chunkSize+1, total, end-i)
		time.Sleep(100 * time.Millisecond)
	}
	send(conn, prefix+"stop", messages.SessionPayload{SessionID: sessionID})
	log.Println("Audio sent, waiting for response...")

	select {
	case <-finished:
	case <-done:
		log.Println("Connection closed")
	case <-interrupt:
		log.Println("Interrupted, closing...")
	case <-time.After(30 * time.Second):
		log.Println("Timeout waiting for response")
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func send(conn *websocket.Conn, msgType string, payload any) {
	data, err := sonic.Marshal(clientMessage{Type: msgType, Payload: payload})
	if err != nil {
		log.Fatalf("Failed to encode %s: %v", msgType, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Fatalf("Send error: %v", err)
	}
}

// loadAudioFile reads the file. Realtime streams want raw PCM, so a WAV
// header is skipped there.
func loadAudioFile(path string, rawPCM bool) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if rawPCM && len(data) > 44 && string(data[0:4]) == "RIFF" {
		log.Println("Detected WAV file, skipping header")
		return data[44:], nil
	}
	return data, nil
}
