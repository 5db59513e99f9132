package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/room4-2/OrderDesk/auth"
	"github.com/room4-2/OrderDesk/messages"
)

type clientMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type serverMessage struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "WebSocket server URL")
	token := flag.String("token", os.Getenv("ORDERDESK_TOKEN"), "Access token")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "Signing secret used to mint a token when -token is empty")
	tenant := flag.String("tenant", "demo", "Tenant for a minted token")
	orderSession := flag.String("order-session", "", "Order session to resume")
	stream := flag.Bool("stream", false, "Stream replies without tools")
	flag.Parse()

	if *token == "" && *secret != "" {
		minted, err := auth.NewAuthenticator(*secret, "").Issue(auth.Identity{UserID: "chat-cli", TenantID: *tenant}, time.Hour)
		if err != nil {
			log.Fatalf("Failed to mint token: %v", err)
		}
		*token = minted
	}

	conn, resp, err := websocket.DefaultDialer.Dial(*serverURL, map[string][]string{"Authorization": {"Bearer " + *token}})
	if err != nil {
		if resp != nil {
			log.Fatalf("Failed to connect: %v (HTTP %d)", err, resp.StatusCode)
		}
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	started := make(chan string, 1)
	replied := make(chan struct{}, 1)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Fatalf("Connection closed: %v", err)
			}
			var msg serverMessage
			if err := sonic.Unmarshal(data, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case messages.TypeChatStarted:
				id, _ := msg.Payload["orderSessionId"].(string)
				started <- id
			case messages.TypeChatDelta:
				fmt.Print(msg.Payload["text"])
			case messages.TypeChatResponse:
				if *stream {
					fmt.Println()
				} else {
					fmt.Printf("assistant: %v\n", msg.Payload["text"])
				}
				if cart, ok := msg.Payload["cart"].(map[string]any); ok {
					fmt.Printf("  cart total: %v %v\n", cart["total"], cart["currency"])
				}
				if order, ok := msg.Payload["order"].(map[string]any); ok {
					fmt.Printf("  order placed: %v\n", order["orderNumber"])
				}
				replied <- struct{}{}
			case messages.TypeError:
				fmt.Printf("error: %v %v\n", msg.Payload["code"], msg.Payload["message"])
				replied <- struct{}{}
			}
		}
	}()

	send(conn, messages.TypeChatStart, messages.ChatStartPayload{OrderSessionID: *orderSession})
	sessionID := <-started
	log.Printf("Order session %s, type your order (ctrl-d to quit)", sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		send(conn, messages.TypeChatMessage, messages.ChatMessagePayload{OrderSessionID: sessionID, Text: text, Stream: *stream})
		<-replied
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
