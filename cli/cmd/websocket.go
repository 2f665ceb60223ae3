package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/rvrun/rvrun/internal/types"
)

// wsMessage mirrors the server's messages with a raw payload so each type can
// decode its own shape
type wsMessage struct {
	Type    string          `json:"type"`
	Kind    string          `json:"kind,omitempty"`
	Error   string          `json:"error,omitempty"`
	Stderr  string          `json:"stderr,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func interpretWS(baseURL string, request *types.InterpretRequest, verbose bool) error {
	wsURL, err := convertToWebSocketURL(baseURL)
	if err != nil {
		return fmt.Errorf("failed to convert URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/api/v1/connect", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	defer conn.Close()

	if verbose {
		fmt.Printf("Connected to WebSocket: %s\n", wsURL+"/api/v1/connect")
	}

	if err := conn.WriteJSON(types.WebSocketMessage{Type: "init", Payload: request}); err != nil {
		return fmt.Errorf("failed to send interpret request: %w", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	messages := make(chan wsMessage, 8)
	go func() {
		defer close(messages)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, 4999) {
					fmt.Fprintf(os.Stderr, "WebSocket error: %v\n", err)
				}
				return
			}
			messages <- msg
		}
	}()

	bold := color.New(color.Bold)
	red := color.New(color.FgRed, color.Bold)

	for {
		select {
		case <-interrupt:
			// Closing the connection cancels the job on the server
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "interrupted"))
			return fmt.Errorf("interrupted")

		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			switch msg.Type {
			case "runtime":
				if verbose {
					var rt types.RuntimeInfo
					_ = json.Unmarshal(msg.Payload, &rt)
					fmt.Printf("Runtime: %s %s\n", rt.Name, rt.Version)
				}

			case "tokens":
				var tokens [][]string
				if err := json.Unmarshal(msg.Payload, &tokens); err != nil {
					return fmt.Errorf("failed to decode tokens: %w", err)
				}
				bold.Println("== Tokens ==")
				for _, token := range tokens {
					fmt.Printf("    %s\n", strings.Join(token, ", "))
				}

			case "ast", "output":
				var lines []string
				if err := json.Unmarshal(msg.Payload, &lines); err != nil {
					return fmt.Errorf("failed to decode %s: %w", msg.Type, err)
				}
				if msg.Type == "ast" {
					bold.Println("== AST ==")
				} else {
					bold.Println("== Output ==")
				}
				for _, line := range lines {
					fmt.Printf("    %s\n", line)
				}

			case "complete":
				if verbose {
					fmt.Println("Interpretation completed")
				}

			case "error":
				red.Printf("Error (%s): %s\n", msg.Kind, msg.Error)
				if msg.Stderr != "" {
					fmt.Fprint(os.Stderr, indentLines(msg.Stderr))
				}
				return fmt.Errorf("interpret error: %s", msg.Error)

			default:
				if verbose {
					fmt.Printf("Unknown message type: %s\n", msg.Type)
				}
			}
		}
	}
}

func convertToWebSocketURL(httpURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(httpURL, "/"))
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
	}

	return u.String(), nil
}
