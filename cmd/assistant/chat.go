package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/stream"
)

func buildChatCmd() *cobra.Command {
	var (
		addr     string
		token    string
		threadID string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a running assistant over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("ASSISTANT_TOKEN")
			}
			if threadID == "" {
				threadID = "cli-" + uuid.NewString()
			}
			return runChat(addr, token, threadID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "ws://localhost:8080/chat/ws", "WebSocket endpoint")
	cmd.Flags().StringVar(&token, "token", "", "Session token (defaults to $ASSISTANT_TOKEN)")
	cmd.Flags().StringVar(&threadID, "thread", "", "Thread to continue (a new one by default)")
	return cmd
}

func runChat(addr, token, threadID string, in io.Reader, out io.Writer) error {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(addr, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	fmt.Fprintf(out, "Connected to %s (thread %s)\n", addr, threadID)
	fmt.Fprintln(out, "Type a message and press Enter to send. Commands: /quit to exit")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/quit" {
			fmt.Fprintln(out, "Bye!")
			return conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		}

		if err := conn.WriteJSON(domain.ChatRequest{Message: input, ThreadID: threadID}); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		if err := printTurn(conn, out); err != nil {
			return err
		}
	}
}

// printTurn prints the messages of one turn until its done message.
func printTurn(conn *websocket.Conn, out io.Writer) error {
	var traceID string
	for {
		var msg stream.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		switch msg.Type {
		case stream.TypeTraceID:
			_ = json.Unmarshal(msg.Data, &traceID)
		case stream.TypeText:
			var text string
			if err := json.Unmarshal(msg.Data, &text); err == nil {
				fmt.Fprint(out, text)
			}
		case stream.TypeTool:
			var tool stream.ToolFrame
			if err := json.Unmarshal(msg.Data, &tool); err == nil && tool.ToolCallEvent != nil {
				if tool.Status != "" {
					fmt.Fprintf(out, "\n[tool %s: %s]\n", tool.Name, tool.Status)
				} else {
					fmt.Fprintf(out, "\n[tool %s]\n", tool.Name)
				}
			}
		case stream.TypeError:
			var e stream.ErrorFrame
			_ = json.Unmarshal(msg.Data, &e)
			fmt.Fprintf(out, "\n[error: %s]", e.Error)
		case stream.TypeDone:
			if traceID != "" {
				fmt.Fprintf(out, "\n(trace %s)\n", traceID)
			} else {
				fmt.Fprintln(out)
			}
			return nil
		}
	}
}
