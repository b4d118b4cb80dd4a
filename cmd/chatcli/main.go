// chatcli is a minimal line-oriented surface over the chat core, useful
// for exercising a conversation against a running backend:
//
//	chatcli -user u123 -token <jwt>
//	> open coach c42 svc-7
//	> send see you at the field
//	> read
//	> close
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/arenabook/chatcore/internal/app"
	"github.com/arenabook/chatcore/internal/chat"
	"github.com/arenabook/chatcore/internal/msgstore"
)

func main() {
	userID := flag.String("user", "", "authenticated user id")
	credential := flag.String("token", "", "backend credential")
	configPath := flag.String("config", "", "config file path")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: chatcli -user <id> [-token <jwt>] [-config <path>]")
		os.Exit(2)
	}

	var client *chat.Client
	fxApp := fx.New(
		app.Module(app.Params{
			UserID:     *userID,
			Credential: *credential,
			ConfigPath: *configPath,
		}),
		fx.Populate(&client),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = fxApp.Stop(stopCtx)
	}()

	repl(client)
}

func repl(client *chat.Client) {
	var session *chat.Session
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			fmt.Print("> ")
			continue
		}

		switch fields[0] {
		case "open":
			if len(fields) != 4 {
				fmt.Println("usage: open <counterparty-kind> <counterparty-id> <context-id>")
				break
			}
			if session != nil {
				session.Close()
			}
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			s, err := client.Open(ctx, fields[1], fields[2], fields[3])
			cancel()
			if err != nil {
				fmt.Println("open failed:", err)
				break
			}
			session = s
			for _, m := range s.Messages() {
				printEnvelope(client.UserID(), m)
			}
		case "send":
			if session == nil {
				fmt.Println("no open conversation")
				break
			}
			content := strings.Join(fields[1:], " ")
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			localID, err := session.Send(ctx, content)
			cancel()
			if err != nil {
				fmt.Println("send failed:", err)
				break
			}
			fmt.Println("queued", localID)
		case "read":
			if session == nil {
				fmt.Println("no open conversation")
				break
			}
			session.MarkVisible(context.Background())
			for _, m := range session.Messages() {
				printEnvelope(client.UserID(), m)
			}
			if typers := session.RemoteTypers(); len(typers) > 0 {
				fmt.Println("typing:", strings.Join(typers, ", "))
			}
		case "status":
			fmt.Println("connection:", client.ConnectionState())
		case "close":
			if session != nil {
				session.Close()
				session = nil
			}
		case "quit", "exit":
			if session != nil {
				session.Close()
			}
			return
		default:
			fmt.Println("commands: open, send, read, status, close, quit")
		}
		fmt.Print("> ")
	}
}

func printEnvelope(userID string, m msgstore.Envelope) {
	who := m.Sender
	if m.Sender == userID {
		who = "me"
	}
	marker := ""
	switch m.Delivery {
	case "pending":
		marker = " …"
	case "failed":
		marker = " ✗"
	}
	fmt.Printf("[%s] %s: %s%s\n",
		time.UnixMilli(m.SentAt).Format("15:04"), who, m.Content, marker)
}
