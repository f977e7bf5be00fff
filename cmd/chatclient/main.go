// chatclient is a terminal customer for the live-chat widget: it starts or
// resumes a conversation, prints the room, and sends stdin lines as messages.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/soletrade/livechat/internal/config"
	"github.com/soletrade/livechat/internal/livechat"
)

func main() {
	cfg := config.Load()

	userID := os.Getenv("CHAT_USER_ID")
	name := os.Getenv("CHAT_USER_NAME")
	if userID == "" || name == "" {
		log.Fatalf("CHAT_USER_ID and CHAT_USER_NAME are required")
	}

	identity := livechat.Identity{
		UserID: userID,
		Name:   name,
		Email:  os.Getenv("CHAT_USER_EMAIL"),
		Phone:  os.Getenv("CHAT_USER_PHONE"),
	}

	ended := make(chan string, 1)

	session, err := livechat.NewSession(identity, livechat.Options{
		Starter:        livechat.NewAPIStarter(cfg.APIBaseURL),
		Dialer:         livechat.WSDialer{URL: cfg.WSURL + "?role=customer&user_id=" + userID},
		TypingDebounce: cfg.TypingDebounce,
		OnMessage: func(m livechat.Message) {
			if m.Sender == livechat.SenderRemote {
				fmt.Printf("[%s] support: %s\n", m.DisplayTime(), m.Text)
			}
		},
		OnTyping: func(typing bool) {
			if typing {
				fmt.Println("support is typing...")
			}
		},
		OnEnded: func(reason string) {
			select {
			case ended <- reason:
			default:
			}
		},
	})
	if err != nil {
		log.Fatalf("session: %v", err)
	}

	ctx := context.Background()
	if err := session.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}

	for _, m := range session.Messages() {
		who := "you"
		if m.Sender == livechat.SenderRemote {
			who = "support"
		}
		fmt.Printf("[%s] %s: %s\n", m.DisplayTime(), who, m.Text)
	}
	fmt.Printf("connected, conversation %s. type a message, /end to finish\n", session.ConversationID())

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case reason := <-ended:
			fmt.Printf("chat ended (%s)\n", reason)
			return

		case line, ok := <-lines:
			if !ok {
				return
			}
			if strings.TrimSpace(line) == "/end" {
				if err := session.EndChat(ctx); err != nil {
					log.Printf("end chat: %v", err)
				}
				continue
			}
			session.NotifyTyping()
			if err := session.SendMessage(line); err != nil {
				log.Printf("send: %v", err)
			}
		}
	}
}
