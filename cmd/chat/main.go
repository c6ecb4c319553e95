package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cafechat/internal/auth"
	"cafechat/internal/chat"
	"cafechat/internal/config"
	"cafechat/internal/identity"
	"cafechat/internal/prefs"
	"cafechat/internal/rest"
	"cafechat/pkg/events"
	"cafechat/pkg/logger"
)

const usage = `
cafechat - interactive chat client

Usage:
  chat -login user:pass          Log in and store the token
  chat -room <id>                Join a café room
  chat -dm <counterpart>:<room>  Join a 1:1 room

In-room commands:
  /more    load the next older history page
  /read    mark the newest message as read
  /mute    toggle the room's mute flag
  /quit    leave the room and exit
Anything else is sent as a message.
`

func main() {
	_ = godotenv.Load()

	loginFlag := flag.String("login", "", "user:pass to log in with")
	roomFlag := flag.String("room", "", "café room id to join")
	dmFlag := flag.String("dm", "", "counterpart:roomId for a 1:1 room")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Client.Environment)
	logger.SetGlobalLogger(log)
	defer log.Logger.Sync() //nolint:errcheck

	tokens := auth.NewStore(cfg.Client.TokenFile)

	if *loginFlag != "" {
		if err := login(cfg.Client.APIBaseURL, *loginFlag, tokens); err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("logged in")
		return
	}

	if *roomFlag == "" && *dmFlag == "" {
		fmt.Print(usage)
		os.Exit(2)
	}

	bus := events.NewBus()
	resolver := identity.NewResolver(
		tokens.Nickname,
		identity.FromToken(tokens.Token),
	)
	manager := chat.NewManager(chat.ManagerOptions{
		BrokerURL: cfg.Client.BrokerURL,
		API:       rest.NewClient(cfg.Client.APIBaseURL, tokens.Token, log),
		Bus:       bus,
		Prefs:     prefs.NewStore(cfg.Client.PrefsFile),
		Token:     tokens.Token,
		Resolver:  resolver,
		Logger:    log,
	})
	defer manager.Shutdown()

	ctx := context.Background()
	var key string
	if *roomFlag != "" {
		key, err = manager.OpenCafeRoom(ctx, *roomFlag)
	} else {
		counterpart, roomID, ok := strings.Cut(*dmFlag, ":")
		if !ok {
			fmt.Fprintln(os.Stderr, "expected -dm counterpart:roomId")
			os.Exit(2)
		}
		key, err = manager.OpenDirectRoom(ctx, counterpart, roomID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "join failed: %v\n", err)
		os.Exit(1)
	}

	sess, _ := manager.Session(key)
	printBackfill(sess)

	unsubscribe := bus.Subscribe(ctx, events.ChannelPrefixRoomMessage+sess.RoomID, func(_ context.Context, ev events.Event) error {
		if msg, ok := ev.Payload.(chat.Message); ok {
			printMessage(msg)
		}
		return nil
	})
	defer unsubscribe()

	repl(ctx, manager, key)
}

func repl(ctx context.Context, manager *chat.Manager, key string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			manager.CloseRoom(key)
			return
		case "/more":
			if err := manager.LoadMoreHistory(ctx, key); err != nil {
				fmt.Fprintf(os.Stderr, "history: %v\n", err)
				continue
			}
			if sess, ok := manager.Session(key); ok {
				fmt.Printf("-- %d history messages loaded, more=%v --\n", len(sess.History), sess.HasMoreHistory)
			}
		case "/read":
			if err := manager.MarkAsRead(ctx, key); err != nil {
				fmt.Fprintf(os.Stderr, "read: %v\n", err)
			}
		case "/mute":
			muted := manager.ToggleMute(ctx, key)
			fmt.Printf("-- muted=%v --\n", muted)
		default:
			if err := manager.Send(key, line); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
	}
}

func printBackfill(sess chat.Session) {
	// History is stored newest-first; print oldest-first for reading.
	for i := len(sess.History) - 1; i >= 0; i-- {
		printMessage(sess.History[i])
	}
}

func printMessage(msg chat.Message) {
	sender := msg.SenderName
	if msg.IsMine {
		sender = "me"
	}
	if chat.IsSystemType(msg.MessageType) {
		fmt.Printf("  * %s\n", msg.Content)
		return
	}
	fmt.Printf("[%s] %s: %s\n", msg.TimeLabel, sender, msg.Content)
}

func login(apiBaseURL, userPass string, tokens *auth.Store) error {
	username, password, ok := strings.Cut(userPass, ":")
	if !ok {
		return fmt.Errorf("expected -login user:pass")
	}

	payload, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(apiBaseURL+"/auth/login", "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			Token    string `json:"token"`
			Nickname string `json:"nickname"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	return tokens.Save(auth.Credentials{AccessToken: body.Data.Token, Nickname: body.Data.Nickname})
}
