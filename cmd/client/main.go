package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mx-space/realtime/internal/pkg/jwt"
	"github.com/mx-space/realtime/pkg/client"
)

type staticSession struct {
	token string
}

func (s staticSession) Session(context.Context) (*client.Session, error) {
	if s.token == "" {
		return nil, nil
	}
	return &client.Session{AccessToken: s.token}, nil
}

func (staticSession) OnAuthStateChange(func(client.AuthEvent, *client.Session)) func() {
	return func() {}
}

func main() {
	url := flag.String("url", "ws://localhost:2333/ws", "Gateway websocket URL")
	token := flag.String("token", os.Getenv("REALTIME_TOKEN"), "Access token")
	mint := flag.Bool("mint", false, "Mint a token locally with -secret instead of -token")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "JWT secret used by -mint")
	issuer := flag.String("issuer", "", "JWT issuer used by -mint")
	user := flag.String("user", "demo", "Subject used by -mint")
	email := flag.String("email", "", "Email used by -mint")
	role := flag.String("role", jwt.DefaultRole, "Role used by -mint")
	subs := flag.String("sub", "public.lobby", "Comma separated channels to subscribe")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *mint {
		verifier, err := jwt.NewVerifier(*secret, *issuer, 0)
		if err != nil {
			logger.Fatal("mint token", zap.Error(err))
		}
		signed, err := verifier.Sign(jwt.Identity{ID: *user, Email: *email, Role: *role}, time.Hour)
		if err != nil {
			logger.Fatal("mint token", zap.Error(err))
		}
		*token = signed
	}

	m := client.New(*url, staticSession{token: jwt.NormalizeToken(*token)}, client.WithLogger(logger))
	defer m.Close()

	m.On("", func(msg client.Message) {
		fmt.Printf("[%s] %s %s from %s: %s\n", msg.Timestamp, msg.Channel, msg.Event, msg.Sender.ID, msg.Data)
	})
	for _, ch := range strings.Split(*subs, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			_ = m.Subscribe(ch)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := m.Connect(ctx); err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	if m.State() != client.StateOpen {
		logger.Fatal("no token; pass -token or -mint")
	}
	logger.Info("connected; type '<channel> <event> [json]' to broadcast", zap.Strings("subscribed", m.Pending()))

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			broadcastLine(logger, m, line)
		}
	}
}

func broadcastLine(logger *zap.Logger, m *client.Manager, line string) {
	parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(parts) < 2 {
		return
	}
	var data any
	if len(parts) == 3 {
		if !json.Valid([]byte(parts[2])) {
			logger.Warn("data is not valid json")
			return
		}
		data = json.RawMessage(parts[2])
	}
	if err := m.Broadcast(parts[0], parts[1], data); err != nil {
		logger.Warn("broadcast failed", zap.Error(err))
	}
}
