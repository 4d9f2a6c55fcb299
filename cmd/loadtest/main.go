package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/ReilBleem13/PalMessenger/internal/utils"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

var (
	nConns  = flag.Int("conns", 10000, "number of websocket connections")
	addr    = flag.String("addr", "ws://127.0.0.1:8080/ws", "websocket endpoint")
	secret  = flag.String("secret", "", "JWT_SECRET of the target server")
	firstID = flag.Int64("first-id", 1, "user id of the first connection; users first-id.. must exist as load<id>")
)

func main() {
	flag.Parse()
	if *secret == "" {
		log.Fatal("-secret is required")
	}

	var conns []*websocket.Conn
	for i := 0; i < *nConns; i++ {
		userID := *firstID + int64(i)
		username := fmt.Sprintf("load%d", userID)

		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, utils.AccessClaims{
			UserID:   userID,
			Username: username,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			},
		}).SignedString([]byte(*secret))
		if err != nil {
			log.Fatalf("Failed to sign token %d: %v", i, err)
		}

		c, _, err := websocket.DefaultDialer.Dial(*addr+"?token="+url.QueryEscape(token), nil)
		if err != nil {
			log.Fatalf("Failed to connect %d: %v", i, err)
		}
		if err := c.WriteJSON(map[string]any{"type": "register", "data": map[string]string{"username": username}}); err != nil {
			log.Fatalf("Failed to register %d: %v", i, err)
		}

		go func(conn *websocket.Conn) {
			for {
				_, _, err := conn.ReadMessage()
				if err != nil {
					log.Fatal(err)
				}
			}
		}(c)
		conns = append(conns, c)
		log.Printf("conn %d established", i)
	}

	log.Printf("all %d connections established", len(conns))
	select {}
}
