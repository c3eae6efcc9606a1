// Package main runs a demo client against a local colonybridge: prints the
// session state, then follows the live notice feed over WebSocket.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type notice struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

func main() {
	addr := os.Getenv("STATUS_ADDR")
	if addr == "" {
		addr = "localhost:8420"
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/v1/state", addr))
	if err != nil {
		log.Fatal(err)
	}
	var state map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		log.Fatal(err)
	}
	resp.Body.Close()
	out, _ := json.MarshalIndent(state, "", "  ")
	fmt.Printf("state: %s\n", out)

	u := url.URL{Scheme: "ws", Host: addr, Path: "/v1/feed"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()
	log.Printf("following notices from %s", u.String())

	for {
		var n notice
		if err := c.ReadJSON(&n); err != nil {
			log.Fatal(err)
		}
		log.Printf("[%s] %s", n.Level, n.Message)
	}
}
