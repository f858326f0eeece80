package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type entry struct {
	Kind         string `json:"kind"`
	Text         string `json:"text"`
	StepNumber   int    `json:"stepNumber"`
	Parameter    string `json:"parameter"`
	Value        string `json:"value"`
	DisplayValue string `json:"displayValue"`
}

type event struct {
	Kind  string `json:"kind"`
	Entry *entry `json:"entry"`
	State string `json:"state"`
	Text  string `json:"text"`
	Error string `json:"error"`
}

func main() {
	serverAddr := flag.String("server", "http://localhost:8080", "Soil assistant HTTP address")
	language := flag.String("language", "en", "Session language (en, hi)")
	flag.Parse()

	base := strings.TrimRight(*serverAddr, "/")
	client := &http.Client{Timeout: 60 * time.Second}

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect to event stream: %v", err)
	}
	defer conn.Close()
	go printEvents(conn)

	start := func() {
		body := fmt.Sprintf(`{"language":%q}`, *language)
		if err := post(client, base+"/v1/session", body); err != nil {
			log.Printf("Failed to start session: %v", err)
		}
	}
	start()

	fmt.Println("Type an answer and press enter. Commands: /help, /reset, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		var err error
		switch line {
		case "":
			continue
		case "/quit":
			return
		case "/help":
			err = post(client, base+"/v1/help", "")
		case "/reset":
			if err = post(client, base+"/v1/reset", ""); err == nil {
				start()
			}
		default:
			body, _ := json.Marshal(map[string]string{"text": line})
			err = post(client, base+"/v1/answers", string(body))
		}
		if err != nil {
			fmt.Printf("! %v\n", err)
		}
	}
}

func printEvents(conn *websocket.Conn) {
	for {
		var ev event
		if err := conn.ReadJSON(&ev); err != nil {
			log.Printf("Event stream closed: %v", err)
			return
		}
		switch ev.Kind {
		case "entry_appended":
			printEntry(ev.Entry)
		case "transcription":
			fmt.Printf("  (heard: %s)\n", ev.Text)
		case "submission_failed":
			fmt.Printf("! not sent: %s (your answer is kept, try again)\n", ev.Error)
		case "state_changed":
			if ev.State == "COMPLETE" {
				fmt.Println("✓ Questionnaire complete. /reset to start over.")
			}
		}
	}
}

func printEntry(e *entry) {
	if e == nil {
		return
	}
	switch e.Kind {
	case "assistant_question":
		fmt.Printf("[%d] %s\n", e.StepNumber, e.Text)
	case "assistant_helper":
		fmt.Printf("    hint: %s\n", e.Text)
	case "user_answer":
		fmt.Printf("  > %s\n", e.Text)
	case "step_completion":
		value := e.Value
		if e.DisplayValue != "" {
			value = e.DisplayValue
		}
		fmt.Printf("  ✓ %s: %s\n", e.Parameter, value)
	}
}

func post(client *http.Client, url, body string) error {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	resp, err := client.Post(url, "application/json", r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s: %s", resp.Status, e.Error)
	}
	return nil
}
