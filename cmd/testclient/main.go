package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

var (
	serverAddr = flag.String("addr", "localhost:8000", "telephone server address")
	clientID   = flag.String("client-id", "", "client id (default: random)")
	locale     = flag.String("locale", "", "locale for status and error messages (e.g., en, fr)")
	textFile   = flag.String("file", "", "Path to text file to relay")
	text       = flag.String("text", "", "Text to relay (if file not provided)")
	timeout    = flag.Duration("timeout", 10*time.Minute, "Give up after this long")
	verbose    = flag.BoolP("verbose", "v", false, "Print every event as raw JSON")
)

type event struct {
	Type                   string   `json:"type"`
	Message                string   `json:"message"`
	Success                bool     `json:"success"`
	Language               string   `json:"language"`
	LanguageName           string   `json:"language_name"`
	Index                  int      `json:"index"`
	SuccessfulTranslations int      `json:"successful_translations"`
	FailedTranslations     int      `json:"failed_translations"`
	Duration               float64  `json:"duration"`
	ProblemLanguages       []string `json:"problem_languages"`
	Translation            struct {
		TargetLanguageName string `json:"target_language_name"`
		TranslatedText     string `json:"translated_text"`
		BackTranslation    string `json:"back_translation"`
	} `json:"translation"`
}

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	var input string
	if *textFile != "" {
		data, err := os.ReadFile(*textFile)
		if err != nil {
			logger.WithError(err).Fatalf("Failed to read file: %s", *textFile)
		}
		input = string(data)
	} else if *text != "" {
		input = *text
	} else {
		logger.Fatal("Either --file or --text must be provided")
	}
	if strings.TrimSpace(input) == "" {
		logger.Fatal("Text to relay is empty")
	}

	id := *clientID
	if id == "" {
		id = uuid.NewString()
	}
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws/" + id}

	logger.WithFields(logrus.Fields{
		"url":         u.String(),
		"text_length": len(input),
	}).Info("Connecting to telephone server...")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to server")
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"text": input, "locale": *locale}); err != nil {
		logger.WithError(err).Fatal("Failed to send request")
	}

	deadline := time.Now().Add(*timeout)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.WithError(err).Fatal("Connection closed before the relay completed")
		}
		if *verbose {
			fmt.Println(string(data))
		}

		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.WithError(err).Warn("Skipping undecodable event")
			continue
		}

		switch ev.Type {
		case "status", "progress":
			logger.Info(ev.Message)
		case "detection":
			logger.WithFields(logrus.Fields{
				"language":  ev.LanguageName,
				"confident": ev.Success,
			}).Info("Language detected")
		case "error":
			logger.Warn(ev.Message)
		case "translation":
			logger.WithFields(logrus.Fields{
				"index":    ev.Index,
				"language": ev.Translation.TargetLanguageName,
			}).Infof("%s  ->  %s", ev.Translation.TranslatedText, ev.Translation.BackTranslation)
		case "translation_failed":
			logger.WithFields(logrus.Fields{
				"language": ev.LanguageName,
			}).Warn("Hop failed and was rolled back")
		case "complete":
			logger.WithFields(logrus.Fields{
				"successful_translations": ev.SuccessfulTranslations,
				"failed_translations":     ev.FailedTranslations,
				"problem_languages":       strings.Join(ev.ProblemLanguages, ", "),
				"duration_seconds":        ev.Duration,
			}).Info("Relay complete")
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
