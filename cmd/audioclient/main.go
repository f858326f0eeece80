package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

func main() {
	audioFile := flag.String("audio", "testdata/answer.wav", "Path to WAV file with the spoken answer")
	serverAddr := flag.String("server", "http://localhost:8080", "Soil assistant HTTP address")
	start := flag.Bool("start", false, "Start a new session before uploading")
	language := flag.String("language", "en", "Session language when -start is set")
	flag.Parse()

	data, err := os.ReadFile(*audioFile)
	if err != nil {
		log.Fatalf("Failed to read audio file: %v", err)
	}
	if err := validateWAV(data); err != nil {
		log.Fatalf("Invalid audio file: %v", err)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	base := strings.TrimRight(*serverAddr, "/")

	if *start {
		body := fmt.Sprintf(`{"language":%q}`, *language)
		if err := post(client, base+"/v1/session", "application/json", strings.NewReader(body)); err != nil {
			log.Fatalf("Failed to start session: %v", err)
		}
	}

	log.Printf("Uploading %d bytes from %s", len(data), *audioFile)
	startTime := time.Now()
	if err := post(client, base+"/v1/answers/audio", "audio/wav", bytes.NewReader(data)); err != nil {
		log.Fatalf("Failed to submit answer: %v", err)
	}
	log.Printf("Answer accepted in %v", time.Since(startTime))
}

// validateWAV checks the RIFF/WAVE header and logs the PCM format.
func validateWAV(data []byte) error {
	if len(data) < wavHeaderSize {
		return fmt.Errorf("file too short for a WAV header (%d bytes)", len(data))
	}
	header := data[:wavHeaderSize]
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return fmt.Errorf("not a RIFF/WAVE file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	if audioFormat != 1 { // PCM
		return fmt.Errorf("only PCM format supported, got %d", audioFormat)
	}
	return nil
}

func post(client *http.Client, url, contentType string, body io.Reader) error {
	resp, err := client.Post(url, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(out)))
	}
	log.Printf("%s → %s", url, strings.TrimSpace(string(out)))
	return nil
}
