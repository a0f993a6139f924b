package main

import (
	"bufio"
	"flag"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/k0kubun/pp/v3"

	"github.com/aljonuschka/reservd/mailparser"
)

// mailtest parses a raw message from a file or stdin and dumps the
// extracted body and reservation fields. Handy for checking how a broken
// form submission would import without touching the mailbox.

var version = "dev"

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.Parse()

	if showVersion {
		log.Printf("Version: %s", version)
		return
	}

	var raw []byte
	var err error
	if flag.NArg() > 0 {
		raw, err = os.ReadFile(flag.Arg(0))
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		log.Fatalf("Failed to read message: %v", err)
	}

	if subject := findSubject(raw); subject != "" {
		decoded, err := mailparser.DecodeHeader(subject)
		if err != nil {
			log.Printf("Failed to decode subject: %v", err)
			decoded = subject
		}
		pp.Printf("Subject: %s\n", decoded)
	}

	body := mailparser.ExtractBody(raw)
	if body == "" {
		log.Fatal("No readable text part found")
	}
	pp.Printf("Body:\n%s\n", body)

	reservation, err := mailparser.ParseReservation(body, time.Now())
	if err != nil {
		log.Fatalf("Failed to parse reservation: %v", err)
	}
	pp.Println(reservation)
}

func findSubject(raw []byte) string {
	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "subject:") {
			return strings.TrimSpace(line[len("subject:"):])
		}
	}
	return ""
}
