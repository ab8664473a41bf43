// Command relay-cli is the interactive chatrelay client.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chatrelay/client"
	"github.com/opd-ai/chatrelay/protocol"
)

func main() {
	server := flag.String("server", "", "relay server address (host:port)")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logrus.WithField("error", err).Debug("No .env file loaded")
	}
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		logrus.SetLevel(level)
	}

	addr := *server
	if addr == "" {
		addr = os.Getenv("CHATRELAY_SERVER")
	}
	if addr == "" {
		addr = "127.0.0.1:5555"
	}

	done := make(chan struct{})
	var closeOnce sync.Once
	finish := func() { closeOnce.Do(func() { close(done) }) }

	c, err := client.Dial(addr, client.Events{
		OnChat:       printChat,
		OnReceipt:    printReceipt,
		OnRoster:     printRoster,
		OnSystem:     func(text string) { fmt.Printf("[info] %s\n", text) },
		OnError:      func(text string) { fmt.Printf("[error] %s\n", text) },
		OnExpire:     func(uint64) { fmt.Println("[info] a temporary message expired and was removed from local history") },
		OnDisconnect: func(err error) { fmt.Printf("[info] connection lost: %v\n", err); finish() },
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	fmt.Printf("connected as %s\n", c.ID())
	printRoster(c.Roster())
	fmt.Println(client.Help())

	go func() {
		inputLoop(c)
		finish()
	}()
	<-done
}

// inputLoop reads user commands until /exit, EOF, or a usage-independent
// failure.
func inputLoop(c *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		out, err := client.Execute(c, line)
		switch {
		case errors.Is(err, client.ErrExit):
			return
		case errors.Is(err, client.ErrUsage):
			fmt.Println(err)
		case errors.Is(err, client.ErrReplyTargetNotFound):
			fmt.Printf("[error] %v\n", err)
		case err != nil:
			fmt.Printf("[error] %v\n", err)
			return
		case out != "":
			fmt.Println(out)
		}
	}
}

func printChat(env *protocol.Envelope) {
	ts := env.Timestamp.Local().Format("15:04:05")
	if env.ReplyTo != 0 {
		fmt.Printf("[%s] %s (reply to #%d): %s  [#%d]\n", ts, env.From, env.ReplyTo, env.Text, env.MessageID)
		return
	}
	fmt.Printf("[%s] %s: %s  [#%d]\n", ts, env.From, env.Text, env.MessageID)
}

func printReceipt(messageID uint64, target string) {
	fmt.Printf("[receipt %s] message #%d delivered to %s\n",
		time.Now().Format("15:04:05"), messageID, target)
}

func printRoster(roster []string) {
	fmt.Printf("connected clients: %s\n", strings.Join(roster, ", "))
}
