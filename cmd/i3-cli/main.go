package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mudnet/i3-gateway/pkg/client"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("i3-cli v%s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	}

	url := os.Getenv("I3_GATEWAY_URL")
	if url == "" {
		url = "ws://localhost:8081/ws"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, client.Config{
		URL:      url,
		Token:    os.Getenv("I3_TOKEN"),
		MudName:  os.Getenv("I3_MUD_NAME"),
		UserName: envOr("I3_USER_NAME", "operator"),
	})
	if err != nil {
		fail("connect: %v", err)
	}
	defer c.Close()

	switch os.Args[1] {
	case "tell":
		requireArgs(4, "tell <mud> <user> <message>")
		must(c.Tell(ctx, os.Args[2], os.Args[3], os.Args[4]))
		fmt.Println("sent")
	case "chansend":
		requireArgs(3, "chansend <channel> <message>")
		must(c.ChannelSend(ctx, os.Args[2], os.Args[3]))
		fmt.Println("sent")
	case "join":
		requireArgs(2, "join <channel>")
		must(c.ChannelJoin(ctx, os.Args[2]))
		fmt.Println("joined")
	case "leave":
		requireArgs(2, "leave <channel>")
		must(c.ChannelLeave(ctx, os.Args[2]))
		fmt.Println("left")
	case "channels":
		channels, err := c.ChannelList(ctx)
		must(err)
		printJSON(channels)
	case "who":
		requireArgs(2, "who <mud>")
		users, err := c.Who(ctx, os.Args[2], nil)
		must(err)
		printJSON(users)
	case "finger":
		requireArgs(3, "finger <mud> <user>")
		info, err := c.Finger(ctx, os.Args[2], os.Args[3])
		must(err)
		printJSON(info)
	case "locate":
		requireArgs(2, "locate <user>")
		loc, err := c.Locate(ctx, os.Args[2])
		must(err)
		printJSON(loc)
	case "mudlist":
		muds, err := c.Mudlist(ctx, len(os.Args) > 2 && os.Args[2] == "--online")
		must(err)
		printJSON(muds)
	case "status":
		st, err := c.Status(ctx)
		must(err)
		printJSON(st)
	case "stats":
		st, err := c.Stats(ctx)
		must(err)
		printJSON(st)
	case "watch":
		watch(url)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// watch tails the gateway's event stream until interrupted.
func watch(url string) {
	done := make(chan struct{})
	c, err := client.Dial(context.Background(), client.Config{
		URL:       url,
		Token:     os.Getenv("I3_TOKEN"),
		MudName:   os.Getenv("I3_MUD_NAME"),
		UserName:  envOr("I3_USER_NAME", "operator"),
		Reconnect: true,
		OnEvent: func(ev *client.Event) {
			fmt.Printf("%s  %-16s %v\n", ev.Time.Format(time.RFC3339), ev.Type, ev.Data)
		},
	})
	if err != nil {
		fail("connect: %v", err)
	}
	defer c.Close()
	<-done
}

func requireArgs(n int, usage string) {
	if len(os.Args) < n+1 {
		fail("usage: i3-cli %s", usage)
	}
}

func must(err error) {
	if err != nil {
		fail("%v", err)
	}
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	must(err)
	fmt.Println(string(data))
}

func printUsage() {
	fmt.Println(`i3-cli v` + version + `

Usage: i3-cli <command> [args]

Commands:
  tell <mud> <user> <message>   Send a private message
  chansend <channel> <message>  Send on a channel
  join <channel>                Listen to a channel
  leave <channel>               Stop listening to a channel
  channels                      List known channels
  who <mud>                     List users on a mud
  finger <mud> <user>           Show a user's profile
  locate <user>                 Find a user anywhere on the network
  mudlist [--online]            List known muds
  status                        Gateway health
  stats                         Gateway counters
  watch                         Stream gateway events
  version                       Print version

Environment:
  I3_GATEWAY_URL  WebSocket endpoint (default ws://localhost:8081/ws)
  I3_TOKEN        Auth token
  I3_MUD_NAME     Mud identity for authentication
  I3_USER_NAME    User identity (default "operator")`)
}
