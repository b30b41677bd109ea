// FlatFit CLI - Command line client for FlatFit chat
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/4k-champ/cozy-flat-match/clients/go/flatfit"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("FLATFIT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	session := flatfit.NewFileSession("")
	client := flatfit.NewClient(baseURL, session)
	cmd := os.Args[1]
	ctx := context.Background()

	switch cmd {
	case "register":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "Usage: flatfit register <email> <password> <name>")
			os.Exit(1)
		}
		err := client.Register(ctx, flatfit.RegisterRequest{
			Email: os.Args[2], Password: os.Args[3], Name: os.Args[4],
		})
		exitOnError(err)
		fmt.Println("Registered. Now run: flatfit login", os.Args[2], "<password>")

	case "login":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: flatfit login <email> <password>")
			os.Exit(1)
		}
		resp, err := client.Login(ctx, os.Args[2], os.Args[3])
		exitOnError(err)
		fmt.Printf("Logged in as %s (#%d)\n", resp.Name, resp.ID)

	case "logout":
		exitOnError(session.Clear())
		fmt.Println("Logged out.")

	case "flats":
		flats, err := client.Flats(ctx, 50, 0)
		exitOnError(err)
		for _, f := range flats {
			fmt.Printf("  #%-4d %s", f.ID, f.Address)
			if f.Rent > 0 {
				fmt.Printf("  (%d EUR)", f.Rent)
			}
			fmt.Println()
		}

	case "addflat":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: flatfit addflat <address> [rent]")
			os.Exit(1)
		}
		var rent int64
		if len(os.Args) > 3 {
			rent, _ = strconv.ParseInt(os.Args[3], 10, 64)
		}
		flat, err := client.CreateFlat(ctx, os.Args[2], rent)
		exitOnError(err)
		fmt.Printf("Posted flat #%d\n", flat.ID)

	case "rooms":
		rooms, err := client.Rooms(ctx)
		exitOnError(err)
		if len(rooms) == 0 {
			fmt.Println("No conversations yet.")
			return
		}
		for _, r := range rooms {
			fmt.Printf("  room #%-4d %s (with %s)\n", r.ID, r.Address, r.ChatWithUserName)
		}

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: flatfit read <room_id>")
			os.Exit(1)
		}
		roomID, err := strconv.ParseInt(os.Args[2], 10, 64)
		exitOnError(err)
		msgs, err := client.Messages(ctx, roomID)
		exitOnError(err)
		me := session.CurrentUser()
		for _, m := range msgs {
			printMessage(m, me)
		}

	case "chat":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: flatfit chat <flat_id> [counterpart_user_id]")
			os.Exit(1)
		}
		flatID, err := strconv.ParseInt(os.Args[2], 10, 64)
		exitOnError(err)
		var counterpart *int64
		if len(os.Args) > 3 {
			id, err := strconv.ParseInt(os.Args[3], 10, 64)
			exitOnError(err)
			counterpart = &id
		}
		runChat(ctx, client, session, flatID, counterpart)

	case "whoami":
		user := session.CurrentUser()
		if user == nil {
			fmt.Println("Not logged in.")
			return
		}
		printJSON(user)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// runChat resolves the room and drives an interactive session: incoming
// messages render as they arrive, stdin lines are sent, EOF closes.
func runChat(ctx context.Context, client *flatfit.Client, session *flatfit.FileSession, flatID int64, counterpart *int64) {
	room, err := client.ResolveRoom(ctx, flatID, counterpart)
	exitOnError(err)
	fmt.Printf("Connected to room #%d. Type a message, Ctrl-D to leave.\n", room.ID)

	me := session.CurrentUser()
	ch := flatfit.NewChannel(client, room.ID)

	rendered := 0
	ch.OnUpdate = func() {
		for _, m := range ch.Messages()[rendered:] {
			printMessage(m, me)
			rendered++
		}
	}

	if err := ch.Open(ctx); err != nil {
		var be *flatfit.BacklogError
		if errors.As(err, &be) {
			fmt.Fprintln(os.Stderr, "Warning: history unavailable:", be.Err)
		} else {
			exitOnError(err)
		}
	}
	defer ch.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		if err := ch.Send(text); err != nil {
			fmt.Fprintln(os.Stderr, "Send failed:", err)
		}
	}
}

func printMessage(m flatfit.ChatMessage, me *flatfit.User) {
	ts := m.CreatedAt.Local().Format("2006-01-02 15:04:05")
	from := fmt.Sprintf("#%d", m.SenderID)
	if me != nil && m.SenderID == me.ID {
		from = "me"
	}
	marker := " "
	if m.Status == flatfit.StatusRead {
		marker = "✓"
	}
	fmt.Printf("[%s] %s %s: %s\n", ts, marker, from, m.Content)
}

func usage() {
	fmt.Println(`FlatFit CLI - flatmate matching chat

Usage: flatfit <command> [options]

Commands:
  register <email> <pw> <name>   Create an account
  login <email> <pw>             Log in and store credentials
  logout                         Discard stored credentials
  flats                          List flat postings
  addflat <address> [rent]       Post a flat
  rooms                          List your conversations
  read <room_id>                 Print a room's message history
  chat <flat_id> [user_id]       Open a live conversation for a flat
  whoami                         Show the stored identity

Environment:
  FLATFIT_URL      Server URL (default: http://localhost:8080)
  FLATFIT_CONFIG   Config directory (default: ~/.flatfit)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
