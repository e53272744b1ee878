// Package main implements chatctl, a terminal client for the messenger
// server. It joins a room, prints the message feed and notifications to
// stdout, and reads commands from stdin:
//
//	/files           list the room's attachments
//	/upload <path>   upload a file to the room
//	/download <name> print the download URL for an attachment
//	/delete          delete the room for everyone
//	/quit            leave
//
// Any other input line is sent as a chat message.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roomchat/messenger/internal/controller"
	"github.com/roomchat/messenger/internal/feed"
	"github.com/roomchat/messenger/internal/notify"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "messenger server base URL")
	roomID := flag.String("room", "", "room to join")
	user := flag.String("user", "You", "display name for local messages")
	flag.Parse()

	if *roomID == "" {
		fmt.Println("no room bound; start with -room <id> to join a chat")
		os.Exit(1)
	}

	wsURL := strings.Replace(*serverURL, "http", "ws", 1)

	done := make(chan struct{})
	ctrl := controller.New(controller.Config{
		HTTPBaseURL: *serverURL,
		WSBaseURL:   wsURL,
		SelfLabel:   *user,
		Navigate: func(path string) {
			fmt.Printf("-- left room, back to %s\n", path)
			close(done)
		},
	})

	ctrl.Feed().OnAppend(func(e feed.Entry) {
		fmt.Printf("[%s] %s: %s\n", e.Timestamp, e.SenderLabel, e.Content)
	})
	ctrl.Notices().OnNotify(func(n notify.Notice) {
		fmt.Printf("!! %s: %s (%s)\n", n.Title, n.Message, n.Severity)
	})

	ctx := context.Background()
	if err := ctrl.Start(ctx, *roomID); err != nil {
		fmt.Fprintf(os.Stderr, "failed to join room %s: %v\n", *roomID, err)
		os.Exit(1)
	}
	defer ctrl.Stop()

	fmt.Printf("joined room %s as %s\n", *roomID, *user)

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
		case <-done:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleLine(ctx, ctrl, line); quit {
				return
			}
		}
	}
}

// handleLine executes one input line. Returns true when the client should exit.
func handleLine(ctx context.Context, ctrl *controller.Controller, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false

	case line == "/quit":
		return true

	case line == "/files":
		ctrl.RefreshFiles(ctx)
		files := ctrl.Attachments()
		if len(files) == 0 {
			fmt.Println("no files in this room")
			return false
		}
		for _, f := range files {
			fmt.Printf("  %s (%d bytes)\n", f.FileName, f.FileSize)
		}
		return false

	case strings.HasPrefix(line, "/upload "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/upload "))
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot open %s: %v\n", path, err)
			return false
		}
		defer f.Close()
		if err := ctrl.UploadFile(ctx, filepath.Base(path), f); err != nil {
			fmt.Fprintf(os.Stderr, "upload failed: %v\n", err)
		}
		return false

	case strings.HasPrefix(line, "/download "):
		name := strings.TrimSpace(strings.TrimPrefix(line, "/download "))
		url, err := ctrl.DownloadURL(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "download: %v\n", err)
			return false
		}
		fmt.Println(url)
		return false

	case line == "/delete":
		if err := ctrl.DeleteRoom(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "delete failed: %v\n", err)
		}
		return false

	default:
		if err := ctrl.SendMessage(line); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
		return false
	}
}
