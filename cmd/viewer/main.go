// Command viewer attaches to a running relay as a read-mostly participant,
// prints the current roster and file catalog, then tails room events until
// interrupted.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"

	"collab-lab/client"
	"collab-lab/domain"
)

type viewerConfig struct {
	RelayAddr  string `env:"RELAY_ADDR,default=127.0.0.1:9000"`
	ViewerName string `env:"VIEWER_NAME,default=viewer"`
	Follow     bool   `env:"VIEWER_FOLLOW,default=true"`
}

func main() {
	// 1. Load config
	_ = godotenv.Load()
	var config viewerConfig
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	// 2. Connect and log in
	c, err := client.Dial(config.RelayAddr, 10*time.Second)
	if err != nil {
		log.Fatalf("Failed to reach relay: %v", err)
	}
	defer c.Close()

	roster, err := c.Login(config.ViewerName)
	if err != nil {
		log.Fatalf("Login failed: %v", err)
	}

	color.New(color.BgBlack, color.FgGreen).Printf(
		"  ====== Connected to %s as %s (uid %d) ======\n",
		config.RelayAddr, config.ViewerName, c.UID())

	renderRoster(roster.Participants)

	// 3. Fetch and render the file catalog
	if err := c.RequestFileList(false); err != nil {
		log.Fatalf("File list request failed: %v", err)
	}
	for {
		env, err := c.RecvTimeout(10 * time.Second)
		if err != nil {
			log.Fatalf("Waiting for file list: %v", err)
		}
		if env.Type != domain.TypeFileListResponse {
			continue
		}
		var list domain.FileListResponse
		if err := env.Decode(&list); err != nil {
			log.Fatalf("Decoding file list: %v", err)
		}
		renderFiles(list.Files)
		break
	}

	if !config.Follow {
		_ = c.Logout()
		return
	}

	// 4. Tail room events until interrupted
	go heartbeatLoop(c)
	go tailEvents(c)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	_ = c.Logout()
	fmt.Println("\nBye.")
}

func renderRoster(participants []domain.ParticipantSummary) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"UID", "Username", "Presenting", "Joined"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, p := range participants {
		presenting := ""
		if p.IsPresenting {
			presenting = "yes"
		}
		table.Append([]string{
			fmt.Sprintf("%d", p.UID),
			p.Username,
			presenting,
			p.JoinedAt.Local().Format(time.Kitchen),
		})
	}
	color.Bold.Println("Participants")
	table.Render()
}

func renderFiles(files []domain.FileInfo) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Filename", "Size", "Type", "Uploader", "Uploaded"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, f := range files {
		table.Append([]string{
			f.Filename,
			fmt.Sprintf("%d", f.Size),
			f.MimeType,
			f.Uploader,
			f.UploadedAt.Local().Format(time.Kitchen),
		})
	}
	color.Bold.Println("Shared files")
	table.Render()
}

func heartbeatLoop(c *client.Client) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if err := c.Heartbeat(); err != nil {
			return
		}
	}
}

func tailEvents(c *client.Client) {
	for {
		env, err := c.Recv()
		if err != nil {
			log.Fatalf("Connection to relay lost: %v", err)
		}
		line := formatEvent(env)
		if line != "" {
			fmt.Println(line)
		}
	}
}

func formatEvent(env domain.Envelope) string {
	stamp := env.Timestamp.Local().Format("15:04:05")
	switch env.Type {
	case domain.TypeChatMessage:
		var msg domain.ChatMessage
		if env.Decode(&msg) != nil {
			return ""
		}
		return fmt.Sprintf("%s %s %s", stamp, color.Cyan.Render(msg.Username+":"), msg.Content)
	case domain.TypeUserJoined:
		var ev domain.UserEvent
		if env.Decode(&ev) != nil {
			return ""
		}
		return fmt.Sprintf("%s %s", stamp, color.Green.Render("* "+ev.Username+" joined"))
	case domain.TypeUserLeft:
		var ev domain.UserEvent
		if env.Decode(&ev) != nil {
			return ""
		}
		return fmt.Sprintf("%s %s", stamp, color.Yellow.Render("* "+ev.Username+" left"))
	case domain.TypePresentStartBroadcast:
		var ev domain.PresentEvent
		if env.Decode(&ev) != nil {
			return ""
		}
		return fmt.Sprintf("%s %s", stamp, color.Magenta.Render("* "+ev.Username+" started presenting"))
	case domain.TypePresentStopBroadcast:
		var ev domain.PresentEvent
		if env.Decode(&ev) != nil {
			return ""
		}
		return fmt.Sprintf("%s %s", stamp, color.Magenta.Render("* "+ev.Username+" stopped presenting"))
	case domain.TypeFileAvailable:
		var ev domain.FileAvailable
		if env.Decode(&ev) != nil {
			return ""
		}
		return fmt.Sprintf("%s %s", stamp,
			color.Blue.Render(fmt.Sprintf("* %s shared %s (%d bytes)", ev.Uploader, ev.Filename, ev.Size)))
	case domain.TypeHeartbeatAck:
		return ""
	default:
		return ""
	}
}
