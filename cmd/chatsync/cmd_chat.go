package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/edumarket/chatsync/internal/domain/conversation"
	"github.com/edumarket/chatsync/internal/infrastructure/logger"
	"github.com/edumarket/chatsync/internal/infrastructure/observability"
	"github.com/edumarket/chatsync/internal/infrastructure/uploader"
)

var chatCmd = &cobra.Command{
	Use:   "chat <peer-id>",
	Short: "Open a conversation and chat interactively",
	Long: `Open the conversation with a peer, print its history and follow it live.

Lines typed on stdin are sent as messages. Commands:
  /attach <path> [caption]   upload a file and send it
  /voice <path>              send an audio file as a voice message
  /resend <message-id>       retry a failed message
  /typing                    show the peer a typing indicator
  /online                    list users currently online
  /quit                      leave`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().String("name", "", "Display name of the peer")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	app, cleanup, err := assemble(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	app.Connect(ctx)

	out := cmd.OutOrStdout()
	p := newPrinter(out, cfg.UserID)
	unsubscribe := app.ctrl.Subscribe(p.render)
	defer unsubscribe()

	name, _ := cmd.Flags().GetString("name")
	view, err := app.ctrl.OpenConversation(ctx, conversation.Peer{ID: args[0], Name: name})
	if err != nil {
		return err
	}
	if view.Source == conversation.SourceCache {
		fmt.Fprintln(out, "(store unavailable, showing cached history)")
	}
	p.render(view)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.ServeMetrics(gctx)
	})
	g.Go(func() error {
		defer stop()
		return app.readInput(gctx, cmd.InOrStdin(), out)
	})
	return g.Wait()
}

// readInput dispatches stdin lines until EOF, /quit or cancellation.
func (a *Application) readInput(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := a.handleLine(ctx, strings.TrimSpace(line), out); quit {
				return nil
			}
		}
	}
}

func (a *Application) handleLine(ctx context.Context, line string, out io.Writer) (quit bool) {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		a.ctrl.NotifyTyping()
		if _, err := a.ctrl.SendMessage(ctx, line, nil); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
		return false
	}

	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch command {
	case "/quit", "/exit":
		return true
	case "/typing":
		a.ctrl.NotifyTyping()
	case "/online":
		fmt.Fprintf(out, "online: %s\n", strings.Join(a.ctrl.Presence(), ", "))
	case "/resend":
		if rest == "" {
			fmt.Fprintln(out, "usage: /resend <message-id>")
			return false
		}
		if _, err := a.ctrl.ResendMessage(ctx, rest); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	case "/attach":
		path, caption, _ := strings.Cut(rest, " ")
		if path == "" {
			fmt.Fprintln(out, "usage: /attach <path> [caption]")
			return false
		}
		if err := a.sendFile(ctx, path, caption); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	case "/voice":
		if rest == "" {
			fmt.Fprintln(out, "usage: /voice <path>")
			return false
		}
		if err := a.sendVoice(ctx, rest); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	default:
		fmt.Fprintf(out, "unknown command %s\n", command)
	}
	return false
}

func (a *Application) sendFile(ctx context.Context, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	_, err = a.ctrl.SendMessage(ctx, caption, &conversation.File{
		Name: filepath.Base(path),
		Size: info.Size(),
		Body: f,
	})
	return err
}

// sendVoice replays an audio file through the recorder so the result is
// named and bounded like a live capture.
func (a *Application) sendVoice(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rec := uploader.NewRecorder(uploader.ReaderSource{Reader: f, ContentType: audioContentType(path)}, a.cfg.UploadMaxBytes, nil)
	if err := rec.Start(ctx); err != nil {
		return err
	}
	select {
	case <-rec.Done():
	case <-ctx.Done():
	}
	file, err := rec.Stop()
	if err != nil {
		return err
	}
	_, err = a.ctrl.SendMessage(ctx, "", &file)
	return err
}

func audioContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ogg", ".oga", ".opus":
		return "audio/ogg"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	default:
		return "audio/webm"
	}
}

// printer writes new messages and status changes of the open conversation.
type printer struct {
	out    io.Writer
	selfID string

	mu      sync.Mutex
	seen    map[string]conversation.Status
	typing  bool
	state   conversation.ConnectionState
	current conversation.Key
}

func newPrinter(out io.Writer, selfID string) *printer {
	return &printer{out: out, selfID: selfID, seen: make(map[string]conversation.Status)}
}

func (p *printer) render(v conversation.View) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v.ChannelState != "" && v.ChannelState != p.state {
		if p.state != "" {
			fmt.Fprintf(p.out, "-- channel %s\n", v.ChannelState)
		}
		p.state = v.ChannelState
	}
	if v.Key != p.current {
		p.current = v.Key
		p.seen = make(map[string]conversation.Status)
		p.typing = false
	}
	if v.Loading {
		return
	}

	for _, m := range v.Messages {
		// ids change when a send is acknowledged, sender and time do not
		fp := m.SenderID + "|" + strconv.FormatInt(m.Timestamp.UnixNano(), 10)
		prev, known := p.seen[fp]
		switch {
		case !known:
			p.printMessage(v.Peer, m)
		case prev != m.Status && m.SenderID == p.selfID:
			fmt.Fprintf(p.out, "   [%s] %s\n", m.ID, statusLabel(m))
		}
		p.seen[fp] = m.Status
	}

	if v.PeerTyping != p.typing {
		p.typing = v.PeerTyping
		if v.PeerTyping {
			fmt.Fprintf(p.out, "   %s is typing…\n", peerLabel(v.Peer))
		}
	}
}

func (p *printer) printMessage(peer conversation.Peer, m conversation.Message) {
	who := "you"
	if m.SenderID != p.selfID {
		who = peerLabel(peer)
	}
	line := m.Text
	if m.Attachment != nil && m.Attachment.URL != "" {
		line += " <" + m.Attachment.URL + ">"
	}
	fmt.Fprintf(p.out, "%s %s: %s", m.Timestamp.Local().Format("15:04"), who, line)
	if m.SenderID == p.selfID {
		fmt.Fprintf(p.out, "  [%s] %s", m.ID, statusLabel(m))
	}
	fmt.Fprintln(p.out)
}

func peerLabel(peer conversation.Peer) string {
	if peer.Name != "" {
		return peer.Name
	}
	return peer.ID
}

func statusLabel(m conversation.Message) string {
	if m.Unconfirmed {
		return string(m.Status) + " (unconfirmed)"
	}
	return string(m.Status)
}
