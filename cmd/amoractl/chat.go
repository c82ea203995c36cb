package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/ashureev/amora/internal/chatclient"
	"github.com/spf13/cobra"
)

const chatHelp = `commands:
  /record FILE   start a voice message from an audio file
  /stop          finish recording and review the clip
  /send          send the reviewed clip
  /discard       drop the recording
  /away, /back   toggle notifications as if the window lost focus
  /status        show the live feed state
  /quit          leave the chat
anything else is sent as a text message`

func newChatCmd() *cobra.Command {
	var (
		server   string
		token    string
		womanID  string
		noSound  bool
		noNotify bool
		settings = chatclient.DefaultSettings()
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a profile from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				return fmt.Errorf("a user token is required (--token or AMORA_TOKEN)")
			}
			settings.SoundEnabled = !noSound
			settings.NotificationsEnabled = !noNotify

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			client := chatclient.NewClient(chatclient.Session{BaseURL: server, Token: token}, &http.Client{Timeout: 30 * time.Second})
			return runChat(ctx, client, womanID, settings, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&server, "server", envOr("AMORA_SERVER", "http://localhost:8080"), "server base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("AMORA_TOKEN"), "user access token")
	cmd.Flags().StringVar(&womanID, "woman", "", "profile id to chat with")
	cmd.Flags().DurationVar(&settings.PollInterval, "poll", settings.PollInterval, "fallback poll interval")
	cmd.Flags().DurationVar(&settings.LiveTimeout, "live-timeout", settings.LiveTimeout, "time allowed for the feed to go live")
	cmd.Flags().BoolVar(&noSound, "no-sound", false, "disable the arrival bell")
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "disable notification lines")
	_ = cmd.MarkFlagRequired("woman")
	return cmd
}

func runChat(ctx context.Context, client *chatclient.Client, womanID string, settings chatclient.Settings, in io.Reader, out io.Writer) error {
	chat, grant, err := client.OpenChat(ctx, womanID)
	if chatclient.IsAccessDenied(err) {
		_, _ = fmt.Fprintln(out, "You need an active subscription or free access to chat with this profile.")
		return err
	}
	if err != nil {
		return err
	}
	if grant.ExpiresAt != nil {
		_, _ = fmt.Fprintf(out, "-- access via %s until %s\n", grant.Source, grant.ExpiresAt.Local().Format(time.RFC1123))
	}

	focus := chatclient.NewFocus()
	ctrl := chatclient.NewController(client, chatclient.ControllerOptions{
		Settings: settings,
		Focus:    focus,
		Renderer: chatclient.NewTerminalRenderer(out),
		Alerts:   chatclient.NewTerminalAlerts(out),
		OnFeedState: func(s chatclient.FeedState) {
			_, _ = fmt.Fprintf(out, "-- feed %s\n", s)
		},
		OnTyping: func(on bool) {
			if on {
				_, _ = fmt.Fprintln(out, "-- typing...")
			}
		},
	})
	defer ctrl.Close()
	ctrl.Open(ctx, chat.ID)
	_, _ = fmt.Fprintln(out, "-- /help for commands")

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	mic := &fileMic{}
	s := &chatSession{ctrl: ctrl, focus: focus, mic: mic, rec: chatclient.NewRecorder(mic), out: out}
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := s.handle(ctx, line); done {
				return nil
			}
		}
	}
}

type chatSession struct {
	ctrl  *chatclient.Controller
	focus *chatclient.Focus
	mic   *fileMic
	rec   *chatclient.Recorder
	out   io.Writer
}

// handle runs one input line and reports whether the session should end.
func (s *chatSession) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		composer := s.ctrl.Composer()
		composer.SetInput(line)
		s.report(composer.SendText(ctx))
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit":
		return true
	case "/help":
		_, _ = fmt.Fprintln(s.out, chatHelp)
	case "/status":
		_, _ = fmt.Fprintf(s.out, "-- feed %s\n", s.ctrl.FeedState())
	case "/away":
		s.focus.SetFocused(false)
	case "/back":
		s.focus.SetFocused(true)
	case "/record":
		s.mic.next = strings.TrimSpace(arg)
		s.report(s.rec.Start())
	case "/stop":
		clip, err := s.rec.Stop()
		if err == nil {
			_, _ = fmt.Fprintf(s.out, "-- recorded %s (%s), /send or /discard\n", clip.Duration.Round(time.Millisecond), clip.ContentType)
		}
		s.report(err)
	case "/send":
		s.report(s.rec.Confirm(ctx, s.ctrl.Composer()))
	case "/discard":
		s.rec.Discard()
	default:
		_, _ = fmt.Fprintf(s.out, "-- unknown command %s\n", cmd)
	}
	return false
}

func (s *chatSession) report(err error) {
	switch {
	case err == nil:
	case chatclient.IsAccessDenied(err):
		_, _ = fmt.Fprintln(s.out, "-- access expired, renew your subscription to keep chatting")
	case errors.Is(err, chatclient.ErrMicrophone):
		_, _ = fmt.Fprintf(s.out, "-- could not record: %v\n", err)
	default:
		_, _ = fmt.Fprintf(s.out, "-- %v\n", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
