package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrWong99/voicebridge/internal/session"
)

// errQuit ends the run loop on the quit command.
var errQuit = errors.New("quit requested")

// chatController is the part of [session.Controller] the console drives.
type chatController interface {
	Connect(ctx context.Context, assistantID string) error
	Disconnect()
	Hangup()
	SetMuted(muted bool)
	SendText(ctx context.Context, text string) error
	StartRecording() error
	StopRecording() error
	State() session.ConnectionState
	CallDuration() string
}

// console reads line commands and applies them to the controller.
type console struct {
	ctrl        chatController
	assistantID string
	timeout     time.Duration
	out         io.Writer
}

func (c *console) connect(ctx context.Context) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.ctrl.Connect(ctx, c.assistantID)
}

// run executes commands from r until ctx is done, r is exhausted or the quit
// command arrives.
func (c *console) run(ctx context.Context, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
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
				<-ctx.Done()
				return nil
			}
			if err := c.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}

func (c *console) exec(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "mute":
		c.ctrl.SetMuted(true)
	case "unmute":
		c.ctrl.SetMuted(false)
	case "text", "say":
		arg = strings.TrimSpace(arg)
		if arg == "" {
			return errors.New("usage: text <message>")
		}
		return c.ctrl.SendText(ctx, arg)
	case "start":
		return c.ctrl.StartRecording()
	case "stop":
		return c.ctrl.StopRecording()
	case "connect":
		return c.connect(ctx)
	case "disconnect":
		c.ctrl.Disconnect()
	case "hangup":
		c.ctrl.Hangup()
	case "status":
		st := c.ctrl.State()
		fmt.Fprintf(c.out, "state=%s duration=%s", st.Phase, c.ctrl.CallDuration())
		if st.Error != "" {
			fmt.Fprintf(c.out, " error=%q", st.Error)
		}
		fmt.Fprintln(c.out)
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// printMessage renders one chat history update. Partial streaming lines are
// shown with a trailing ellipsis.
func printMessage(m session.ChatMessage) {
	fmt.Println(formatMessage(m))
}

func formatMessage(m session.ChatMessage) string {
	label := string(m.Kind)
	switch m.Kind {
	case session.KindUser, session.KindUserStreaming:
		label = "you"
	case session.KindAssistant, session.KindAssistantStreaming:
		label = "assistant"
	case session.KindAudio:
		return "[assistant is speaking]"
	case session.KindCallEnded:
		return "[call ended] " + m.Content
	}
	text := fmt.Sprintf("%s %s: %s", m.Timestamp.Format("15:04:05"), label, m.Content)
	if m.Streaming {
		text += " …"
	}
	return text
}
