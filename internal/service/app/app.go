package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dm_chat/internal/model"
	"dm_chat/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 10 * time.Second
)

type (
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		host       string
		token      string
		httpClient *http.Client

		userID   string
		userName string

		toID   string
		toName string

		timeline *Timeline

		cancel context.CancelFunc
	}
)

func NewApp(host, token string) *App {
	return &App{
		app:        tview.NewApplication(),
		host:       host,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		timeline:   NewTimeline(),
	}
}

// Run blocks until the UI exits.
func (c *App) Run(ctx context.Context, name string) {
	ctx, c.cancel = context.WithCancel(ctx)
	defer c.cancel()

	if err := c.syncUser(ctx, name); err != nil {
		log.Fatal("sync user failed", zap.Error(err))
	}

	var toName string
	fmt.Print("Enter recipient's name: ")
	_, err := fmt.Scan(&toName) // reads until whitespace
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	peer, err := c.findPeer(ctx, toName)
	if err != nil {
		log.Fatal("cannot find recipient", zap.Error(err))
	}
	c.toID = peer.ID
	c.toName = peer.DisplayName

	go c.listenOnSubscription(ctx)
	c.renderUI()
}

func (c *App) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.app.Stop()
}

// blocking function
func (c *App) renderUI() {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" %s chatting with %s ", c.userName, c.toName))

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			text := c.input.GetText()
			if text == "" {
				return
			}
			c.input.SetText("")

			go func(msg string) {
				if err := c.SendMessage(msg); err != nil {
					log.Error("Send message failed", zap.Error(err))
					c.app.QueueUpdateDraw(func() {
						fmt.Fprintf(c.chatbox, "[red]not sent:[-] %s\n", tview.Escape(err.Error()))
					})
				}
			}(text)
		}
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	if err := c.app.SetRoot(layout, true).SetFocus(c.input).Run(); err != nil {
		log.Fatal("cannot init app", zap.Error(err))
	}
}

// listenOnSubscription keeps a live subscription open, resuming from the last
// cursor after every disconnect. Repeated messages are dropped by the timeline.
func (c *App) listenOnSubscription(ctx context.Context) {
	backoff := minBackoff
	for ctx.Err() == nil {
		err := c.subscribeOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseTryAgainLater {
			log.Info("dropped for falling behind, resubscribing", zap.String("cursor", c.timeline.Cursor()))
			backoff = minBackoff
		} else {
			log.Debug("subscription lost", zap.Error(err), zap.Duration("retry_in", backoff))
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *App) subscribeOnce(ctx context.Context) error {
	conn, err := c.dialSubscription(ctx, c.toID, c.timeline.Cursor())
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var frame model.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}

		if frame.Type == model.FrameError {
			log.Warn("subscription error", zap.String("error", frame.Error))
			continue
		}

		if fresh := c.timeline.ApplyFrame(&frame); len(fresh) > 0 {
			c.redraw()
		}
	}
}

func (c *App) SendMessage(msg string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sent, err := c.postMessage(ctx, c.toID, msg)
	if err != nil {
		return err
	}

	// The push for this message may arrive first or later; the timeline shows it once.
	if fresh := c.timeline.Apply(sent); len(fresh) > 0 {
		c.redraw()
	}
	return nil
}

// redraw repaints the chat box from the timeline, so a reply that lands before the
// sender's own POST returns still shows in timestamp order.
func (c *App) redraw() {
	c.app.QueueUpdateDraw(func() {
		c.chatbox.SetText(formatTimeline(c.timeline.Messages(), c.userID, c.toName))
		c.chatbox.ScrollToEnd()
	})
}

func formatTimeline(msgs []*model.Message, me, peerName string) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.SenderID == me {
			fmt.Fprintf(&b, "[yellow]You:[-] %s\n", tview.Escape(m.Body))
		} else {
			fmt.Fprintf(&b, "[green]%s:[-] %s\n", tview.Escape(peerName), tview.Escape(m.Body))
		}
	}
	return b.String()
}
