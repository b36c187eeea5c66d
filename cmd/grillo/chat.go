package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	input "github.com/tcnksm/go-input"

	"github.com/go-go-golems/grillo/pkg/attachments"
	"github.com/go-go-golems/grillo/pkg/config"
	"github.com/go-go-golems/grillo/pkg/events"
	"github.com/go-go-golems/grillo/pkg/orchestrator"
	"github.com/go-go-golems/grillo/pkg/session"
	"github.com/go-go-golems/grillo/pkg/transport"
	"github.com/go-go-golems/grillo/pkg/versions"
)

func newChatCommand() *cobra.Command {
	var model string
	var imageURL string
	var showEvents bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session against the assistant backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(viper.GetString("config"))
			if err != nil {
				return err
			}
			if settings.BaseURL == "" {
				return errors.New("no base-url configured (set base-url in the config file or GRILLO_BASE_URL)")
			}
			if model != "" {
				settings.Model = model
			}

			return runChat(cmd.Context(), settings, imageURL, showEvents)
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Model override")
	cmd.Flags().StringVar(&imageURL, "image-url", "", "Image URL to send alongside the first message")
	cmd.Flags().BoolVar(&showEvents, "show-events", false, "Print lifecycle events as they are published")

	return cmd
}

func runChat(ctx context.Context, settings *config.Settings, imageURL string, showEvents bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := transport.NewHTTPClient(settings.BaseURL,
		transport.WithTokenProvider(transport.StaticToken(settings.AuthToken)),
	)

	orch := orchestrator.New(client,
		orchestrator.WithMaxAttempts(settings.Retry.MaxAttempts),
		orchestrator.WithInitialBackoff(settings.Retry.InitialBackoff),
	)

	uploads := attachments.NewCoordinator(client,
		attachments.WithWaitTimeout(settings.Upload.WaitTimeout),
		attachments.WithPollInterval(settings.Upload.PollInterval),
	)

	router, err := events.NewEventRouter()
	if err != nil {
		return err
	}
	defer func() {
		if err := router.Close(); err != nil {
			log.Warn().Err(err).Msg("could not close event router")
		}
	}()

	pub := events.NewPublisherManager()
	pub.SubscribePublisher("chat", router.Publisher)

	if showEvents {
		router.AddHandler("print-events", "chat", func(msg *message.Message) error {
			fmt.Printf("event: %s\n", msg.Payload)
			return nil
		})
	}

	routerCtx, cancelRouter := context.WithCancel(ctx)
	defer cancelRouter()
	go func() {
		if err := router.Run(routerCtx); err != nil && !transport.IsCancellation(err) {
			log.Error().Err(err).Msg("event router stopped")
		}
	}()
	<-router.Running()

	manager := session.NewManager(orch, uploads, versions.NewStore(),
		session.WithPublisher(pub),
	)

	return chatLoop(ctx, manager, settings.Model, imageURL)
}

func chatLoop(ctx context.Context, manager *session.Manager, model string, imageURL string) error {
	ui := &input.UI{
		Writer: os.Stdout,
		Reader: os.Stdin,
	}

	fmt.Println("grillo chat. /attach <path>, /regen, /prev, /next, /new, /stop, /quit")

	var pending []*attachments.Attachment
	lastSlot := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := ui.Ask("you", &input.Options{
			Required:  false,
			HideOrder: true,
		})
		if err != nil {
			if errors.Is(err, input.ErrInterrupted) {
				return nil
			}
			return errors.Wrap(err, "could not read input")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return nil

		case line == "/stop":
			if !manager.Stop() {
				fmt.Println("nothing to stop")
			}
			continue

		case line == "/new":
			manager.NewConversation()
			pending = nil
			lastSlot = 0
			fmt.Println("started a new conversation")
			continue

		case line == "/prev" || line == "/next":
			dir := versions.Previous
			if line == "/next" {
				dir = versions.Next
			}
			text, ok := manager.Store().Navigate(manager.ConversationID(), lastSlot, dir)
			if !ok {
				fmt.Println("no other version")
				continue
			}
			fmt.Printf("assistant> %s\n", text)
			continue

		case strings.HasPrefix(line, "/attach "):
			att, err := loadAttachment(strings.TrimSpace(strings.TrimPrefix(line, "/attach ")))
			if err != nil {
				fmt.Printf("attach failed: %s\n", err)
				continue
			}
			pending = append(pending, att)
			fmt.Printf("attached %s (%s)\n", att.Name, att.MimeType)
			continue

		case line == "/regen":
			handle, err := manager.Regenerate(ctx, 0)
			if err != nil {
				fmt.Printf("regenerate failed: %s\n", err)
				continue
			}
			lastSlot = printOutcome(handle.Wait(), lastSlot)
			continue
		}

		handle, err := manager.Send(ctx, session.SendInput{
			Text:        line,
			Model:       model,
			ImageURL:    imageURL,
			Attachments: pending,
		})
		if err != nil {
			fmt.Printf("send failed: %s\n", err)
			continue
		}
		imageURL = ""
		pending = nil

		lastSlot = printOutcome(handle.Wait(), lastSlot)
	}
}

func loadAttachment(path string) (*attachments.Attachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read attachment")
	}

	mimeType := http.DetectContentType(content)
	kind := attachments.KindFile
	if strings.HasPrefix(mimeType, "image/") {
		kind = attachments.KindImage
	}

	return attachments.NewAttachment(kind, filepath.Base(path), mimeType, content), nil
}

// printOutcome renders the terminal outcome and returns the slot whose
// versions /prev and /next should navigate afterwards.
func printOutcome(outcome session.Outcome, lastSlot int) int {
	switch outcome.Status {
	case session.StatusCompleted:
		fmt.Printf("assistant> %s\n", outcome.Text)
		return outcome.Slot
	case session.StatusCancelled:
		fmt.Println("(stopped)")
	case session.StatusFailed:
		fmt.Printf("failed (%s): %s\n", outcome.Kind, outcome.Err)
	}
	return lastSlot
}
