package discord

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/stellarlinkco/circlebot/internal/circle"
	"github.com/stellarlinkco/circlebot/internal/membership"
)

const (
	buttonTimeout  = 10 * time.Second
	commandTimeout = 2 * time.Minute
)

// Recacher reloads the directory from the store.
type Recacher interface {
	Recache(ctx context.Context) (int, error)
}

// Router answers interactions. Every failure is logged once with a
// correlation id and turned into an ephemeral reply.
type Router struct {
	session   Session
	buttons   *membership.ButtonHandler
	directory Recacher
	reposter  *Reposter
	creator   *Creator
}

func NewRouter(s Session, buttons *membership.ButtonHandler, directory Recacher, reposter *Reposter, creator *Creator) *Router {
	return &Router{
		session:   s,
		buttons:   buttons,
		directory: directory,
		reposter:  reposter,
		creator:   creator,
	}
}

// Handle dispatches one interaction. Safe to call from many goroutines.
func (r *Router) Handle(ctx context.Context, i *discordgo.Interaction) {
	if i == nil || i.Data == nil {
		return
	}
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		r.handleButton(ctx, i)
	case discordgo.InteractionApplicationCommand:
		r.handleCommand(ctx, i)
	}
}

func (r *Router) handleButton(ctx context.Context, i *discordgo.Interaction) {
	customID := i.MessageComponentData().CustomID
	if !strings.HasPrefix(customID, circle.CustomIDPrefix) {
		return
	}
	corr := uuid.NewString()
	user := interactionUser(i)

	bctx, cancel := context.WithTimeout(ctx, buttonTimeout)
	defer cancel()

	reply, err := r.buttons.Handle(bctx, user, customID)
	if err != nil {
		log.Printf("[discord] %s button %q by %s failed: %v", corr, customID, user, err)
		reply = circle.UserMessage(err)
	}
	r.respond(ctx, i, reply)
}

func (r *Router) handleCommand(ctx context.Context, i *discordgo.Interaction) {
	data := i.ApplicationCommandData()
	corr := uuid.NewString()
	log.Printf("[discord] %s /%s by %s", corr, data.Name, interactionUser(i))

	if data.Name == CommandBeep {
		r.respond(ctx, i, "🤖 boop! 🤖")
		return
	}

	if err := r.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx)); err != nil {
		log.Printf("[discord] %s defer /%s failed: %v", corr, data.Name, err)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	reply, err := r.runCommand(cctx, data)
	if err != nil {
		log.Printf("[discord] %s /%s failed: %v", corr, data.Name, err)
		reply = circle.UserMessage(err)
	}
	if _, err := r.session.InteractionResponseEdit(i, &discordgo.WebhookEdit{Content: &reply}, discordgo.WithContext(ctx)); err != nil {
		log.Printf("[discord] %s reply to /%s failed: %v", corr, data.Name, err)
	}
}

func (r *Router) runCommand(ctx context.Context, data discordgo.ApplicationCommandInteractionData) (string, error) {
	switch data.Name {
	case CommandRecache:
		n, err := r.directory.Recache(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Recached %d circles", n), nil

	case CommandCircle:
		if len(data.Options) == 0 || data.Options[0] == nil {
			return "No subcommand provided", nil
		}
		sub := data.Options[0]
		switch sub.Name {
		case SubcommandAdd:
			c, err := r.creator.Create(ctx, createRequest(options(sub.Options)))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Circle added: %s <#%s>", c.RoleName(), c.Channel), nil
		case SubcommandRepost:
			n, err := r.reposter.Repost(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Done! Posted %d circles", n), nil
		default:
			return "Invalid subcommand provided", nil
		}

	default:
		return "Unknown command", nil
	}
}

func (r *Router) respond(ctx context.Context, i *discordgo.Interaction, content string) {
	err := r.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		log.Printf("[discord] respond to interaction %s failed: %v", i.ID, err)
	}
}

func interactionUser(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
