package session

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/small-frappuccino/kokobot/pkg/errutil"
	"github.com/small-frappuccino/kokobot/pkg/log"
)

// Error messages
const (
	ErrSessionCreationFailed   = "failed to create Discord session: %w"
	ErrSessionConnectionFailed = "failed to connect to Discord: %w"
)

// Intents are the gateway intents the bot subscribes to: guild structure,
// members for the roster and roles, messages with content for commands and
// note lookups, and reactions for interactive messages.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentMessageContent

var (
	newSession   = discordgo.New
	openSession  = func(s *discordgo.Session) error { return s.Open() }
	closeSession = func(s *discordgo.Session) error { return s.Close() }
)

// NewDiscordSession creates, configures and opens a gateway session.
// Events are delivered synchronously so the event bridge sees them in
// gateway order; the bridge hands work off to the task router.
func NewDiscordSession(token string) (*discordgo.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		log.ErrorLoggerRaw().Error("Discord bot token is empty; set KOKOBOT_TOKEN")
		return nil, fmt.Errorf("discord bot token is empty")
	}

	var s *discordgo.Session
	if err := errutil.HandleDiscordError("create_session", func() error {
		var err error
		s, err = newSession("Bot " + token)
		return err
	}); err != nil {
		return nil, fmt.Errorf(ErrSessionCreationFailed, err)
	}

	s.Identify.Intents = Intents
	s.SyncEvents = true
	s.StateEnabled = true
	s.ShouldReconnectOnError = true

	log.DiscordLogger().Info("Connecting to Discord")
	if err := errutil.HandleDiscordError("connect", func() error {
		return openSession(s)
	}); err != nil {
		if cerr := closeSession(s); cerr != nil {
			log.DiscordLogger().Warn("Failed to close session after connect error", "err", cerr)
		}
		return nil, fmt.Errorf(ErrSessionConnectionFailed, err)
	}

	log.DiscordLogger().Info("Connected to Discord")
	return s, nil
}
