package notify

import (
	"fmt"
	"log/slog"

	"github.com/angeloszaimis/fleet-watcher/config"
	"github.com/angeloszaimis/fleet-watcher/internal/models"
)

// FromConfig builds a dispatcher with one channel per enabled entry.
// Chat channels are also returned so the caller can run their connections.
func FromConfig(cfg config.NotifyConfig, status StatusReporter, log *slog.Logger, opts ...Option) (*Dispatcher, []*Chat, error) {
	d := NewDispatcher(cfg.Footer, log, opts...)
	var chats []*Chat

	for _, cc := range cfg.Channels {
		if !cc.Enabled {
			log.Info("Notification channel disabled", slog.String("channel", cc.Name))
			continue
		}

		var ch Channel
		switch cc.Kind {
		case config.ChannelEmail:
			email, err := NewEmail(cc.Name, cc.SMTP, cc.Recipients)
			if err != nil {
				return nil, nil, fmt.Errorf("channel %s: %w", cc.Name, err)
			}
			ch = email
		case config.ChannelSMS:
			ch = NewSMS(cc.Name, cc.SMS, cc.Recipients)
		case config.ChannelChat:
			chat := NewChat(cc.Name, cc.Chat.URL, cc.Chat.Token, cc.Recipients, status, log)
			chats = append(chats, chat)
			ch = chat
		default:
			return nil, nil, fmt.Errorf("channel %s: unknown kind %q", cc.Name, cc.Kind)
		}

		if err := d.Register(ch, bindingFor(cc)); err != nil {
			return nil, nil, err
		}
	}

	return d, chats, nil
}

func bindingFor(cc config.ChannelConfig) Binding {
	events := make([]models.EventKind, 0, len(cc.Events))
	for _, e := range cc.Events {
		events = append(events, models.EventKind(e))
	}
	return Binding{
		Enabled:  cc.Enabled,
		Events:   events,
		Servers:  cc.Servers,
		Subject:  cc.Subject,
		Template: cc.Template,
	}
}
