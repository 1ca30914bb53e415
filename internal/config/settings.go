package config

import (
	"fmt"
	"log/slog"

	"github.com/roach88/sqlstream/internal/notify"
	"github.com/roach88/sqlstream/internal/scripts"
	"github.com/roach88/sqlstream/internal/store"
)

// StoreSettings converts c into store settings. c should be validated first.
func (c Config) StoreSettings(logger *slog.Logger) (store.Settings, error) {
	dialect, err := scripts.ParseDialect(c.Dialect)
	if err != nil {
		return store.Settings{}, err
	}
	factory, err := c.NotifierFactory()
	if err != nil {
		return store.Settings{}, err
	}
	return store.Settings{
		Dialect:          dialect,
		ConnectionString: c.ConnectionString,
		Schema:           c.Schema,
		CommandTimeout:   c.CommandTimeout,
		NotifierFactory:  factory,
		Logger:           logger,
	}, nil
}

// NotifierFactory returns the factory selected by Notifier.Kind. The none
// kind yields nil, which makes subscriptions fail with NotifierUnavailable.
func (c Config) NotifierFactory() (store.NotifierFactory, error) {
	switch c.Notifier.Kind {
	case NotifierNone:
		return nil, nil
	case NotifierInProcess, "":
		return notify.InProcess(), nil
	case NotifierPoll:
		return notify.Polling(c.Notifier.PollInterval), nil
	case NotifierWatch:
		return notify.WatchFile("", 10*c.Notifier.PollInterval), nil
	case NotifierListen:
		return notify.Listen(), nil
	default:
		return nil, fmt.Errorf("unknown notifier kind %q", c.Notifier.Kind)
	}
}
