// Package client assembles the device-side stack: local store, sync engine,
// remote client and the chat managers, wired together from configuration.
package client

import (
	"context"
	"fmt"
	"log"

	"chatsync/internal/chat"
	"chatsync/internal/config"
	"chatsync/internal/localstore"
	"chatsync/internal/models"
	"chatsync/internal/remote"
	"chatsync/internal/syncer"
	"chatsync/internal/title"
)

// Client is a fully wired device-side sync stack.
type Client struct {
	Store     *localstore.Store
	Engine    *syncer.Engine
	Histories *chat.HistoryManager
	Messages  *chat.MessageManager

	events models.HistoryEventChan
}

// New builds a client from configuration. Title generation is optional: a
// missing provider or a failing model init only disables titles, the rest of
// the stack still works.
func New(ctx context.Context, cfg *config.Config) (*Client, error) {
	store, err := localstore.Open(cfg.BasicConfig.LocalStorePath)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	remoteClient := remote.NewClient(cfg.BasicConfig.RemoteBaseURL, cfg.RequestTimeout())
	engine := syncer.NewEngine(store, remoteClient, syncer.Options{
		RetryInterval: cfg.RetryInterval(),
		PushTimeout:   cfg.RequestTimeout(),
	})

	var titles chat.TitleGenerator
	if provider := cfg.BasicConfig.TitleProvider; provider != "" {
		generator, err := title.NewGenerator(ctx, cfg, provider)
		if err != nil {
			log.Printf("client: title generation disabled: %v", err)
		} else {
			titles = generator
		}
	}

	histories := chat.NewHistoryManager(store, titles, engine)
	messages := chat.NewMessageManager(store, engine, histories, cfg.Sync.MessageWindow)

	// History mutations flow to the remote store through the event channel.
	events := histories.Subscribe()
	engine.ObserveHistory(events)

	return &Client{
		Store:     store,
		Engine:    engine,
		Histories: histories,
		Messages:  messages,
		events:    events,
	}, nil
}

// Close stops the pushers and releases the local store. Queued operations
// stay in the outbox for the next run.
func (c *Client) Close() error {
	c.Histories.Unsubscribe(c.events)
	c.Engine.Close()
	return c.Store.Close()
}
