package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"chatsync/internal/localstore"
	"chatsync/internal/models"
	"chatsync/internal/remote"
)

// pusherGroup owns one serial pusher goroutine per chat. A chat's operations
// are delivered strictly in outbox order; a failing operation blocks later
// operations for that chat only.
type pusherGroup struct {
	engine *Engine

	mu      sync.Mutex
	pushers map[string]*chatPusher
	stopped bool
	wg      sync.WaitGroup
}

type chatPusher struct {
	chatID string
	wake   chan struct{}
	stop   chan struct{}
}

func newPusherGroup(engine *Engine) *pusherGroup {
	return &pusherGroup{
		engine:  engine,
		pushers: make(map[string]*chatPusher),
	}
}

// kick ensures a pusher is running for the chat and signals new work.
func (g *pusherGroup) kick(chatID string) {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	p, ok := g.pushers[chatID]
	if !ok {
		p = &chatPusher{
			chatID: chatID,
			wake:   make(chan struct{}, 1),
			stop:   make(chan struct{}),
		}
		g.pushers[chatID] = p
		g.wg.Add(1)
		go g.run(p)
	}
	g.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (g *pusherGroup) stopAll() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	for _, p := range g.pushers {
		close(p.stop)
	}
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *pusherGroup) run(p *chatPusher) {
	defer g.wg.Done()
	for {
		op, err := g.engine.store.NextOperation(p.chatID)
		if err != nil {
			log.Printf("sync: read outbox for %s: %v", p.chatID, err)
			op = nil
		}
		if op == nil {
			select {
			case <-p.stop:
				return
			case <-p.wake:
				continue
			}
		}

		err = g.engine.apply(*op)
		switch {
		case err == nil:
			debugLog("[pusher] delivered %s for %s", op.Kind, p.chatID)
			if err := g.engine.store.CompleteOperation(op.ID); err != nil {
				log.Printf("sync: complete operation: %v", err)
			}
		case isPermanent(err):
			// The remote store will never accept this payload; keeping it
			// would wedge the chat's queue.
			log.Printf("sync: dropping %s for %s: %v", op.Kind, p.chatID, err)
			if err := g.engine.store.CompleteOperation(op.ID); err != nil {
				log.Printf("sync: complete operation: %v", err)
			}
		default:
			log.Printf("sync: push %s for %s failed (attempt %d): %v", op.Kind, p.chatID, op.Attempts+1, err)
			if err := g.engine.store.FailOperation(op.ID); err != nil {
				log.Printf("sync: record failed attempt: %v", err)
			}
			select {
			case <-p.stop:
				return
			case <-timeAfter(g.engine.retryInterval):
			}
		}
	}
}

func isPermanent(err error) bool {
	var statusErr *remote.StatusError
	if errors.As(err, &statusErr) {
		return !statusErr.Retryable()
	}
	return false
}

// apply delivers a single outbox operation to the remote store. Pushes run
// on a background context: switching chats or shutting down the UI must not
// cancel an in-flight delivery.
func (e *Engine) apply(op localstore.Operation) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.pushTimeout)
	defer cancel()

	switch op.Kind {
	case localstore.OpMessageCreate:
		var msg models.Message
		if err := json.Unmarshal(op.Payload, &msg); err != nil {
			return fmt.Errorf("decode message payload: %w", err)
		}
		_, err := e.remote.CreateMessage(ctx, op.ChatID, msg)
		return err
	case localstore.OpMessageUpdate:
		var msg models.Message
		if err := json.Unmarshal(op.Payload, &msg); err != nil {
			return fmt.Errorf("decode message payload: %w", err)
		}
		_, err := e.remote.UpdateMessage(ctx, op.ChatID, op.MessageID, msg)
		return err
	case localstore.OpMessageDelete:
		return e.remote.DeleteMessage(ctx, op.ChatID, op.MessageID)
	case localstore.OpHistoryUpsert:
		var rec models.ChatHistoryRecord
		if err := json.Unmarshal(op.Payload, &rec); err != nil {
			return fmt.Errorf("decode history payload: %w", err)
		}
		_, err := e.remote.UpsertChatHistory(ctx, rec)
		return err
	case localstore.OpHistoryDelete:
		return e.remote.DeleteChatHistory(ctx, op.ChatID)
	default:
		return fmt.Errorf("unknown outbox operation %q", op.Kind)
	}
}
