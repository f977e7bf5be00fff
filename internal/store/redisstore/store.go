// Package redisstore carries the chat server's cross-instance concerns: agent
// presence keys and pub/sub fanout of room events.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/soletrade/livechat/internal/chatwire"
)

const (
	eventsChannel  = "livechat:events"
	presenceKeyFmt = "livechat:agent:%s:online"
	presenceTTL    = 60 * time.Second
	publishTimeout = 2 * time.Second
)

type Store struct {
	rdb *redis.Client

	// instanceID filters out our own fanout messages on the way back in.
	instanceID string
}

func New(addr, password string, db int) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		instanceID: uuid.NewString(),
	}
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// SetAgentOnline refreshes the agent's presence key. Call it on join and on
// every heartbeat; the key expires on its own when the agent drops.
func (s *Store) SetAgentOnline(ctx context.Context, agentID string) error {
	key := fmt.Sprintf(presenceKeyFmt, agentID)
	return s.rdb.Set(ctx, key, time.Now().Unix(), presenceTTL).Err()
}

func (s *Store) IsAgentOnline(ctx context.Context, agentID string) (bool, error) {
	key := fmt.Sprintf(presenceKeyFmt, agentID)
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type fanoutMsg struct {
	Origin         string            `json:"origin"`
	ConversationID string            `json:"conversation_id"`
	Envelope       chatwire.Envelope `json:"envelope"`
}

// Publish sends a room event to every other server instance. Implements
// realtime.Fanout; errors are logged, not propagated, because local delivery
// already happened.
func (s *Store) Publish(conversationID string, env chatwire.Envelope) {
	body, err := json.Marshal(fanoutMsg{
		Origin:         s.instanceID,
		ConversationID: conversationID,
		Envelope:       env,
	})
	if err != nil {
		log.Printf("redisstore: marshal fanout: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.rdb.Publish(ctx, eventsChannel, body).Err(); err != nil {
		log.Printf("redisstore: publish fanout: %v", err)
	}
}

// Subscribe delivers fanout events from other instances to handle until ctx
// is cancelled. Events this instance published are skipped.
func (s *Store) Subscribe(ctx context.Context, handle func(conversationID string, env chatwire.Envelope)) {
	sub := s.rdb.Subscribe(ctx, eventsChannel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var fm fanoutMsg
				if err := json.Unmarshal([]byte(msg.Payload), &fm); err != nil {
					log.Printf("redisstore: bad fanout payload: %v", err)
					continue
				}
				if fm.Origin == s.instanceID {
					continue
				}
				handle(fm.ConversationID, fm.Envelope)
			}
		}
	}()
}
