// Package redis keeps cart and wishlist snapshots in Redis and broadcasts
// key changes between API instances over pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
)

// DefaultChannel carries cart.Change messages.
const DefaultChannel = "storefront:cart-changes"

// Store is a namespaced snapshot store.
type Store struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	channel string
}

// Option configures a Store.
type Option func(*Store)

// WithTTL expires snapshots not written for ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New creates a Store on client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client:  client,
		prefix:  "storefront",
		channel: DefaultChannel,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// Namespace returns the Storage of one session. It satisfies
// cart.StorageFactory.
func (s *Store) Namespace(namespace string) cart.Storage {
	return &namespaced{store: s, namespace: namespace}
}

func (s *Store) key(namespace, key string) string {
	return s.prefix + ":" + namespace + ":" + key
}

type namespaced struct {
	store     *Store
	namespace string
}

func (n *namespaced) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := n.store.client.Get(ctx, n.store.key(n.namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", key, err)
	}
	return data, nil
}

func (n *namespaced) Save(ctx context.Context, key string, data []byte) error {
	if err := n.store.client.Set(ctx, n.store.key(n.namespace, key), data, n.store.ttl).Err(); err != nil {
		return fmt.Errorf("saving %q: %w", key, err)
	}
	return nil
}

func (n *namespaced) Delete(ctx context.Context, key string) error {
	if err := n.store.client.Del(ctx, n.store.key(n.namespace, key)).Err(); err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	return nil
}

var _ cart.Broadcaster = (*Store)(nil)

// Publish announces c to every subscribed instance.
func (s *Store) Publish(ctx context.Context, c cart.Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal change")
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing change of %q: %w", c.Key, err)
	}
	return nil
}

// Subscribe delivers changes published by any instance to handle until ctx
// is done. Malformed messages are logged and skipped.
func (s *Store) Subscribe(ctx context.Context, handle func(ctx context.Context, c cart.Change)) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer func() { _ = sub.Close() }()

	// Wait for the subscription to be confirmed before reading messages.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %q: %w", s.channel, err)
	}

	lg := zctx.From(ctx)
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var c cart.Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				lg.Warn("Skipping malformed cart change", zap.Error(err))
				continue
			}
			handle(ctx, c)
		}
	}
}

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
