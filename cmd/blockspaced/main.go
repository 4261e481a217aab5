// Command blockspaced is a thin demo host for a workspace.Workspace: it
// exposes block CRUD and snapshot persistence over HTTP, and optionally
// fans a sync session out over a libp2p-pubsub topic. It exists only so
// the core packages have a runnable host, not as an end in itself.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/luvjson/blockspace/storage"
	"github.com/luvjson/blockspace/syncengine"
	"github.com/luvjson/blockspace/transport"
	"github.com/luvjson/blockspace/workspace"

	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	workspaceID := flag.String("workspace", "default", "workspace id")
	storageKind := flag.String("storage", "memory", "storage backend: memory, file, redis")
	dataDir := flag.String("data-dir", "./data", "base directory for the file storage backend")
	redisAddr := flag.String("redis-addr", "localhost:6379", "redis address for the redis storage backend")
	redisPrefix := flag.String("redis-prefix", "blockspace:doc", "redis key prefix for the redis storage backend")
	pubsubTopic := flag.String("pubsub-topic", "", "if set, join this libp2p-pubsub topic and sync over it")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := newLogger(*debug)
	defer log.Sync()

	ws, err := workspace.New(*workspaceID)
	if err != nil {
		log.Fatal("create workspace", zap.Error(err))
	}
	ws.SetLogger(log)

	store, err := newStorageProvider(*storageKind, *dataDir, *redisAddr, *redisPrefix)
	if err != nil {
		log.Fatal("create storage provider", zap.Error(err))
	}

	if snapshot, err := store.Load(context.Background(), ws.ID()); err != nil {
		log.Warn("failed to load persisted snapshot, starting empty", zap.Error(err))
	} else if snapshot != nil {
		log.Info("loaded persisted snapshot", zap.Any("state_vector", snapshot.StateVector))
	}

	srv := NewServer(*addr, ws, store, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *pubsubTopic != "" {
		t, closeFn, err := newPubSubTransport(ctx, *pubsubTopic)
		if err != nil {
			log.Fatal("join pubsub topic", zap.Error(err))
		}
		defer closeFn()
		sess := syncengine.NewSession(ws, log, 0)
		// The pubsub topic is its own relay: publishing an accepted update
		// back onto it reaches every other subscriber, and each peer's own
		// Inbound already filters out its own messages on receipt.
		sess.OnBroadcast(func(frame []byte) {
			if err := t.Outbound(ctx, frame); err != nil {
				log.Warn("broadcast accepted update failed", zap.Error(err))
			}
		})
		go pumpSession(ctx, sess, t, log)
		log.Info("joined pubsub sync topic", zap.String("topic", *pubsubTopic))
	}

	go func() {
		log.Info("http server listening", zap.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil {
			log.Info("http server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", zap.Error(err))
	}
}

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	log, err := cfg.Build()
	if err != nil {
		log = zap.NewNop()
	}
	return log
}

func newStorageProvider(kind, dataDir, redisAddr, redisPrefix string) (storage.Provider, error) {
	switch kind {
	case "file":
		return storage.NewFileProvider(dataDir)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		return storage.NewRedisProvider(client, redisPrefix), nil
	default:
		return storage.NewMemoryProvider(), nil
	}
}

// newPubSubTransport joins a libp2p-pubsub topic on an ephemeral host and
// wraps it as a transport.Session, grounded on crdtserver/pubsub.go's
// broadcaster setup.
func newPubSubTransport(ctx context.Context, topicName string) (transport.Session, func(), error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/0.0.0.0/tcp/0"), libp2p.DisableRelay())
	if err != nil {
		return nil, nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, nil, err
	}
	topic, err := ps.Join(topicName)
	if err != nil {
		h.Close()
		return nil, nil, err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		h.Close()
		return nil, nil, err
	}

	t := transport.NewPubSubSession(h.ID().String(), topic, sub)
	closeFn := func() {
		t.Close()
		h.Close()
	}
	return t, closeFn, nil
}
