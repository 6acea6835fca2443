package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/benwis/bmail/internal/anchor"
	"github.com/benwis/bmail/internal/bmail"
	"github.com/benwis/bmail/internal/cache"
	"github.com/benwis/bmail/internal/config"
	"github.com/benwis/bmail/internal/directory"
	"github.com/benwis/bmail/internal/envelope"
	"github.com/benwis/bmail/internal/firehose"
	"github.com/benwis/bmail/internal/keystore"
	"github.com/benwis/bmail/internal/xrpc"
)

// App is the application layer between the CLI and the Engine. It constructs
// all dependencies from config, logs in to the PDS, and manages the key
// cache and log file lifecycle on Close.
type App struct {
	cfg      *config.Config
	keys     *keystore.FileStore
	cache    bmail.KeyCache
	client   *xrpc.Client
	engine   *bmail.Engine
	consumer *firehose.Consumer
	anchors  *anchor.Correlator
	logger   bmail.Logger
	logFile  *os.File
}

// NewApp creates a fully wired App from the given config. passphrase unlocks
// the key file when the config marks it protected; pass "" otherwise.
// operation identifies the CLI command being run (e.g. "Send", "Watch").
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, passphrase, operation string) (*App, error) {
	keys := keystore.NewFileStore(cfg.Key.Path, passphrase)
	if err := keys.LoadOrCreate(); err != nil {
		return nil, fmt.Errorf("loading key file: %w", err)
	}

	keyCache, err := cache.NewKeyCacheFromConfig(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("creating key cache: %w", err)
	}

	sessionID := fmt.Sprintf("%s-%s", operation, time.Now().UTC().Format("20060102T150405Z"))
	slogger, logFile, err := newLogger(cfg.LogDir, sessionID)
	if err != nil {
		keyCache.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	client := xrpc.NewClient(cfg.Service.PDSURL)
	if err := client.Login(ctx, cfg.User.Handle, cfg.User.AppPassword); err != nil {
		keyCache.Close()
		logFile.Close()
		return nil, fmt.Errorf("logging in as %s: %w", cfg.User.Handle, err)
	}
	local := client.Session()
	if cfg.User.DID != "" && cfg.User.DID != local.DID {
		keyCache.Close()
		logFile.Close()
		return nil, fmt.Errorf("configured DID %s does not match session DID %s", cfg.User.DID, local.DID)
	}

	env := envelope.NewAgeEnvelope(keys)
	ttl := time.Duration(cfg.Cache.TTLMinutes) * time.Minute
	dir := directory.NewProfileDirectory(client, keyCache, bmail.RealClock{}, logger, ttl)
	engine := bmail.NewEngine(local, keys, env, dir, client, logger, bmail.RealClock{})
	anchors := anchor.NewCorrelator(client, local, bmail.RealClock{}, bmail.UUIDGenerator{}, logger)

	consumer := firehose.NewConsumer(cfg.Service.FirehoseURL, local, logger)
	consumer.OnMessage = engine.HandleLive
	consumer.OnLike = func(author bmail.Identity, record json.RawMessage) {
		key, err := anchors.Correlate(record)
		if err != nil {
			return
		}
		logger.Info("conversation has new activity", "conversation", key, "from", author.String())
	}

	return &App{
		cfg:      cfg,
		keys:     keys,
		cache:    keyCache,
		client:   client,
		engine:   engine,
		consumer: consumer,
		anchors:  anchors,
		logger:   logger,
		logFile:  logFile,
	}, nil
}

// Engine returns the wired conversation engine.
func (a *App) Engine() *bmail.Engine { return a.engine }

// Local returns the logged-in identity.
func (a *App) Local() bmail.Identity { return a.engine.Local() }

// PublicKey returns the local public key.
func (a *App) PublicKey() string { return a.keys.PublicKey() }

// Resolve maps a handle or DID string to a full identity.
func (a *App) Resolve(ctx context.Context, actor string) (bmail.Identity, error) {
	profile, err := a.client.GetProfile(ctx, actor)
	if err != nil {
		return bmail.Identity{}, fmt.Errorf("resolving %s: %w", actor, err)
	}
	return bmail.Identity{Handle: profile.Handle, DID: profile.DID}, nil
}

// Send resolves each recipient, encrypts plaintext for the set, publishes
// the message, and pokes each recipient's anchor so their watcher notices.
func (a *App) Send(ctx context.Context, plaintext string, recipientActors []string) error {
	recipients := make([]bmail.Identity, 0, len(recipientActors))
	for _, actor := range recipientActors {
		id, err := a.Resolve(ctx, actor)
		if err != nil {
			return err
		}
		recipients = append(recipients, id)
	}

	if err := a.engine.Send(ctx, plaintext, recipients); err != nil {
		return err
	}

	participants := append(bmail.Participants{a.Local()}, recipients...)
	key := bmail.ConversationKey(participants)
	for _, rcpt := range recipients {
		if err := a.anchors.MarkConversationActive(ctx, rcpt, key); err != nil {
			// The message is already published; the signal is best-effort.
			a.logger.Warn("could not mark conversation active", "recipient", rcpt.String(), "error", err)
		}
	}
	return nil
}

// Read rebuilds and returns the transcript for a conversation with the
// given counterparts.
func (a *App) Read(ctx context.Context, counterpartActors []string) (*bmail.Transcript, error) {
	participants := bmail.Participants{a.Local()}
	for _, actor := range counterpartActors {
		id, err := a.Resolve(ctx, actor)
		if err != nil {
			return nil, err
		}
		participants = append(participants, id)
	}
	return a.engine.OpenConversation(ctx, participants)
}

// Watch follows the firehose until the context is cancelled, invoking fn for
// every message that decrypts for the local identity.
func (a *App) Watch(ctx context.Context, fn bmail.LiveCallback) error {
	a.engine.OnLiveMessage(fn)
	return a.consumer.Run(ctx)
}

// RotateKey generates a fresh key pair and republishes the public half.
func (a *App) RotateKey(ctx context.Context) (string, error) {
	return a.engine.RotateKey(ctx)
}

// PublishKey writes the current public key to the profile record and makes
// sure the notification anchor exists.
func (a *App) PublishKey(ctx context.Context) error {
	if err := a.engine.PublishKey(ctx); err != nil {
		return err
	}
	if _, err := a.anchors.EnsureAnchor(ctx); err != nil {
		return err
	}
	return nil
}

// Close releases the key cache and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.cache.Close(); err != nil {
		firstErr = fmt.Errorf("closing key cache: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
