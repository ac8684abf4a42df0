// Package node wires configuration, logging, the exchange clients and the
// storage backends together for the command line tools.
package node

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/xyths/cryptoexchange/exchange"
	"github.com/xyths/cryptoexchange/exchange/api796"
	"github.com/xyths/cryptoexchange/exchange/bitmex"
	"github.com/xyths/cryptoexchange/journal"
	"github.com/xyths/cryptoexchange/signer"
	"github.com/xyths/cryptoexchange/snapshot"
	"github.com/xyths/hs"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type Node struct {
	config Config

	Sugar  *zap.SugaredLogger
	Bitmex *bitmex.Client

	mg      *mongo.Client
	rdb     *redis.Client
	gormDB  *gorm.DB
	journal journal.Recorder
	nonces  *signer.NonceSource
	now     func() time.Time
}

func New(cfg Config) *Node {
	return &Node{
		config:  cfg,
		journal: journal.Nop{},
		nonces:  signer.NewNonceSource(nil),
		now:     time.Now,
	}
}

// Init builds the logger and the bitmex client. Storage is connected lazily
// by the commands that need it.
func (n *Node) Init(ctx context.Context) error {
	l, err := hs.NewZapLogger(n.config.Log)
	if err != nil {
		return err
	}
	n.Sugar = l.Sugar()
	n.Sugar.Info("Logger initialized")

	cfg, err := n.config.Bitmex.ClientConfig()
	if err != nil {
		return err
	}
	n.Bitmex, err = bitmex.New(cfg, nil, n.Sugar.Named("bitmex"))
	if err != nil {
		return err
	}
	n.Sugar.Infow("bitmex client initialized", "host", n.Bitmex.Host(), "label", n.config.Bitmex.Label)
	return nil
}

// InitJournal connects the configured order journals. Without mongo or
// redis configured events are dropped.
func (n *Node) InitJournal(ctx context.Context) error {
	var recorders []journal.Recorder
	if n.config.Mongo.URI != "" {
		if err := n.initMongo(ctx); err != nil {
			return err
		}
		r := journal.NewMongoRecorder(n.mg.Database(n.config.Mongo.Database), n.config.Mongo.Collection)
		if err := r.EnsureIndex(ctx); err != nil {
			return err
		}
		recorders = append(recorders, r)
	}
	if n.config.Redis.Addr != "" {
		if err := n.initRedis(ctx); err != nil {
			return err
		}
		recorders = append(recorders, journal.NewRedisPublisher(n.rdb, n.config.Redis.Channel))
	}
	if len(recorders) > 0 {
		n.journal = journal.Multi{Sugar: n.Sugar, Recorders: recorders}
		n.Sugar.Infow("order journal initialized", "recorders", len(recorders))
	}
	return nil
}

func (n *Node) initMongo(ctx context.Context) error {
	clientOpts := options.Client().ApplyURI(n.config.Mongo.URI)
	if n.config.Mongo.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(n.config.Mongo.MaxPoolSize)
	}
	if n.config.Mongo.MinPoolSize > 0 {
		clientOpts.SetMinPoolSize(n.config.Mongo.MinPoolSize)
	}
	if n.config.Mongo.AppName != "" {
		clientOpts.SetAppName(n.config.Mongo.AppName)
	}
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return errors.Wrap(err, "connect to mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return errors.Wrap(err, "ping mongo")
	}
	n.mg = client
	return nil
}

func (n *Node) initRedis(ctx context.Context) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     n.config.Redis.Addr,
		Password: n.config.Redis.Password,
		DB:       n.config.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return errors.Wrap(err, "ping redis")
	}
	n.rdb = rdb
	return nil
}

func (n *Node) initMySQL() error {
	if n.gormDB != nil {
		return nil
	}
	if n.config.MySQL.URI == "" {
		return exchange.ConfigurationError("mysql.uri is required")
	}
	db, err := snapshot.Open("mysql", n.config.MySQL.URI)
	if err != nil {
		return err
	}
	n.gormDB = db
	return nil
}

func (n *Node) Close(ctx context.Context) {
	if n.mg != nil {
		if err := n.mg.Disconnect(ctx); err != nil {
			n.Sugar.Errorf("disconnect mongo error: %s", err)
		}
	}
	if n.rdb != nil {
		if err := n.rdb.Close(); err != nil {
			n.Sugar.Errorf("close redis error: %s", err)
		}
	}
	if n.gormDB != nil {
		if err := n.gormDB.Close(); err != nil {
			n.Sugar.Errorf("close mysql error: %s", err)
		}
	}
	if n.Sugar != nil {
		_ = n.Sugar.Sync()
	}
}

// Login authenticates with login/password when no api key is configured.
func (n *Node) Login(ctx context.Context) error {
	if n.Bitmex.Authenticated() {
		return nil
	}
	return n.Bitmex.Authenticate(ctx)
}

func (n *Node) PlaceOrder(ctx context.Context, symbol string, quantity int64, price decimal.Decimal) (*bitmex.Order, error) {
	if err := n.Login(ctx); err != nil {
		return nil, err
	}
	o, err := n.Bitmex.PlaceOrder(ctx, symbol, quantity, price)
	if err != nil {
		return nil, err
	}
	n.record(ctx, journal.ActionPlace, *o)
	return o, nil
}

func (n *Node) OpenOrders(ctx context.Context, symbol string) ([]bitmex.Order, error) {
	if err := n.Login(ctx); err != nil {
		return nil, err
	}
	return n.Bitmex.OpenOrders(ctx, symbol)
}

func (n *Node) Cancel(ctx context.Context, orderID string) ([]bitmex.Order, error) {
	if err := n.Login(ctx); err != nil {
		return nil, err
	}
	orders, err := n.Bitmex.Cancel(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		n.record(ctx, journal.ActionCancel, o)
	}
	return orders, nil
}

func (n *Node) Positions(ctx context.Context) ([]bitmex.Position, error) {
	if err := n.Login(ctx); err != nil {
		return nil, err
	}
	return n.Bitmex.Positions(ctx)
}

// SnapshotPositions stores the current positions in mysql and returns them.
func (n *Node) SnapshotPositions(ctx context.Context) ([]snapshot.Position, error) {
	if err := n.initMySQL(); err != nil {
		return nil, err
	}
	positions, err := n.Positions(ctx)
	if err != nil {
		return nil, err
	}
	rows := snapshot.FromBitmex(n.config.Bitmex.Label, positions, n.now())
	if err := snapshot.NewStore(n.gormDB, n.Sugar).Save(rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// LatestSnapshot returns the most recent stored positions of the configured label.
func (n *Node) LatestSnapshot() ([]snapshot.Position, error) {
	if err := n.initMySQL(); err != nil {
		return nil, err
	}
	return snapshot.NewStore(n.gormDB, n.Sugar).Latest(n.config.Bitmex.Label)
}

// record journals an order event. Journal failures never fail the order.
func (n *Node) record(ctx context.Context, action journal.Action, o bitmex.Order) {
	e := journal.OrderEvent(n.config.Bitmex.Label, action, o, n.now())
	if err := n.journal.Record(ctx, e); err != nil {
		n.Sugar.Errorw("journal order event", "action", action, "orderID", o.OrderID, "error", err)
	}
}

func (n *Node) credentials() exchange.Credentials {
	return exchange.Credentials{APIKey: n.config.Bitmex.Key, APISecret: n.config.Bitmex.Secret}
}

// RealtimeAuthURL returns the realtime url authenticated by query string.
func (n *Node) RealtimeAuthURL() (string, error) {
	return bitmex.AuthQueryURL(n.config.Bitmex.RealtimeURL(), n.credentials(), n.nonces.Next())
}

// RealtimeAuth connects to the realtime api and authenticates with authKey.
func (n *Node) RealtimeAuth() (json.RawMessage, error) {
	rt, err := bitmex.DialRealtime(n.config.Bitmex.RealtimeURL(), n.credentials(), n.nonces, n.Sugar.Named("realtime"))
	if err != nil {
		return nil, err
	}
	defer rt.Close()
	return rt.Authenticate()
}

func (n *Node) API796() (*api796.Client, error) {
	cfg, err := n.config.API796.ClientConfig()
	if err != nil {
		return nil, err
	}
	return api796.New(cfg, nil, n.Sugar.Named("796"))
}
