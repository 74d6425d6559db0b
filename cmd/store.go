package main

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/risk-engine/internal/config"
	"github.com/sells-group/risk-engine/internal/store"
)

const defaultSQLitePath = "risk.db"

// openStore opens the configured store and applies migrations.
func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch sc.Driver {
	case "", "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{MaxConns: sc.MaxConns, MinConns: sc.MinConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// newRedisClient returns nil when Redis is not configured.
func newRedisClient(rc config.RedisConfig) *goredis.Client {
	if rc.Addr == "" {
		return nil
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
}
