// Package config loads the recognized options of spec.md §6 from the
// process environment, one typed Config struct per external collaborator —
// the pattern original_source/src/integration/{redis,pubsub}.rs use
// (Config::env()), chosen over the teacher's JSON-config-file loader because
// spec §6 pins the configuration surface to flat env vars.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Env is the deployment profile (spec §6: local/dev/stg/prod).
type Env string

const (
	EnvLocal Env = "local"
	EnvDev   Env = "dev"
	EnvStg   Env = "stg"
	EnvProd  Env = "prod"
)

// OAuth carries the OAuth client credentials and token validation
// parameters. The OIDC authorization-code flow itself is out of scope
// (spec §1 Non-goals); only the pieces the Identity Resolver needs are kept.
type OAuth struct {
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	Issuer         string
	Audience       string
	RequiredClaims []string
	TokenTTL       time.Duration
}

// Redis is the cache/KV store endpoint (spec §4.1).
type Redis struct {
	Host string
	Port int
}

func (r Redis) Addr() string { return r.Host + ":" + strconv.Itoa(r.Port) }

// Mongo is the persistence endpoint (spec §4.5, §4.6).
type Mongo struct {
	Host     string
	Port     int
	Database string
}

func (m Mongo) URI() string {
	return "mongodb://" + m.Host + ":" + strconv.Itoa(m.Port)
}

// NATS is the event-bus endpoint (spec §4.2).
type NATS struct {
	Host string
	Port int
}

func (n NATS) URL() string { return "nats://" + n.Host + ":" + strconv.Itoa(n.Port) }

// Config is the full set of recognized options (spec §6 table).
type Config struct {
	OAuth OAuth
	Redis Redis
	Mongo Mongo
	NATS  NATS
	Env   Env

	ListenAddr string
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Load reads the full configuration from the process environment, applying
// the same defaults the corpus's Config::env() helpers use for local
// development (localhost, well-known ports).
func Load() Config {
	ttl := 3600 * time.Second
	if raw := os.Getenv("TOKEN_TTL"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			ttl = time.Duration(secs) * time.Second
		}
	}

	var claims []string
	if raw := os.Getenv("REQUIRED_CLAIMS"); raw != "" {
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				claims = append(claims, c)
			}
		}
	}

	return Config{
		OAuth: OAuth{
			ClientID:       os.Getenv("CLIENT_ID"),
			ClientSecret:   os.Getenv("CLIENT_SECRET"),
			RedirectURL:    os.Getenv("REDIRECT_URL"),
			Issuer:         os.Getenv("ISSUER"),
			Audience:       os.Getenv("AUDIENCE"),
			RequiredClaims: claims,
			TokenTTL:       ttl,
		},
		Redis: Redis{
			Host: env("REDIS_HOST", "127.0.0.1"),
			Port: envInt("REDIS_PORT", 6379),
		},
		Mongo: Mongo{
			Host:     env("MONGO_HOST", "127.0.0.1"),
			Port:     envInt("MONGO_PORT", 27017),
			Database: env("MONGO_DB", "eventfabric"),
		},
		NATS: NATS{
			Host: env("NATS_HOST", "127.0.0.1"),
			Port: envInt("NATS_PORT", 4222),
		},
		Env:        Env(env("ENV", string(EnvLocal))),
		ListenAddr: env("LISTEN_ADDR", ":8080"),
	}
}
