package main

import (
	"net/http"
	"os"

	"github.com/bhoriuchi/graphql-go-cable/cable/cableserver"
	"github.com/bhoriuchi/graphql-go-cable/logger"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	addr := flag.String("addr", envOr("CABLE_ADDR", ":3000"), "listen address")
	level := flag.String("log-level", envOr("LOG_LEVEL", "trace"), "log level")
	flag.Parse()

	base := logrus.New()
	if lvl, err := logrus.ParseLevel(*level); err == nil {
		base.SetLevel(lvl)
	}
	logFunc := logger.NewLogrusLogFunc(base)
	l := logger.NewLogWrapper(logFunc, nil)

	l.Infof("Building schema...")
	s, err := buildSchema(l)
	if err != nil {
		l.Errorf("Failed to build schema: %s", err)
		os.Exit(1)
	}

	channel := cableserver.NewGraphQLChannel(cableserver.GraphQLChannelOptions{
		Schema:  *s,
		LogFunc: logFunc,
	})

	mux := http.NewServeMux()
	mux.Handle("/cable", cableserver.New(channel.Config(cableserver.Config{})))
	mux.Handle("/graphql", &httpHandler{schema: *s, log: l.WithField("handler", "http")})

	l.Infof("Listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		l.Errorf("server stopped: %s", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
