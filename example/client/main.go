package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	cablelink "github.com/bhoriuchi/graphql-go-cable"
	"github.com/bhoriuchi/graphql-go-cable/cable"
	"github.com/bhoriuchi/graphql-go-cable/gqlclient"
	"github.com/bhoriuchi/graphql-go-cable/logger"
	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	cableURL := flag.String("cable-url", envOr("CABLE_URL", "ws://localhost:3000/cable"), "ActionCable endpoint")
	httpURL := flag.String("http-url", envOr("GRAPHQL_URL", "http://localhost:3000/graphql"), "GraphQL HTTP endpoint")
	query := flag.StringP("query", "q", `subscription { watch(iterations: 5) }`, "GraphQL document")
	variables := flag.String("variables", "", "variables as a JSON object")
	operationName := flag.String("operation-name", "", "operation to run")
	operationID := flag.String("operation-id", "", "persisted operation id")
	token := flag.String("token", os.Getenv("CABLE_TOKEN"), "sent as the token subscription param and bearer header")
	allCable := flag.Bool("all-cable", false, "send queries and mutations over the cable too")
	level := flag.String("log-level", envOr("LOG_LEVEL", "info"), "log level")
	flag.Parse()

	base := logrus.New()
	if lvl, err := logrus.ParseLevel(*level); err == nil {
		base.SetLevel(lvl)
	}
	logFunc := logger.NewLogrusLogFunc(base)
	l := logger.NewLogWrapper(logFunc, nil)

	if err := run(l, logFunc, config{
		cableURL:      *cableURL,
		httpURL:       *httpURL,
		query:         *query,
		variables:     *variables,
		operationName: *operationName,
		operationID:   *operationID,
		token:         *token,
		allCable:      *allCable,
	}); err != nil {
		l.Errorf("%s", err)
		os.Exit(1)
	}
}

type config struct {
	cableURL      string
	httpURL       string
	query         string
	variables     string
	operationName string
	operationID   string
	token         string
	allCable      bool
}

func run(l *logger.LogWrapper, logFunc logger.LogFunc, cfg config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	request := gqlclient.Request{
		Query:         cfg.query,
		OperationName: cfg.operationName,
		OperationID:   cfg.operationID,
	}
	if cfg.variables != "" {
		if err := json.Unmarshal([]byte(cfg.variables), &request.Variables); err != nil {
			return fmt.Errorf("invalid variables: %s", err)
		}
	}

	consumerOpts := []cable.Option{cable.WithLogFunc(logFunc)}
	linkOpts := []cablelink.Option{
		cablelink.WithLogFunc(logFunc),
		cablelink.WithOnConnected(func(reconnected bool) {
			l.WithField("reconnected", reconnected).Infof("operation connected")
		}),
		cablelink.WithOnDisconnected(func() {
			l.Warnf("operation disconnected")
		}),
	}
	var before []gqlclient.BeforeFunc

	if cfg.token != "" {
		consumerOpts = append(consumerOpts, cable.WithHeader(http.Header{
			"Authorization": {"Bearer " + cfg.token},
		}))
		linkOpts = append(linkOpts, cablelink.WithConnectionParams(map[string]interface{}{
			"token": cfg.token,
		}))
		before = append(before, func(r *http.Request) error {
			r.Header.Set("Authorization", "Bearer "+cfg.token)
			return nil
		})
	}

	consumer, err := cable.NewConsumer(cfg.cableURL, consumerOpts...)
	if err != nil {
		return err
	}
	defer consumer.Close()

	var link gqlclient.Link = cablelink.New(consumer, linkOpts...)
	if !cfg.allCable {
		link = gqlclient.Split(gqlclient.IsSubscription, link, gqlclient.NewHTTPLink(&gqlclient.HTTPLinkOptions{
			URL:     cfg.httpURL,
			Before:  before,
			LogFunc: logFunc,
		}))
	}

	client, err := gqlclient.NewClient(&gqlclient.Options{Link: link, LogFunc: logFunc})
	if err != nil {
		return err
	}

	finished := make(chan error, 1)
	sub, err := client.Subscribe(ctx, request, gqlclient.Observer{
		Next: func(result *gqlclient.Result) {
			b, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				l.WithError(err).Errorf("failed to encode result")
				return
			}
			fmt.Println(string(b))
		},
		Error: func(err error) {
			finished <- err
		},
		Complete: func() {
			l.Debugf("operation complete")
			finished <- nil
		},
	})
	if err != nil {
		return err
	}

	select {
	case err := <-finished:
		return err
	case <-ctx.Done():
		sub.Unsubscribe()
		return nil
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
