// Command tap attaches to a feed speaking the generic envelope wire, answers
// its CRAM challenge when an API key is set, and logs every message.
package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"venuelink/pkg/exception"
	"venuelink/pkg/websocket"
)

const _envAPIKey = "TAP_API_KEY"

// subscription is one -sub flag: channel[:symbol,symbol...].
type subscription struct {
	channel string
	symbols []string
}

type subscriptions []subscription

func (s *subscriptions) String() string {
	parts := make([]string, 0, len(*s))
	for _, sub := range *s {
		if len(sub.symbols) == 0 {
			parts = append(parts, sub.channel)
			continue
		}
		parts = append(parts, sub.channel+":"+strings.Join(sub.symbols, ","))
	}
	return strings.Join(parts, " ")
}

func (s *subscriptions) Set(v string) error {
	sub, err := parseSubscription(v)
	if err != nil {
		return err
	}
	*s = append(*s, sub)
	return nil
}

func parseSubscription(v string) (subscription, error) {
	channel, rest, _ := strings.Cut(strings.TrimSpace(v), ":")
	if channel == "" {
		return subscription{}, errors.Wrap(exception.ErrInvalidArgument, "empty channel").With("sub", v)
	}
	sub := subscription{channel: channel}
	for _, symbol := range strings.Split(rest, ",") {
		if symbol = strings.TrimSpace(symbol); symbol != "" {
			sub.symbols = append(sub.symbols, symbol)
		}
	}
	return sub, nil
}

type options struct {
	url    string
	apiKey string
	subs   subscriptions
	limit  int
	tuning websocket.Tuning
}

func sessionConfig(opt options) websocket.Config {
	cfg := websocket.Config{
		Name:  "tap",
		URL:   opt.url,
		Codec: websocket.EnvelopeCodec{},
	}
	opt.tuning.Apply(&cfg)
	if opt.apiKey != "" {
		cfg.Authenticator = websocket.CRAM{
			APIKey: opt.apiKey,
			Extra:  map[string]string{"encoding": "json"},
		}
	}
	return cfg
}

func main() {
	var opt options
	flag.StringVar(&opt.url, "url", "", "websocket url of the feed")
	flag.Var(&opt.subs, "sub", "channel[:symbol,symbol] to subscribe, repeatable")
	flag.IntVar(&opt.limit, "n", 0, "stop after n messages (0=until interrupted)")
	flag.DurationVar(&opt.tuning.PingInterval, "ping", 10*time.Second, "ping interval")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logs.Errorf("load .env, err: %+v", err)
		os.Exit(1)
	}
	opt.apiKey = strings.TrimSpace(os.Getenv(_envAPIKey))
	if opt.url == "" {
		logs.Errorf("missing -url")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		cancel()
	}()

	n, err := run(ctx, opt, func(msg websocket.Message) {
		logs.Infof("%s %s %s", msg.Kind, msg.Topic, msg.Payload)
	})
	if err != nil {
		logs.Errorf("tap stopped after %d messages, err: %+v", n, err)
		os.Exit(1)
	}
	logs.Infof("tap stopped after %d messages", n)
}

// run streams messages to handle until ctx ends, the limit is reached or the
// session fails.
func run(ctx context.Context, opt options, handle func(websocket.Message)) (int, error) {
	session, err := websocket.NewSession(sessionConfig(opt))
	if err != nil {
		return 0, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = session.Close(closeCtx)
	}()

	if err := session.Connect(ctx); err != nil {
		return 0, err
	}
	for _, sub := range opt.subs {
		if err := session.Subscribe(ctx, sub.channel, sub.symbols...); err != nil {
			return 0, errors.Wrap(err, "subscribe").With("channel", sub.channel)
		}
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return count, nil
		case msg, ok := <-session.Events():
			if !ok {
				return count, session.Err()
			}
			handle(msg)
			count++
			if opt.limit > 0 && count >= opt.limit {
				return count, nil
			}
		}
	}
}
