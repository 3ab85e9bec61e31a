// Command smoke checks that a deployment's dependencies answer: Redis, the
// query API and, when change events use Kafka, the broker round trip.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/geotemporal/internal/app"
	"github.com/mohammed-shakir/geotemporal/internal/cache/redisstore"
	"github.com/mohammed-shakir/geotemporal/internal/core/config"
	"github.com/mohammed-shakir/geotemporal/internal/invalidation"
	"github.com/mohammed-shakir/geotemporal/internal/store/postgis"
	kinv "github.com/mohammed-shakir/geotemporal/pkg/invalidation/kafka"
)

const smokeLayer = "_smoke"

type check struct {
	name string
	run  func(ctx context.Context) error
}

func checkRedis(addr string, opts ...redisstore.Option) check {
	return check{"redis", func(ctx context.Context) error {
		cli, err := redisstore.New(ctx, addr, opts...)
		if err != nil {
			return err
		}
		defer func() { _ = cli.Close() }()
		want := map[string][]byte{"smoke:hello": []byte("world"), "smoke:ping": []byte("pong")}
		if err := cli.MSetWithTTL(ctx, want, 30*time.Second); err != nil {
			return err
		}
		for k, v := range want {
			got, ok, err := cli.Get(ctx, k)
			if err != nil || !ok || string(got) != string(v) {
				return fmt.Errorf("read back %s ok=%v err=%v", k, ok, err)
			}
		}
		return nil
	}}
}

func checkPostgres(dsn string) check {
	return check{"postgres", func(ctx context.Context) error {
		st, err := postgis.Open(dsn)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		return st.Ping(ctx)
	}}
}

func checkAPI(hc *http.Client, base string) check {
	return check{"query-api", func(ctx context.Context) error {
		base = strings.TrimRight(base, "/")
		for _, path := range []string{"/readyz", "/v1/features/bbox?bbox=18,59,19,60&layer=" + smokeLayer} {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
			if err != nil {
				return err
			}
			resp, err := hc.Do(req)
			if err != nil {
				return err
			}
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
			}
		}
		return nil
	}}
}

// checkKafka produces one change event for the smoke layer and reads it
// back from the partition it landed on.
func checkKafka(brokers []string, topic string) check {
	return check{"kafka", func(ctx context.Context) error {
		cfg := sarama.NewConfig()
		cfg.Producer.Return.Successes = true
		cfg.Version = sarama.V3_6_0_0

		prod, err := sarama.NewSyncProducer(brokers, cfg)
		if err != nil {
			return fmt.Errorf("producer: %w", err)
		}
		defer func() { _ = prod.Close() }()

		ev := invalidation.Event{
			Version: 1,
			Op:      invalidation.OpUpdate,
			Layer:   smokeLayer,
			TS:      time.Now().UTC(),
		}
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		part, off, err := prod.SendMessage(&sarama.ProducerMessage{
			Topic: topic,
			Key:   sarama.StringEncoder(smokeLayer),
			Value: sarama.ByteEncoder(b),
		})
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}

		consumer, err := sarama.NewConsumer(brokers, cfg)
		if err != nil {
			return fmt.Errorf("consumer: %w", err)
		}
		defer func() { _ = consumer.Close() }()
		pc, err := consumer.ConsumePartition(topic, part, off)
		if err != nil {
			return fmt.Errorf("consume partition %d: %w", part, err)
		}
		defer func() { _ = pc.Close() }()

		select {
		case m := <-pc.Messages():
			var got invalidation.Event
			if err := json.Unmarshal(m.Value, &got); err != nil {
				return fmt.Errorf("decode: %w", err)
			}
			return got.Validate()
		case <-ctx.Done():
			return errors.New("no message consumed before deadline")
		}
	}}
}

func checks(cfg config.Config, apiURL string) []check {
	cs := []check{checkRedis(cfg.RedisAddr, app.RedisOptions(cfg)...)}
	if cfg.StoreDriver == "postgis" {
		cs = append(cs, checkPostgres(cfg.PostgresDSN))
	}
	if apiURL != "" {
		cs = append(cs, checkAPI(&http.Client{Timeout: 5 * time.Second}, apiURL))
	}
	if cfg.ChangeEvents.Enabled && cfg.ChangeEvents.Driver == string(kinv.DriverKafka) {
		cs = append(cs, checkKafka(kinv.Split(cfg.ChangeEvents.Brokers), cfg.ChangeEvents.Topic))
	}
	return cs
}

// runChecks runs every check and reports whether all passed.
func runChecks(ctx context.Context, out io.Writer, cs []check, timeout time.Duration) bool {
	ok := true
	for _, c := range cs {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		err := c.run(cctx)
		cancel()
		if err != nil {
			ok = false
			_, _ = fmt.Fprintf(out, "FAIL %-10s %v\n", c.name, err)
			continue
		}
		_, _ = fmt.Fprintf(out, "ok   %s\n", c.name)
	}
	return ok
}

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	api := os.Getenv("QUERY_API_URL")
	if api == "" {
		api = "http://localhost" + cfg.Addr
	}
	if !runChecks(context.Background(), os.Stdout, checks(cfg, api), 10*time.Second) {
		os.Exit(1)
	}
}
