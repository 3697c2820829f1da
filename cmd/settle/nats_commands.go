package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	settlenats "github.com/uhx/settle/service/nats"
)

func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:    "subscribe",
		Usage:   "Subscribe to settlement and reconciliation events",
		Aliases: []string{"sub"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "subject",
				Usage: "Subject to subscribe to (e.g. settlements.*, reconciliation.G...)",
				Value: settlenats.SettlementSubjects,
			},
			&cli.StringFlag{
				Name:  "durable",
				Usage: "Durable consumer name (resume from last acked message)",
			},
			&cli.StringFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "jq expression to filter events (e.g. '.status == \"failed\"')",
			},
			&cli.BoolFlag{
				Name:  "from-start",
				Usage: "Deliver all retained events instead of only new ones",
			},
		},
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"), nats.Name("settle-cli"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			deliverPolicy := jetstream.DeliverNewPolicy
			if c.Bool("from-start") {
				deliverPolicy = jetstream.DeliverAllPolicy
			}

			consumerCfg := jetstream.ConsumerConfig{
				FilterSubject: c.String("subject"),
				DeliverPolicy: deliverPolicy,
				AckPolicy:     jetstream.AckExplicitPolicy,
			}
			if durable := c.String("durable"); durable != "" {
				consumerCfg.Durable = durable
			}

			consumer, err := js.CreateOrUpdateConsumer(ctx, settlenats.StreamName, consumerCfg)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			var matcher func(map[string]interface{}) (bool, error)
			if expr := c.String("filter"); expr != "" {
				matcher, err = compileEventMatcher(expr)
				if err != nil {
					return err
				}
			}

			fmt.Fprintf(os.Stderr, "Subscribed to %s on stream %s (ctrl-c to stop)\n",
				c.String("subject"), settlenats.StreamName)

			cc, err := consumer.Consume(func(msg jetstream.Msg) {
				defer msg.Ack()

				var event map[string]interface{}
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					fmt.Fprintf(os.Stderr, "skipping malformed event on %s: %v\n", msg.Subject(), err)
					return
				}

				if matcher != nil {
					ok, err := matcher(event)
					if err != nil {
						fmt.Fprintf(os.Stderr, "filter error: %v\n", err)
						return
					}
					if !ok {
						return
					}
				}

				out, _ := json.Marshal(map[string]interface{}{
					"subject": msg.Subject(),
					"event":   event,
				})
				fmt.Println(string(out))
			})
			if err != nil {
				return fmt.Errorf("failed to start consuming: %w", err)
			}
			defer cc.Stop()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			return nil
		},
	}
}

func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Show event stream configuration and state",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"), nats.Name("settle-cli"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			stream, err := js.Stream(ctx, settlenats.StreamName)
			if err != nil {
				return fmt.Errorf("failed to look up stream %s: %w", settlenats.StreamName, err)
			}

			info, err := stream.Info(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(info)
			}

			fmt.Printf("Stream:        %s\n", info.Config.Name)
			fmt.Printf("Subjects:      %v\n", info.Config.Subjects)
			fmt.Printf("Retention:     %v\n", info.Config.MaxAge)
			fmt.Printf("Storage:       %s\n", info.Config.Storage)
			fmt.Printf("Messages:      %d\n", info.State.Msgs)
			fmt.Printf("Bytes:         %d\n", info.State.Bytes)
			fmt.Printf("First Seq:     %d\n", info.State.FirstSeq)
			fmt.Printf("Last Seq:      %d\n", info.State.LastSeq)
			fmt.Printf("Consumers:     %d\n", info.State.Consumers)
			if !info.State.LastTime.IsZero() {
				fmt.Printf("Last Event:    %s\n", info.State.LastTime.Format(time.RFC3339))
			}
			return nil
		},
	}
}

// compileEventMatcher compiles a jq expression into a predicate over a
// decoded event object.
func compileEventMatcher(expr string) (func(map[string]interface{}) (bool, error), error) {
	code, err := compileJQ(expr)
	if err != nil {
		return nil, err
	}
	return func(event map[string]interface{}) (bool, error) {
		iter := code.Run(event)
		v, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, isErr := v.(error); isErr {
			return false, err
		}
		return isTruthy(v), nil
	}, nil
}
