package logger

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
)

const (
	axiomBuffer    = 1000
	axiomBatchSize = 200
)

type ingestFunc func(ctx context.Context, events []axiom.Event) error

// axiomForwarder is an io.Writer that ships zerolog JSON lines to Axiom in
// batches. Events below minLevel are dropped, and so is anything written
// while the buffer is full.
type axiomForwarder struct {
	ingest   ingestFunc
	minLevel zerolog.Level
	events   chan axiom.Event
	stop     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func dialAxiom(token, orgID, dataset string, flushEvery time.Duration) (*axiomForwarder, error) {
	if dataset == "" {
		dataset = "dev_" + service
	}
	opts := []axiom.Option{axiom.SetToken(token)}
	if orgID != "" {
		opts = append(opts, axiom.SetOrganizationID(orgID))
	}
	c, err := axiom.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	send := func(ctx context.Context, events []axiom.Event) error {
		_, err := c.IngestEvents(ctx, dataset, events)
		return err
	}
	return newAxiomForwarder(send, zerolog.InfoLevel, flushEvery), nil
}

func newAxiomForwarder(send ingestFunc, minLevel zerolog.Level, flushEvery time.Duration) *axiomForwarder {
	if flushEvery <= 0 {
		flushEvery = 10 * time.Second
	}
	f := &axiomForwarder{
		ingest:   send,
		minLevel: minLevel,
		events:   make(chan axiom.Event, axiomBuffer),
		stop:     make(chan struct{}),
	}
	f.wg.Add(1)
	go f.run(flushEvery)
	return f
}

func (f *axiomForwarder) Write(p []byte) (int, error) {
	ev := axiom.Event{}
	if err := json.Unmarshal(p, &ev); err != nil {
		ev = axiom.Event{zerolog.MessageFieldName: string(p), zerolog.LevelFieldName: zerolog.InfoLevel.String()}
	}
	if lvl, ok := ev[zerolog.LevelFieldName].(string); ok {
		if parsed, err := zerolog.ParseLevel(lvl); err == nil && parsed < f.minLevel {
			return len(p), nil
		}
	}
	ev["service"] = service
	if _, ok := ev[ingest.TimestampField]; !ok {
		ev[ingest.TimestampField] = time.Now()
	}
	select {
	case f.events <- ev:
	default:
	}
	return len(p), nil
}

func (f *axiomForwarder) run(flushEvery time.Duration) {
	defer f.wg.Done()
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	pending := make([]axiom.Event, 0, axiomBatchSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		_ = f.ingest(ctx, pending)
		cancel()
		pending = make([]axiom.Event, 0, axiomBatchSize)
	}
	for {
		select {
		case <-f.stop:
			for {
				select {
				case ev := <-f.events:
					pending = append(pending, ev)
				default:
					flush()
					return
				}
			}
		case <-ticker.C:
			flush()
		case ev := <-f.events:
			pending = append(pending, ev)
			if len(pending) >= axiomBatchSize {
				flush()
			}
		}
	}
}

// Close drains buffered events and waits for the final flush.
func (f *axiomForwarder) Close() {
	f.once.Do(func() { close(f.stop) })
	f.wg.Wait()
}
