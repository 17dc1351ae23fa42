package eventbus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	concpool "github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/tradestream/errs"
	"github.com/coachpo/tradestream/internal/domain/schema"
	"github.com/coachpo/tradestream/internal/infra/telemetry"
)

// MemoryBus is an in-memory implementation of the event bus.
type MemoryBus struct {
	cfg    MemoryConfig
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	subscribers  map[schema.EventType]map[SubscriptionID]*subscriber
	shutdownOnce sync.Once
	nextID       uint64

	eventsPublishedCounter metric.Int64Counter
	subscriberGauge        metric.Int64UpDownCounter
	deliveryErrorCounter   metric.Int64Counter
	fanoutHistogram        metric.Int64Histogram
	publishDuration        metric.Float64Histogram
	deliveryDroppedCounter metric.Int64Counter
}

type subscriber struct {
	ctx      context.Context
	cancel   context.CancelFunc
	ch       chan schema.Event
	blocking bool
	once     sync.Once
	// mu orders sends against close so a closed channel is never written.
	mu     sync.Mutex
	closed bool
	// dropped counts drop-oldest evictions, guarded by mu.
	dropped uint64
}

// dropLogEvery throttles the drop-oldest log line to the first eviction and every Nth after it.
const dropLogEvery = 1000

// NewMemoryBus constructs a memory-backed event bus.
func NewMemoryBus(cfg MemoryConfig, logger *log.Logger) *MemoryBus {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	bus := &MemoryBus{
		cfg:         cfg.normalize(),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[schema.EventType]map[SubscriptionID]*subscriber),
	}

	meter := otel.Meter("eventbus")
	bus.eventsPublishedCounter, _ = meter.Int64Counter("eventbus.events.published",
		metric.WithDescription("Number of events published to the bus"),
		metric.WithUnit("{event}"))
	bus.subscriberGauge, _ = meter.Int64UpDownCounter("eventbus.subscribers",
		metric.WithDescription("Number of active subscribers"),
		metric.WithUnit("{subscriber}"))
	bus.deliveryErrorCounter, _ = meter.Int64Counter("eventbus.delivery.errors",
		metric.WithDescription("Number of event delivery errors"),
		metric.WithUnit("{error}"))
	bus.fanoutHistogram, _ = meter.Int64Histogram("eventbus.fanout.size",
		metric.WithDescription("Number of subscribers per fanout"),
		metric.WithUnit("{subscriber}"))
	bus.publishDuration, _ = meter.Float64Histogram("eventbus.publish.duration",
		metric.WithDescription("Latency of eventbus publish operations"),
		metric.WithUnit("ms"))
	bus.deliveryDroppedCounter, _ = meter.Int64Counter("eventbus.delivery.dropped",
		metric.WithDescription("Events dropped due to subscriber backpressure"),
		metric.WithUnit("{event}"))

	return bus
}

func eventAttrs(evt schema.Event) metric.MeasurementOption {
	return metric.WithAttributes(telemetry.EventAttributes(telemetry.Environment(), string(evt.Type), evt.Provider, evt.Symbol)...)
}

// Publish fans the event out to all subscribers of its type. Each subscriber sees events from one
// publisher in publish order.
func (b *MemoryBus) Publish(ctx context.Context, evt schema.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if evt.Type == "" {
		return errs.New("eventbus/publish", errs.CodeInvalid, errs.WithMessage("event type required"))
	}
	if b.ctx.Err() != nil {
		return errs.New("eventbus/publish", errs.CodeUnavailable, errs.WithMessage("bus closed"))
	}

	start := time.Now()
	result := "success"
	defer func() {
		if b.publishDuration != nil {
			attrs := telemetry.EventAttributes(telemetry.Environment(), string(evt.Type), evt.Provider, evt.Symbol)
			attrs = append(attrs, telemetry.AttrResult.String(result))
			b.publishDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000, metric.WithAttributes(attrs...))
		}
	}()

	b.mu.RLock()
	subMap := b.subscribers[evt.Type]
	subscribers := make([]*subscriber, 0, len(subMap))
	for _, sub := range subMap {
		subscribers = append(subscribers, sub)
	}
	b.mu.RUnlock()

	if b.fanoutHistogram != nil {
		b.fanoutHistogram.Record(ctx, int64(len(subscribers)), eventAttrs(evt))
	}
	if len(subscribers) == 0 {
		result = "no_subscribers"
		return nil
	}

	if err := b.dispatch(ctx, subscribers, evt); err != nil {
		if b.deliveryErrorCounter != nil {
			b.deliveryErrorCounter.Add(ctx, 1, eventAttrs(evt))
		}
		result = "dispatch_failed"
		return err
	}
	if b.eventsPublishedCounter != nil {
		b.eventsPublishedCounter.Add(ctx, 1, eventAttrs(evt))
	}
	return nil
}

// Subscribe registers for events of the given type. The channel closes on Unsubscribe, on ctx
// cancellation, or when the bus closes.
func (b *MemoryBus) Subscribe(ctx context.Context, typ schema.EventType, opts ...SubscribeOption) (SubscriptionID, <-chan schema.Event, error) {
	if typ == "" {
		return "", nil, errs.New("eventbus/subscribe", errs.CodeInvalid, errs.WithMessage("event type required"))
	}
	if b.ctx.Err() != nil {
		return "", nil, errs.New("eventbus/subscribe", errs.CodeUnavailable, errs.WithMessage("bus closed"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	o := subscribeOptions{bufferSize: b.cfg.BufferSize}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscriber{
		ctx:      ctx,
		cancel:   cancel,
		ch:       make(chan schema.Event, o.bufferSize),
		blocking: o.blocking,
	}
	id := SubscriptionID(fmt.Sprintf("sub-%d", atomic.AddUint64(&b.nextID, 1)))

	b.mu.Lock()
	if _, ok := b.subscribers[typ]; !ok {
		b.subscribers[typ] = make(map[SubscriptionID]*subscriber)
	}
	b.subscribers[typ][id] = sub
	b.mu.Unlock()

	if b.subscriberGauge != nil {
		b.subscriberGauge.Add(ctx, 1, metric.WithAttributes(
			attribute.String("environment", telemetry.Environment()),
			attribute.String("event_type", string(typ))))
	}

	go b.observe(typ, id, sub)
	return id, sub.ch, nil
}

// Unsubscribe removes the subscription and closes its channel.
func (b *MemoryBus) Unsubscribe(id SubscriptionID) {
	if id == "" {
		return
	}
	b.mu.RLock()
	var found *subscriber
	for _, subs := range b.subscribers {
		if sub, ok := subs[id]; ok {
			found = sub
			break
		}
	}
	b.mu.RUnlock()
	if found != nil {
		// observe removes the entry and closes the channel.
		found.cancel()
	}
}

// Close shuts down the bus and all subscriptions.
func (b *MemoryBus) Close() {
	b.shutdownOnce.Do(func() {
		b.cancel()
		b.mu.Lock()
		for typ, subs := range b.subscribers {
			for id, sub := range subs {
				sub.close()
				delete(subs, id)
			}
			delete(b.subscribers, typ)
		}
		b.mu.Unlock()
	})
}

func (b *MemoryBus) observe(typ schema.EventType, id SubscriptionID, sub *subscriber) {
	select {
	case <-sub.ctx.Done():
	case <-b.ctx.Done():
	}
	b.mu.Lock()
	subs := b.subscribers[typ]
	if stored, ok := subs[id]; ok && stored == sub {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.subscribers, typ)
		}
		if b.subscriberGauge != nil {
			b.subscriberGauge.Add(context.Background(), -1, metric.WithAttributes(
				attribute.String("environment", telemetry.Environment()),
				attribute.String("event_type", string(typ))))
		}
	}
	b.mu.Unlock()
	sub.close()
}

func (b *MemoryBus) deliver(ctx context.Context, sub *subscriber, evt schema.Event) error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed || sub.ctx.Err() != nil {
		return nil
	}
	select {
	case sub.ch <- evt:
		return nil
	default:
	}

	if sub.blocking {
		select {
		case sub.ch <- evt:
			return nil
		case <-sub.ctx.Done():
			return nil
		case <-b.ctx.Done():
			return errs.New("eventbus/publish", errs.CodeUnavailable, errs.WithMessage("bus closed"))
		case <-ctx.Done():
			return fmt.Errorf("deliver context: %w", ctx.Err())
		}
	}

	select {
	case <-sub.ch:
	default:
	}
	sub.dropped++
	if sub.dropped == 1 || sub.dropped%dropLogEvery == 0 {
		b.logger.Printf("eventbus: subscriber buffer full; dropped oldest event type=%s provider=%s symbol=%s total_dropped=%d",
			evt.Type, evt.Provider, evt.Symbol, sub.dropped)
	}
	if b.deliveryDroppedCounter != nil {
		b.deliveryDroppedCounter.Add(ctx, 1, eventAttrs(evt))
	}
	select {
	case sub.ch <- evt:
		return nil
	default:
		return errs.New("eventbus/publish", errs.CodeUnavailable, errs.WithMessage("subscriber buffer full"))
	}
}

func (b *MemoryBus) dispatch(ctx context.Context, subs []*subscriber, evt schema.Event) error {
	if len(subs) == 1 {
		return b.deliver(ctx, subs[0], evt)
	}
	p := concpool.New().WithErrors().WithMaxGoroutines(b.cfg.FanoutWorkers)
	for _, sub := range subs {
		p.Go(func() error {
			return b.deliver(ctx, sub, evt)
		})
	}
	return p.Wait()
}

func (s *subscriber) close() {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}
