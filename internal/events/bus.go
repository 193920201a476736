package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventEngineStarted   EventType = "ENGINE_STARTED"
	EventEngineStopped   EventType = "ENGINE_STOPPED"
	EventNewBar          EventType = "NEW_BAR"
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventSignalRejected  EventType = "SIGNAL_REJECTED"
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventStopUpdated     EventType = "STOP_UPDATED"
	EventOrderFailed     EventType = "ORDER_FAILED"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions. Delivery is
// synchronous and in subscription order, so a replayed session produces
// the same event trace every run; subscribers must not block.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			sub(event)
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		sub(event)
	}
}

// PublishEngineStarted publishes an engine started event
func (eb *EventBus) PublishEngineStarted(symbol, timeframe string) {
	eb.Publish(Event{
		Type: EventEngineStarted,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"timeframe": timeframe,
		},
	})
}

// PublishEngineStopped publishes an engine stopped event
func (eb *EventBus) PublishEngineStopped(symbol string, ticksSeen, barsSeen uint64) {
	eb.Publish(Event{
		Type: EventEngineStopped,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"ticks_seen": ticksSeen,
			"bars_seen":  barsSeen,
		},
	})
}

// PublishNewBar publishes a new bar event
func (eb *EventBus) PublishNewBar(symbol, timeframe string, barTime time.Time) {
	eb.Publish(Event{
		Type: EventNewBar,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"timeframe": timeframe,
			"bar_time":  barTime,
		},
	})
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(signalID, symbol, direction, reason string, entry, stopLoss, takeProfit, volume float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"signal_id":   signalID,
			"symbol":      symbol,
			"direction":   direction,
			"reason":      reason,
			"entry":       entry,
			"stop_loss":   stopLoss,
			"take_profit": takeProfit,
			"volume":      volume,
		},
	})
}

// PublishSignalRejected publishes a signal rejected event
func (eb *EventBus) PublishSignalRejected(symbol, reason string) {
	eb.Publish(Event{
		Type: EventSignalRejected,
		Data: map[string]interface{}{
			"symbol": symbol,
			"reason": reason,
		},
	})
}

// PublishTradeOpened publishes a trade opened event
func (eb *EventBus) PublishTradeOpened(ticket uint64, symbol, side string, fillPrice, volume float64) {
	eb.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"ticket":     ticket,
			"symbol":     symbol,
			"side":       side,
			"fill_price": fillPrice,
			"volume":     volume,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (eb *EventBus) PublishTradeClosed(ticket uint64, symbol string, openPrice, closePrice, volume, pnl float64) {
	eb.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"ticket":      ticket,
			"symbol":      symbol,
			"open_price":  openPrice,
			"close_price": closePrice,
			"volume":      volume,
			"pnl":         pnl,
		},
	})
}

// PublishStopUpdated publishes a stop updated event
func (eb *EventBus) PublishStopUpdated(ticket uint64, symbol string, oldStop, newStop float64, reason string) {
	eb.Publish(Event{
		Type: EventStopUpdated,
		Data: map[string]interface{}{
			"ticket":   ticket,
			"symbol":   symbol,
			"old_stop": oldStop,
			"new_stop": newStop,
			"reason":   reason,
		},
	})
}

// PublishOrderFailed publishes an order failed event
func (eb *EventBus) PublishOrderFailed(symbol string, retCode int, comment string) {
	eb.Publish(Event{
		Type: EventOrderFailed,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"ret_code": retCode,
			"comment":  comment,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
