package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"transactionService/models"
	"transactionService/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DocumentWriter - запись документа в коллекцию MongoDB
type DocumentWriter interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// EventPublisher уведомляет внешних потребителей о завершении, ошибке и сторно транзакций.
// Publish не блокирует вызывающего и не возвращает ошибок
type EventPublisher interface {
	Publish(ctx context.Context, event models.TransactionEvent)
}

// MongoEventPublisher складывает события в коллекцию-outbox в фоновом обработчике.
// Ключ документа - идентификатор транзакции
type MongoEventPublisher struct {
	coll    DocumentWriter
	queue   chan models.TransactionEvent
	timeout time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewMongoEventPublisher создает издателя и запускает фоновый обработчик
func NewMongoEventPublisher(coll DocumentWriter, buffer int, timeout time.Duration) *MongoEventPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	p := &MongoEventPublisher{
		coll:    coll,
		queue:   make(chan models.TransactionEvent, buffer),
		timeout: timeout,
		now:     time.Now,
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Publish ставит событие в очередь. При переполненной очереди событие отбрасывается
func (p *MongoEventPublisher) Publish(ctx context.Context, event models.TransactionEvent) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	logger := utils.LoggerFromContext(ctx)
	if p.closed {
		logger.WarnContext(ctx, "издатель событий остановлен, событие отброшено",
			"event", event.Type, "transaction_id", event.TransactionID)
		return
	}

	select {
	case p.queue <- event:
	default:
		logger.WarnContext(ctx, "очередь событий переполнена, событие отброшено",
			"event", event.Type, "transaction_id", event.TransactionID)
	}
}

// Close дожидается отправки событий из очереди
func (p *MongoEventPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *MongoEventPublisher) run() {
	defer p.wg.Done()
	for event := range p.queue {
		p.write(event)
	}
}

func (p *MongoEventPublisher) write(event models.TransactionEvent) {
	logger := utils.LoggerFromContext(context.Background())

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("ошибка сериализации события", "event", event.Type, "error", err)
		return
	}

	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	_, err = p.coll.InsertOne(ctx, bson.M{
		"_id":        event.EventID,
		"key":        event.TransactionID,
		"type":       string(event.Type),
		"payload":    string(payload),
		"occurredAt": event.OccurredAt,
	})
	if err != nil {
		logger.Error("ошибка публикации события",
			"event", event.Type, "transaction_id", event.TransactionID, "error", err)
		return
	}
	logger.Debug("событие опубликовано", "event", event.Type, "transaction_id", event.TransactionID)
}

func completedEvent(tx *models.Transaction) models.TransactionEvent {
	occurred := tx.ModifiedDate
	if tx.CompletedDate != nil {
		occurred = *tx.CompletedDate
	}
	return models.TransactionEvent{
		Type:            models.EventTransactionCompleted,
		TransactionID:   tx.TransactionID,
		FromAccountID:   tx.FromAccountID,
		ToAccountID:     tx.ToAccountID,
		Amount:          tx.Amount,
		TransactionType: tx.Type,
		ReferenceNumber: tx.ReferenceNumber,
		OccurredAt:      occurred,
	}
}

func failedEvent(tx *models.Transaction) models.TransactionEvent {
	return models.TransactionEvent{
		Type:            models.EventTransactionFailed,
		TransactionID:   tx.TransactionID,
		FromAccountID:   tx.FromAccountID,
		ToAccountID:     tx.ToAccountID,
		Amount:          tx.Amount,
		TransactionType: tx.Type,
		ReferenceNumber: tx.ReferenceNumber,
		FailureReason:   tx.FailureReason,
		OccurredAt:      tx.ModifiedDate,
	}
}

func reversedEvent(tx *models.Transaction) models.TransactionEvent {
	snapshot := *tx
	event := models.TransactionEvent{
		Type:            models.EventTransactionReversed,
		TransactionID:   tx.TransactionID,
		FromAccountID:   tx.FromAccountID,
		ToAccountID:     tx.ToAccountID,
		Amount:          tx.Amount,
		TransactionType: tx.Type,
		ReferenceNumber: tx.ReferenceNumber,
		Transaction:     &snapshot,
	}
	if tx.ReversedDate != nil {
		event.OccurredAt = *tx.ReversedDate
	}
	return event
}
