package database

import (
	"context"
	"fmt"
	"time"

	"transactionService/utils"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DataStore - операции с коллекцией, которые использует сервис
type DataStore interface {
	InsertOne(
		ctx context.Context,
		document interface{},
		opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// MongoCollection адаптирует *mongo.Collection к DataStore
type MongoCollection struct {
	*mongo.Collection
}

// InsertOne добавляет один документ
func (c *MongoCollection) InsertOne(
	ctx context.Context,
	document interface{},
	opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	result, err := c.Collection.InsertOne(ctx, document, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка записи в коллекцию %s: %w", c.Name(), err)
	}
	return result, nil
}

// MongoProvider выдает коллекции одной базы
type MongoProvider struct {
	client *mongo.Client
	dbName string
}

// NewMongoProvider создает новый экземпляр MongoProvider
func NewMongoProvider(client *mongo.Client, dbName string) *MongoProvider {
	return &MongoProvider{client: client, dbName: dbName}
}

// Collection возвращает DataStore для коллекции name
func (p *MongoProvider) Collection(name string) DataStore {
	return &MongoCollection{p.client.Database(p.dbName).Collection(name)}
}

// ConnectMongo подключается к MongoDB и проверяет соединение
func ConnectMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	logger := utils.LoggerFromContext(ctx)
	logger.DebugContext(ctx, "подключение к MongoDB")

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri).SetTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("MongoDB недоступна: %w", err)
	}

	logger.InfoContext(ctx, "соединение с MongoDB установлено")
	return client, nil
}
