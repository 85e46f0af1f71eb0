package services

import (
	"fmt"
	"time"

	"transactionService/utils"
)

const idTimeLayout = "20060102150405"

// IDGenerator выдает идентификаторы транзакций и номера ссылок вида
// <префикс><yyyyMMddHHmmss><4 случайные цифры>
type IDGenerator struct {
	now func() time.Time
}

// NewIDGenerator создает новый экземпляр IDGenerator
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// TransactionID возвращает новый идентификатор транзакции
func (g *IDGenerator) TransactionID() string {
	return g.next("TXN")
}

// ReferenceNumber возвращает новый номер ссылки для клиента
func (g *IDGenerator) ReferenceNumber() string {
	return g.next("REF")
}

func (g *IDGenerator) next(prefix string) string {
	now := g.now()
	digits, err := utils.RandomDigits(4)
	if err != nil {
		digits = fmt.Sprintf("%04d", 1000+now.Nanosecond()%9000)
	}
	return prefix + now.Format(idTimeLayout) + digits
}
