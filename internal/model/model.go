// Package model содержит доменные сущности платформы coursebill.
package model

import "time"

// User представляет зарегистрированного пользователя платформы.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	// Balance хранит текущий баланс пользователя в копейках.
	Balance   int64
	Role      string
	CreatedAt time.Time
}

// Course описывает курс, доступный для покупки.
type Course struct {
	ID    int64
	Title string
	// Price хранит стоимость курса в копейках; nil означает бесплатный курс.
	Price       *int64
	IsPublished bool
	CreatedAt   time.Time
}

// PriceOrZero возвращает стоимость курса, трактуя отсутствующую цену как ноль.
func (c *Course) PriceOrZero() int64 {
	if c.Price == nil {
		return 0
	}
	return *c.Price
}

// PromoCode описывает одноразовый промокод, привязанный к конкретному курсу.
type PromoCode struct {
	ID         int64
	Code       string
	CourseID   int64
	UsageLimit int
	UsedCount  int
	IsActive   bool
	DeletedAt  *time.Time
	CreatedAt  time.Time
}

// PurchaseStatus описывает статус покупки курса.
type PurchaseStatus string

const (
	PurchaseStatusActive PurchaseStatus = "ACTIVE"
	PurchaseStatusFailed PurchaseStatus = "FAILED"
)

// Purchase описывает факт покупки курса пользователем.
type Purchase struct {
	ID        int64
	UserID    int64
	CourseID  int64
	Status    PurchaseStatus
	CreatedAt time.Time
}

// TransactionType описывает тип операции по балансу.
type TransactionType string

const (
	TransactionTypeDeposit  TransactionType = "DEPOSIT"
	TransactionTypePurchase TransactionType = "PURCHASE"
)

// BalanceTransaction описывает запись журнала операций по балансу.
// Записи только добавляются и никогда не изменяются.
type BalanceTransaction struct {
	ID     int64
	UserID int64
	// Amount хранит сумму операции в копейках со знаком: списания отрицательные.
	Amount      int64
	Type        TransactionType
	Description string
	CreatedAt   time.Time
}

// PromoValidation содержит результат успешной проверки промокода.
type PromoValidation struct {
	PromoID       int64
	Code          string
	OriginalPrice int64
	Discount      int64
	FinalPrice    int64
}

// PurchaseReceipt содержит итог успешной покупки курса.
type PurchaseReceipt struct {
	PurchaseID    int64
	NewBalance    int64
	OriginalPrice int64
	Discount      int64
	FinalPrice    int64
	Promocode     string
}

// PurchasedCourse описывает купленный пользователем курс.
type PurchasedCourse struct {
	CourseID    int64
	Title       string
	Price       *int64
	PurchasedAt time.Time
}
