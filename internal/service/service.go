// Package service реализует бизнес-логику платформы coursebill.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/akorneeva/coursebill-system/internal/model"
	"github.com/akorneeva/coursebill-system/internal/repository"
	"github.com/akorneeva/coursebill-system/internal/validation"
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetCourse(ctx context.Context, id int64) (*model.Course, error)
	ListPublishedCourses(ctx context.Context) ([]model.Course, error)
	GetPromoCodeByCode(ctx context.Context, code string) (*model.PromoCode, error)
	HasActivePurchase(ctx context.Context, userID, courseID int64) (bool, error)
	CreatePurchase(ctx context.Context, p repository.PurchaseParams) (int64, int64, error)
	Deposit(ctx context.Context, userID, amount int64, description string) (int64, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	GetTransactionsByUser(ctx context.Context, userID int64) ([]model.BalanceTransaction, error)
	GetPurchasedCoursesByUser(ctx context.Context, userID int64) ([]model.PurchasedCourse, error)
}

// Service содержит бизнес-логику платформы coursebill.
type Service struct {
	repo Repository
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	return s.repo.CreateUser(ctx, login, hashed)
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	hashed := hashPassword(login, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// ValidatePromoCode проверяет применимость промокода к курсу, не изменяя состояние.
// Путь только для чтения: UI показывает предварительный расчёт скидки до покупки,
// окончательная проверка повторяется в момент покупки.
//
// Порядок проверок фиксирован: несуществующий код, деактивированный код,
// чужой курс, исчерпанный лимит. Все коды дают 100% скидку.
func (s *Service) ValidatePromoCode(ctx context.Context, courseID int64, code string) (*model.PromoValidation, error) {
	course, err := s.repo.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !course.IsPublished {
		return nil, repository.ErrCourseNotAvailable
	}

	normalized := validation.NormalizePromoCode(code)
	if !validation.IsValidPromoCode(normalized) {
		return nil, fmt.Errorf("%w: %q", repository.ErrPromoNotFound, code)
	}

	promo, err := s.repo.GetPromoCodeByCode(ctx, normalized)
	if err != nil {
		return nil, err
	}

	if !promo.IsActive || promo.DeletedAt != nil {
		return nil, repository.ErrPromoInactive
	}

	if promo.CourseID != courseID {
		return nil, repository.ErrPromoWrongCourse
	}

	if promo.UsedCount >= promo.UsageLimit {
		return nil, repository.ErrPromoExhausted
	}

	price := course.PriceOrZero()

	return &model.PromoValidation{
		PromoID:       promo.ID,
		Code:          promo.Code,
		OriginalPrice: price,
		Discount:      price,
		FinalPrice:    0,
	}, nil
}

// PurchaseCourse покупает курс для пользователя, опционально применяя промокод.
//
// Предусловия проверяются без блокировок и служат быстрым отказом; решающие
// проверки баланса и лимита промокода репозиторий повторяет внутри
// транзакции по живым строкам.
func (s *Service) PurchaseCourse(ctx context.Context, userID, courseID int64, promoInput string) (*model.PurchaseReceipt, error) {
	course, err := s.repo.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !course.IsPublished {
		return nil, repository.ErrCourseNotAvailable
	}

	purchased, err := s.repo.HasActivePurchase(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	if purchased {
		return nil, repository.ErrAlreadyPurchased
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	price := course.PriceOrZero()
	effectivePrice, discount := price, int64(0)

	var promoID *int64
	var promoCode string

	if promoInput != "" {
		// Промокод перепроверяется целиком в момент покупки: результат
		// предварительной проверки мог устареть.
		v, err := s.ValidatePromoCode(ctx, courseID, promoInput)
		if err != nil {
			return nil, err
		}
		effectivePrice, discount = v.FinalPrice, v.Discount
		promoID, promoCode = &v.PromoID, v.Code
	}

	if user.Balance < effectivePrice {
		return nil, repository.ErrInsufficientBalance
	}

	purchaseID, newBalance, err := s.repo.CreatePurchase(ctx, repository.PurchaseParams{
		UserID:      userID,
		CourseID:    courseID,
		Price:       effectivePrice,
		PromoID:     promoID,
		Description: purchaseDescription(course.Title, promoCode),
	})
	if err != nil {
		return nil, err
	}

	return &model.PurchaseReceipt{
		PurchaseID:    purchaseID,
		NewBalance:    newBalance,
		OriginalPrice: price,
		Discount:      discount,
		FinalPrice:    effectivePrice,
		Promocode:     promoCode,
	}, nil
}

func purchaseDescription(courseTitle, promoCode string) string {
	if promoCode != "" {
		return fmt.Sprintf("Purchase of course %q (promo code %s)", courseTitle, promoCode)
	}
	return fmt.Sprintf("Purchase of course %q", courseTitle)
}

// Deposit пополняет баланс пользователя на указанную сумму в копейках.
func (s *Service) Deposit(ctx context.Context, userID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, errors.New("deposit amount must be positive")
	}
	return s.repo.Deposit(ctx, userID, amount, "Balance deposit")
}

// GetBalance возвращает текущий баланс пользователя в копейках.
func (s *Service) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.repo.GetBalance(ctx, userID)
}

// GetTransactions возвращает историю операций пользователя, новые первыми.
func (s *Service) GetTransactions(ctx context.Context, userID int64) ([]model.BalanceTransaction, error) {
	return s.repo.GetTransactionsByUser(ctx, userID)
}

// GetPurchasedCourses возвращает курсы, купленные пользователем.
func (s *Service) GetPurchasedCourses(ctx context.Context, userID int64) ([]model.PurchasedCourse, error) {
	return s.repo.GetPurchasedCoursesByUser(ctx, userID)
}

// ListCourses возвращает каталог опубликованных курсов.
func (s *Service) ListCourses(ctx context.Context) ([]model.Course, error) {
	return s.repo.ListPublishedCourses(ctx)
}
