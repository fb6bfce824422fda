// Package handler содержит HTTP-обработчики API сервиса coursebill.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/akorneeva/coursebill-system/internal/middleware"
	"github.com/akorneeva/coursebill-system/internal/model"
	"github.com/akorneeva/coursebill-system/internal/money"
	"github.com/akorneeva/coursebill-system/internal/repository"
	"github.com/akorneeva/coursebill-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	ValidatePromoCode(ctx context.Context, courseID int64, code string) (*model.PromoValidation, error)
	PurchaseCourse(ctx context.Context, userID, courseID int64, promoCode string) (*model.PurchaseReceipt, error)
	Deposit(ctx context.Context, userID, amount int64) (int64, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	GetTransactions(ctx context.Context, userID int64) ([]model.BalanceTransaction, error)
	GetPurchasedCourses(ctx context.Context, userID int64) ([]model.PurchasedCourse, error)
	ListCourses(ctx context.Context) ([]model.Course, error)
}

// Handler реализует HTTP-обработчики API сервиса coursebill.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// Стабильные машинно-различимые коды ошибок для клиента.
const (
	codeCourseNotAvailable  = "COURSE_NOT_AVAILABLE"
	codeUserNotFound        = "USER_NOT_FOUND"
	codeAlreadyPurchased    = "ALREADY_PURCHASED"
	codeInsufficientBalance = "INSUFFICIENT_BALANCE"
	codeInvalidCode         = "INVALID_CODE"
	codeInactiveCode        = "INACTIVE_CODE"
	codeWrongCourse         = "WRONG_COURSE"
	codeAlreadyUsed         = "ALREADY_USED"
	codeBadRequest          = "BAD_REQUEST"
	codeInternalError       = "INTERNAL_ERROR"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Success: false, Error: code})
}

// domainErrorStatus сопоставляет доменную ошибку HTTP-статусу и коду для клиента.
// Все клиентские ошибки доходят до UI дословно, серверные схлопываются в 500.
func (h *Handler) domainErrorStatus(err error) (int, string, bool) {
	switch {
	case errors.Is(err, repository.ErrCourseNotAvailable):
		return http.StatusNotFound, codeCourseNotAvailable, true
	case errors.Is(err, repository.ErrUserNotFound):
		return http.StatusNotFound, codeUserNotFound, true
	case errors.Is(err, repository.ErrAlreadyPurchased):
		return http.StatusBadRequest, codeAlreadyPurchased, true
	case errors.Is(err, repository.ErrInsufficientBalance):
		return http.StatusBadRequest, codeInsufficientBalance, true
	case errors.Is(err, repository.ErrPromoNotFound):
		return http.StatusBadRequest, codeInvalidCode, true
	case errors.Is(err, repository.ErrPromoInactive):
		return http.StatusBadRequest, codeInactiveCode, true
	case errors.Is(err, repository.ErrPromoWrongCourse):
		return http.StatusBadRequest, codeWrongCourse, true
	case errors.Is(err, repository.ErrPromoExhausted):
		return http.StatusBadRequest, codeAlreadyUsed, true
	default:
		return 0, "", false
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error, op string) {
	if status, code, ok := h.domainErrorStatus(err); ok {
		writeError(w, status, code)
		return
	}
	h.logger.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError)
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type purchaseRequest struct {
	CourseID  int64  `json:"courseId"`
	Promocode string `json:"promocode"`
}

type purchaseResponse struct {
	Success        bool   `json:"success"`
	PurchaseID     int64  `json:"purchaseId"`
	NewBalance     string `json:"newBalance"`
	OriginalPrice  string `json:"originalPrice"`
	DiscountAmount string `json:"discountAmount"`
	FinalPrice     string `json:"finalPrice"`
	Promocode      string `json:"promocode,omitempty"`
}

// Purchase покупает курс для текущего пользователя.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest)
		return
	}

	if req.CourseID <= 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest)
		return
	}

	receipt, err := h.service.PurchaseCourse(r.Context(), userID, req.CourseID, req.Promocode)
	if err != nil {
		h.writeDomainError(w, err, "purchase error")
		return
	}

	writeJSON(w, http.StatusOK, purchaseResponse{
		Success:        true,
		PurchaseID:     receipt.PurchaseID,
		NewBalance:     money.Format(receipt.NewBalance),
		OriginalPrice:  money.Format(receipt.OriginalPrice),
		DiscountAmount: money.Format(receipt.Discount),
		FinalPrice:     money.Format(receipt.FinalPrice),
		Promocode:      receipt.Promocode,
	})
}

type validatePromoRequest struct {
	Code     string `json:"code"`
	CourseID int64  `json:"courseId"`
}

type validatePromoResponse struct {
	Success        bool   `json:"success"`
	Code           string `json:"code"`
	OriginalPrice  string `json:"originalPrice"`
	DiscountAmount string `json:"discountAmount"`
	FinalPrice     string `json:"finalPrice"`
}

// ValidatePromoCode возвращает предварительный расчёт скидки по промокоду,
// не изменяя состояние.
func (h *Handler) ValidatePromoCode(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserIDFromContext(r.Context()); !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req validatePromoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest)
		return
	}

	if req.Code == "" || req.CourseID <= 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest)
		return
	}

	v, err := h.service.ValidatePromoCode(r.Context(), req.CourseID, req.Code)
	if err != nil {
		// На пути предпросмотра несуществующий код — это 404.
		if errors.Is(err, repository.ErrPromoNotFound) {
			writeError(w, http.StatusNotFound, codeInvalidCode)
			return
		}
		h.writeDomainError(w, err, "validate promo code error")
		return
	}

	writeJSON(w, http.StatusOK, validatePromoResponse{
		Success:        true,
		Code:           v.Code,
		OriginalPrice:  money.Format(v.OriginalPrice),
		DiscountAmount: money.Format(v.Discount),
		FinalPrice:     money.Format(v.FinalPrice),
	})
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err, "get balance error")
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Balance: money.Format(balance)})
}

type depositRequest struct {
	Amount string `json:"amount"`
}

// Deposit пополняет баланс текущего пользователя.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest)
		return
	}

	amount, err := money.Parse(req.Amount)
	if err != nil || amount <= 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest)
		return
	}

	newBalance, err := h.service.Deposit(r.Context(), userID, amount)
	if err != nil {
		h.writeDomainError(w, err, "deposit error")
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Balance: money.Format(newBalance)})
}

type transactionResponse struct {
	Amount      string `json:"amount"`
	Type        string `json:"type"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
}

// GetTransactions возвращает историю операций текущего пользователя, новые первыми.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	transactions, err := h.service.GetTransactions(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err, "get transactions error")
		return
	}

	if len(transactions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for _, tx := range transactions {
		resp = append(resp, transactionResponse{
			Amount:      money.Format(tx.Amount),
			Type:        string(tx.Type),
			Description: tx.Description,
			CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type purchasedCourseResponse struct {
	CourseID    int64  `json:"courseId"`
	Title       string `json:"title"`
	Price       string `json:"price"`
	PurchasedAt string `json:"purchasedAt"`
}

// GetPurchases возвращает курсы, купленные текущим пользователем.
func (h *Handler) GetPurchases(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	purchases, err := h.service.GetPurchasedCourses(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err, "get purchases error")
		return
	}

	if len(purchases) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]purchasedCourseResponse, 0, len(purchases))
	for _, p := range purchases {
		price := int64(0)
		if p.Price != nil {
			price = *p.Price
		}
		resp = append(resp, purchasedCourseResponse{
			CourseID:    p.CourseID,
			Title:       p.Title,
			Price:       money.Format(price),
			PurchasedAt: p.PurchasedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type courseResponse struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Price string `json:"price"`
}

// ListCourses возвращает каталог опубликованных курсов.
func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.ListCourses(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "list courses error")
		return
	}

	resp := make([]courseResponse, 0, len(courses))
	for _, c := range courses {
		resp = append(resp, courseResponse{
			ID:    c.ID,
			Title: c.Title,
			Price: money.Format(c.PriceOrZero()),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
