package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/akorneeva/coursebill-system/internal/model"
	"github.com/akorneeva/coursebill-system/internal/repository"
)

// memRepo повторяет транзакционную семантику PostgresRepository в памяти:
// все решающие проверки выполняются под одной блокировкой, как в БД они
// выполняются внутри одной транзакции.
type memRepo struct {
	mu sync.Mutex

	users        map[int64]*model.User
	courses      map[int64]*model.Course
	promos       map[int64]*model.PromoCode
	purchases    []*model.Purchase
	transactions []model.BalanceTransaction

	nextPurchaseID int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:   make(map[int64]*model.User),
		courses: make(map[int64]*model.Course),
		promos:  make(map[int64]*model.PromoCode),
	}
}

func (m *memRepo) Close() error { return nil }

func (m *memRepo) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	return 0, errors.New("not implemented")
}

func (m *memRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return nil, repository.ErrUserNotFound
}

func (m *memRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memRepo) GetCourse(ctx context.Context, id int64) (*model.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.courses[id]
	if !ok {
		return nil, repository.ErrCourseNotAvailable
	}
	copied := *c
	return &copied, nil
}

func (m *memRepo) ListPublishedCourses(ctx context.Context) ([]model.Course, error) {
	return nil, nil
}

func (m *memRepo) GetPromoCodeByCode(ctx context.Context, code string) (*model.PromoCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.promos {
		if p.Code == code {
			copied := *p
			return &copied, nil
		}
	}
	return nil, repository.ErrPromoNotFound
}

func (m *memRepo) HasActivePurchase(ctx context.Context, userID, courseID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.activePurchaseLocked(userID, courseID) != nil, nil
}

func (m *memRepo) activePurchaseLocked(userID, courseID int64) *model.Purchase {
	for _, p := range m.purchases {
		if p.UserID == userID && p.CourseID == courseID && p.Status == model.PurchaseStatusActive {
			return p
		}
	}
	return nil
}

func (m *memRepo) CreatePurchase(ctx context.Context, p repository.PurchaseParams) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activePurchaseLocked(p.UserID, p.CourseID) != nil {
		return 0, 0, repository.ErrAlreadyPurchased
	}

	u, ok := m.users[p.UserID]
	if !ok || u.Balance < p.Price {
		return 0, 0, repository.ErrInsufficientBalance
	}

	var promo *model.PromoCode
	if p.PromoID != nil {
		promo = m.promos[*p.PromoID]
		if promo == nil || !promo.IsActive || promo.DeletedAt != nil || promo.UsedCount >= promo.UsageLimit {
			return 0, 0, repository.ErrPromoExhausted
		}
	}

	kept := m.purchases[:0]
	for _, existing := range m.purchases {
		if existing.UserID == p.UserID && existing.CourseID == p.CourseID && existing.Status == model.PurchaseStatusFailed {
			continue
		}
		kept = append(kept, existing)
	}
	m.purchases = kept

	m.nextPurchaseID++
	m.purchases = append(m.purchases, &model.Purchase{
		ID:       m.nextPurchaseID,
		UserID:   p.UserID,
		CourseID: p.CourseID,
		Status:   model.PurchaseStatusActive,
	})

	u.Balance -= p.Price
	m.transactions = append(m.transactions, model.BalanceTransaction{
		UserID:      p.UserID,
		Amount:      -p.Price,
		Type:        model.TransactionTypePurchase,
		Description: p.Description,
	})

	if promo != nil {
		promo.UsedCount++
	}

	return m.nextPurchaseID, u.Balance, nil
}

func (m *memRepo) Deposit(ctx context.Context, userID, amount int64, description string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return 0, repository.ErrUserNotFound
	}
	u.Balance += amount
	m.transactions = append(m.transactions, model.BalanceTransaction{
		UserID:      userID,
		Amount:      amount,
		Type:        model.TransactionTypeDeposit,
		Description: description,
	})
	return u.Balance, nil
}

func (m *memRepo) GetBalance(ctx context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return 0, repository.ErrUserNotFound
	}
	return u.Balance, nil
}

func (m *memRepo) GetTransactionsByUser(ctx context.Context, userID int64) ([]model.BalanceTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.BalanceTransaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		if m.transactions[i].UserID == userID {
			res = append(res, m.transactions[i])
		}
	}
	return res, nil
}

func (m *memRepo) GetPurchasedCoursesByUser(ctx context.Context, userID int64) ([]model.PurchasedCourse, error) {
	return nil, nil
}

func (m *memRepo) countPurchases(userID, courseID int64, status model.PurchaseStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, p := range m.purchases {
		if p.UserID == userID && p.CourseID == courseID && p.Status == status {
			n++
		}
	}
	return n
}

func TestPurchaseCourse_ConcurrentSamePair(t *testing.T) {
	repo := newMemRepo()
	repo.users[1] = &model.User{ID: 1, Balance: 1_000_000}
	repo.courses[10] = &model.Course{ID: 10, Title: "Concurrency in Go", Price: int64p(8000), IsPublished: true}

	svc := NewService(repo)

	const workers = 16

	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PurchaseCourse(context.Background(), 1, 10, "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, alreadyPurchased int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, repository.ErrAlreadyPurchased):
			alreadyPurchased++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded != 1 {
		t.Errorf("succeeded = %d, want exactly 1", succeeded)
	}
	if alreadyPurchased != workers-1 {
		t.Errorf("already purchased = %d, want %d", alreadyPurchased, workers-1)
	}

	if n := repo.countPurchases(1, 10, model.PurchaseStatusActive); n != 1 {
		t.Errorf("active purchases = %d, want 1", n)
	}

	balance, _ := repo.GetBalance(context.Background(), 1)
	if balance != 1_000_000-8000 {
		t.Errorf("balance = %d, want %d: the debit must happen exactly once", balance, 1_000_000-8000)
	}
}

func TestPurchaseCourse_ConcurrentSamePromoCode(t *testing.T) {
	repo := newMemRepo()
	repo.courses[10] = &model.Course{ID: 10, Title: "Concurrency in Go", Price: int64p(8000), IsPublished: true}
	repo.promos[5] = &model.PromoCode{
		ID: 5, Code: "GOPHER-100", CourseID: 10, UsageLimit: 1, IsActive: true,
	}

	const workers = 16
	for i := int64(1); i <= workers; i++ {
		repo.users[i] = &model.User{ID: i, Balance: 0}
	}

	svc := NewService(repo)

	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := int64(1); i <= workers; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := svc.PurchaseCourse(context.Background(), userID, 10, "GOPHER-100")
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var succeeded, exhausted int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, repository.ErrPromoExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded != 1 {
		t.Errorf("succeeded = %d, want exactly 1", succeeded)
	}
	if exhausted != workers-1 {
		t.Errorf("exhausted = %d, want %d", exhausted, workers-1)
	}

	repo.mu.Lock()
	usedCount := repo.promos[5].UsedCount
	repo.mu.Unlock()
	if usedCount != 1 {
		t.Errorf("used count = %d, want 1", usedCount)
	}
}

func TestPurchaseCourse_RetryAfterFailed(t *testing.T) {
	repo := newMemRepo()
	repo.users[1] = &model.User{ID: 1, Balance: 10000}
	repo.courses[10] = &model.Course{ID: 10, Title: "Databases", Price: int64p(8000), IsPublished: true}
	repo.purchases = append(repo.purchases, &model.Purchase{
		ID: 99, UserID: 1, CourseID: 10, Status: model.PurchaseStatusFailed,
	})

	svc := NewService(repo)

	receipt, err := svc.PurchaseCourse(context.Background(), 1, 10, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.NewBalance != 2000 {
		t.Errorf("new balance = %d, want 2000", receipt.NewBalance)
	}

	if n := repo.countPurchases(1, 10, model.PurchaseStatusActive); n != 1 {
		t.Errorf("active purchases = %d, want 1", n)
	}
	if n := repo.countPurchases(1, 10, model.PurchaseStatusFailed); n != 0 {
		t.Errorf("failed purchases = %d, want 0: the failed attempt must be replaced", n)
	}

	txs, _ := repo.GetTransactionsByUser(context.Background(), 1)
	if len(txs) != 1 {
		t.Fatalf("transactions = %d, want 1: no double debit on retry", len(txs))
	}
	if txs[0].Amount != -8000 {
		t.Errorf("transaction amount = %d, want -8000", txs[0].Amount)
	}
}

func TestPurchaseCourse_NoDebitOnFailure(t *testing.T) {
	repo := newMemRepo()
	repo.users[1] = &model.User{ID: 1, Balance: 5000}
	repo.courses[10] = &model.Course{ID: 10, Title: "Databases", Price: int64p(8000), IsPublished: true}

	svc := NewService(repo)

	_, err := svc.PurchaseCourse(context.Background(), 1, 10, "")
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("error = %v, want ErrInsufficientBalance", err)
	}

	balance, _ := repo.GetBalance(context.Background(), 1)
	if balance != 5000 {
		t.Errorf("balance = %d, want unchanged 5000", balance)
	}
	if n := repo.countPurchases(1, 10, model.PurchaseStatusActive); n != 0 {
		t.Errorf("active purchases = %d, want 0", n)
	}

	txs, _ := repo.GetTransactionsByUser(context.Background(), 1)
	if len(txs) != 0 {
		t.Errorf("transactions = %d, want 0", len(txs))
	}
}
