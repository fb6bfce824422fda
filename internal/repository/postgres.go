// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/akorneeva/coursebill-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrCourseNotAvailable возвращается, если курс не существует или не опубликован.
	ErrCourseNotAvailable = errors.New("course not available")
	// ErrAlreadyPurchased возвращается, если у пользователя уже есть активная покупка курса.
	ErrAlreadyPurchased = errors.New("course already purchased")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrPromoNotFound возвращается, если промокод не существует.
	ErrPromoNotFound = errors.New("promo code not found")
	// ErrPromoInactive возвращается для деактивированного или удалённого промокода.
	ErrPromoInactive = errors.New("promo code inactive")
	// ErrPromoWrongCourse возвращается, если промокод выпущен для другого курса.
	ErrPromoWrongCourse = errors.New("promo code issued for another course")
	// ErrPromoExhausted возвращается, если лимит использований промокода исчерпан.
	ErrPromoExhausted = errors.New("promo code usage limit reached")
	// ErrSchemaNotInitialized возвращается, если схема БД не соответствует ожидаемой.
	ErrSchemaNotInitialized = errors.New("database schema not initialized")
)

// PurchaseParams описывает параметры атомарной операции покупки курса.
type PurchaseParams struct {
	UserID   int64
	CourseID int64
	// Price — итоговая сумма списания в копейках c учётом скидки.
	Price int64
	// PromoID задаёт применяемый промокод; nil означает покупку без промокода.
	PromoID     *int64
	Description string
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий, инициализирует схему БД
// через миграции и проверяет её соответствие ожидаемой версии.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := r.checkSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// checkSchema убеждается, что ожидаемые движком колонки существуют.
// Отсутствие promo_codes.deleted_at означает непримененную миграцию:
// работать с такой схемой нельзя, это ошибка запуска, а не ветка в рантайме.
func (r *PostgresRepository) checkSchema(ctx context.Context) error {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*)
		 FROM information_schema.columns
		 WHERE table_name = 'promo_codes' AND column_name = 'deleted_at'`,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("check schema: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("%w: promo_codes.deleted_at column is missing", ErrSchemaNotInitialized)
	}

	return nil
}

// withRetry повторяет fn при временных ошибках сериализации и дедлоках.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) &&
			(pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected) {
			return retry.RetryableError(err)
		}

		return err
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с нулевым балансом.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, balance, role, created_at FROM users WHERE login = $1`,
		login,
	)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, balance, role, created_at FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.Balance, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetCourse возвращает курс по идентификатору.
func (r *PostgresRepository) GetCourse(ctx context.Context, id int64) (*model.Course, error) {
	var c model.Course
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, price, is_published, created_at FROM courses WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Title, &c.Price, &c.IsPublished, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCourseNotAvailable
		}
		return nil, fmt.Errorf("get course: %w", err)
	}
	return &c, nil
}

// ListPublishedCourses возвращает опубликованные курсы каталога.
func (r *PostgresRepository) ListPublishedCourses(ctx context.Context) ([]model.Course, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, price, is_published, created_at
		 FROM courses
		 WHERE is_published
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select courses: %w", err)
	}
	defer rows.Close()

	var courses []model.Course
	for rows.Next() {
		var c model.Course
		if err := rows.Scan(&c.ID, &c.Title, &c.Price, &c.IsPublished, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return courses, nil
}

// GetPromoCodeByCode возвращает промокод по нормализованному коду.
// Мягко удалённые коды тоже возвращаются: различие между несуществующим
// и деактивированным кодом важно для валидатора.
func (r *PostgresRepository) GetPromoCodeByCode(ctx context.Context, code string) (*model.PromoCode, error) {
	var p model.PromoCode
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, course_id, usage_limit, used_count, is_active, deleted_at, created_at
		 FROM promo_codes
		 WHERE code = $1`,
		code,
	).Scan(&p.ID, &p.Code, &p.CourseID, &p.UsageLimit, &p.UsedCount, &p.IsActive, &p.DeletedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPromoNotFound
		}
		return nil, fmt.Errorf("get promo code: %w", err)
	}
	return &p, nil
}

// HasActivePurchase сообщает, есть ли у пользователя активная покупка курса.
func (r *PostgresRepository) HasActivePurchase(ctx context.Context, userID, courseID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM purchases
			WHERE user_id = $1 AND course_id = $2 AND status = $3
		 )`,
		userID, courseID, string(model.PurchaseStatusActive),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check purchase: %w", err)
	}
	return exists, nil
}

// CreatePurchase атомарно выполняет покупку курса: удаляет прошлую неудачную
// попытку, создаёт активную покупку, списывает средства, добавляет запись в
// журнал операций и расходует промокод. Любая ошибка откатывает все шаги.
//
// Проверки баланса и лимита промокода выполняются по живым строкам внутри
// транзакции: два конкурентных запроса не могут оба списать один баланс или
// оба израсходовать одноразовый код.
func (r *PostgresRepository) CreatePurchase(ctx context.Context, p PurchaseParams) (int64, int64, error) {
	var purchaseID, newBalance int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Прошлая неудачная попытка освобождает слот уникальности для повтора.
		_, err = tx.Exec(ctx,
			`DELETE FROM purchases WHERE user_id = $1 AND course_id = $2 AND status = $3`,
			p.UserID, p.CourseID, string(model.PurchaseStatusFailed),
		)
		if err != nil {
			return fmt.Errorf("delete failed purchase: %w", err)
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO purchases (user_id, course_id, status) VALUES ($1, $2, $3) RETURNING id`,
			p.UserID, p.CourseID, string(model.PurchaseStatusActive),
		).Scan(&purchaseID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return ErrAlreadyPurchased
			}
			return fmt.Errorf("insert purchase: %w", err)
		}

		err = tx.QueryRow(ctx,
			`UPDATE users
			 SET balance = balance - $2
			 WHERE id = $1 AND balance >= $2
			 RETURNING balance`,
			p.UserID, p.Price,
		).Scan(&newBalance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInsufficientBalance
			}
			return fmt.Errorf("debit balance: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO balance_transactions (user_id, amount, type, description) VALUES ($1, $2, $3, $4)`,
			p.UserID, -p.Price, string(model.TransactionTypePurchase), p.Description,
		)
		if err != nil {
			return fmt.Errorf("insert balance transaction: %w", err)
		}

		if p.PromoID != nil {
			tag, err := tx.Exec(ctx,
				`UPDATE promo_codes
				 SET used_count = used_count + 1
				 WHERE id = $1 AND is_active AND deleted_at IS NULL AND used_count < usage_limit`,
				*p.PromoID,
			)
			if err != nil {
				return fmt.Errorf("consume promo code: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return ErrPromoExhausted
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return purchaseID, newBalance, nil
}

// Deposit атомарно пополняет баланс пользователя и добавляет запись в журнал операций.
func (r *PostgresRepository) Deposit(ctx context.Context, userID, amount int64, description string) (int64, error) {
	var newBalance int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		err = tx.QueryRow(ctx,
			`UPDATE users SET balance = balance + $2 WHERE id = $1 RETURNING balance`,
			userID, amount,
		).Scan(&newBalance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("credit balance: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO balance_transactions (user_id, amount, type, description) VALUES ($1, $2, $3, $4)`,
			userID, amount, string(model.TransactionTypeDeposit), description,
		)
		if err != nil {
			return fmt.Errorf("insert balance transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return newBalance, nil
}

// GetBalance возвращает текущий баланс пользователя в копейках.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx,
		`SELECT balance FROM users WHERE id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// GetTransactionsByUser возвращает историю операций пользователя, новые первыми.
func (r *PostgresRepository) GetTransactionsByUser(ctx context.Context, userID int64) ([]model.BalanceTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, amount, type, description, created_at
		 FROM balance_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.BalanceTransaction
	for rows.Next() {
		var t model.BalanceTransaction
		var txType string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &txType, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = model.TransactionType(txType)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetPurchasedCoursesByUser возвращает купленные пользователем курсы, новые первыми.
func (r *PostgresRepository) GetPurchasedCoursesByUser(ctx context.Context, userID int64) ([]model.PurchasedCourse, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.title, c.price, p.created_at
		 FROM purchases p
		 JOIN courses c ON c.id = p.course_id
		 WHERE p.user_id = $1 AND p.status = $2
		 ORDER BY p.created_at DESC`,
		userID, string(model.PurchaseStatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("select purchases: %w", err)
	}
	defer rows.Close()

	var res []model.PurchasedCourse
	for rows.Next() {
		var pc model.PurchasedCourse
		if err := rows.Scan(&pc.CourseID, &pc.Title, &pc.Price, &pc.PurchasedAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		res = append(res, pc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
