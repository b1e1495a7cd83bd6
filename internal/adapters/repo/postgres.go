package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ig-automation/internal/domain"
	"ig-automation/internal/infra/metrics"
)

// Postgres реализует репозитории аккаунтов и задач на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.AccountRepo = (*Postgres)(nil)
	_ domain.TaskRepo    = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const accountColumns = `id, user_id, username, created_at, is_active, last_warmup`

func scanAccount(row pgx.Row) (domain.InstagramAccount, error) {
	var (
		acc        domain.InstagramAccount
		lastWarmup sql.NullTime
	)
	if err := row.Scan(&acc.ID, &acc.UserID, &acc.Username, &acc.CreatedAt, &acc.IsActive, &lastWarmup); err != nil {
		return domain.InstagramAccount{}, err
	}
	if lastWarmup.Valid {
		ts := lastWarmup.Time
		acc.LastWarmup = &ts
	}
	return acc, nil
}

// GetInstagramAccount реализует domain.AccountRepo.
func (p *Postgres) GetInstagramAccount(ctx context.Context, id int64) (domain.InstagramAccount, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	acc, err := scanAccount(p.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM instagram_accounts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "accounts_get", "instagram_accounts", start, nil)
		return domain.InstagramAccount{}, domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "accounts_get", "instagram_accounts", start, err)
	if err != nil {
		return domain.InstagramAccount{}, fmt.Errorf("select account %d: %w", id, err)
	}
	return acc, nil
}

// ListInstagramAccounts реализует domain.AccountRepo.
func (p *Postgres) ListInstagramAccounts(ctx context.Context) ([]domain.InstagramAccount, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+accountColumns+` FROM instagram_accounts ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "accounts_list", "instagram_accounts", start, err)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.InstagramAccount
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// accountUpdateSQL собирает SET для непустых полей обновления.
func accountUpdateSQL(update domain.AccountUpdate) (string, []any) {
	var (
		sets []string
		args []any
	)
	if update.LastWarmup != nil {
		args = append(args, *update.LastWarmup)
		sets = append(sets, fmt.Sprintf("last_warmup=$%d", len(args)))
	}
	if update.IsActive != nil {
		args = append(args, *update.IsActive)
		sets = append(sets, fmt.Sprintf("is_active=$%d", len(args)))
	}
	return strings.Join(sets, ", "), args
}

// UpdateInstagramAccount реализует domain.AccountRepo.
func (p *Postgres) UpdateInstagramAccount(ctx context.Context, id int64, update domain.AccountUpdate) error {
	set, args := accountUpdateSQL(update)
	if set == "" {
		return nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	args = append(args, id)
	start := time.Now()
	tag, err := p.pool.Exec(ctx, fmt.Sprintf(`UPDATE instagram_accounts SET %s WHERE id=$%d`, set, len(args)), args...)
	metrics.ObserveNetworkRequest("postgres", "accounts_update", "instagram_accounts", start, err)
	if err != nil {
		return fmt.Errorf("update account %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetPublishTask реализует domain.TaskRepo.
func (p *Postgres) GetPublishTask(ctx context.Context, id int64) (domain.PublishTask, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		task     domain.PublishTask
		taskType string
		status   string
		caption  sql.NullString
		hashtags sql.NullString
		mediaID  sql.NullString
		errMsg   sql.NullString
		options  []byte
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT t.id, t.account_id, a.username, t.user_id, t.task_type, t.media_path, t.caption, t.hashtags, t.options, t.status, t.media_id, t.error_message, t.updated_at
FROM publish_tasks t
JOIN instagram_accounts a ON a.id = t.account_id
WHERE t.id=$1
`, id).Scan(&task.ID, &task.AccountID, &task.AccountUsername, &task.UserID, &taskType, &task.MediaPath, &caption, &hashtags, &options, &status, &mediaID, &errMsg, &task.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "tasks_get", "publish_tasks", start, nil)
		return domain.PublishTask{}, domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "tasks_get", "publish_tasks", start, err)
	if err != nil {
		return domain.PublishTask{}, fmt.Errorf("select task %d: %w", id, err)
	}

	task.TaskType = domain.TaskType(taskType)
	task.Status = domain.TaskStatus(status)
	task.Caption = caption.String
	task.Hashtags = hashtags.String
	task.MediaID = mediaID.String
	task.ErrorMessage = errMsg.String
	if len(options) > 0 {
		task.Options = options
	}
	return task, nil
}

// UpdatePublishTaskStatus реализует domain.TaskRepo. Пустые поля результата не затирают сохранённые.
func (p *Postgres) UpdatePublishTaskStatus(ctx context.Context, id int64, status domain.TaskStatus, result domain.TaskResult) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE publish_tasks
SET status=$2,
    error_message=COALESCE(NULLIF($3, ''), error_message),
    media_id=COALESCE(NULLIF($4, ''), media_id),
    updated_at=now()
WHERE id=$1
`, id, string(status), result.ErrorMessage, result.MediaID)
	metrics.ObserveNetworkRequest("postgres", "tasks_update_status", "publish_tasks", start, err)
	if err != nil {
		return fmt.Errorf("update task %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
