package identity

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RevokeCriteria selects token rows for deletion. Zero-value fields are
// ignored; at least one selector must be set.
type RevokeCriteria struct {
	Token  string
	Types  []TokenType
	UserID uuid.UUID
	CUID   string
}

func (c RevokeCriteria) isZero() bool {
	return c.Token == "" && len(c.Types) == 0 && c.UserID == uuid.Nil && c.CUID == ""
}

type Tokens interface {
	repository.Repository[*Token]

	Create(ctx context.Context, record *Token, criteria ...repository.InsertCriteria) (*Token, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Token, criteria ...repository.InsertCriteria) (*Token, error)

	FindByClaims(ctx context.Context, raw string, claims *TokenClaims) (*Token, error)
	FindByClaimsTx(ctx context.Context, tx bun.IDB, raw string, claims *TokenClaims) (*Token, error)

	Revoke(ctx context.Context, criteria RevokeCriteria) (int64, error)
	RevokeTx(ctx context.Context, tx bun.IDB, criteria RevokeCriteria) (int64, error)
}

type tokens struct {
	repository.Repository[*Token]
	db *bun.DB
}

var (
	_ Tokens                        = (*tokens)(nil)
	_ repository.Repository[*Token] = (*tokens)(nil)
)

func NewTokensRepository(db *bun.DB) Tokens {
	repo := repository.NewRepository[*Token](db, repository.ModelHandlers[*Token]{
		NewRecord: func() *Token { return &Token{} },
		GetID: func(t *Token) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *Token, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
		GetIdentifier: func() string {
			return "token"
		},
	})

	return &tokens{
		Repository: repo,
		db:         db,
	}
}

func (r *tokens) Create(ctx context.Context, record *Token, criteria ...repository.InsertCriteria) (*Token, error) {
	return r.CreateTx(ctx, r.db, record, criteria...)
}

func (r *tokens) CreateTx(ctx context.Context, tx bun.IDB, record *Token, criteria ...repository.InsertCriteria) (*Token, error) {
	if record != nil && record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return r.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (r *tokens) FindByClaims(ctx context.Context, raw string, claims *TokenClaims) (*Token, error) {
	return r.FindByClaimsTx(ctx, r.db, raw, claims)
}

// FindByClaimsTx looks up the stored row every decoded field must agree with.
// The expiry cross-check happens in Go to stay independent of driver-specific
// timestamp formatting.
func (r *tokens) FindByClaimsTx(ctx context.Context, tx bun.IDB, raw string, claims *TokenClaims) (*Token, error) {
	record := &Token{}

	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", raw).
		Where("?TableAlias.type = ?", claims.TokenType).
		Where("?TableAlias.user_id = ?", claims.Subject).
		Where("?TableAlias.cuid = ?", claims.CUID).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"type": claims.TokenType,
					"cuid": claims.CUID,
				})
		}
		return nil, err
	}

	if !record.ExpiresAt.Truncate(timePrecision).Equal(claims.Expires().Truncate(timePrecision)) {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"type":   claims.TokenType,
				"cuid":   claims.CUID,
				"reason": "expiry mismatch",
			})
	}

	return record, nil
}

func (r *tokens) Revoke(ctx context.Context, criteria RevokeCriteria) (int64, error) {
	return r.RevokeTx(ctx, r.db, criteria)
}

func (r *tokens) RevokeTx(ctx context.Context, tx bun.IDB, criteria RevokeCriteria) (int64, error) {
	if criteria.isZero() {
		return 0, nil
	}

	q := tx.NewDelete().Model((*Token)(nil))

	if criteria.Token != "" {
		q = q.Where("token = ?", criteria.Token)
	}
	if len(criteria.Types) > 0 {
		q = q.Where("type IN (?)", bun.In(criteria.Types))
	}
	if criteria.UserID != uuid.Nil {
		q = q.Where("user_id = ?", criteria.UserID)
	}
	if criteria.CUID != "" {
		q = q.Where("cuid = ?", criteria.CUID)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
