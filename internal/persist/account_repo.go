package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/CCasusensa/kinoko-sub000/internal/world"
)

var (
	ErrAccountNotFound = errors.New("persist: account not found")
	ErrWrongPassword   = errors.New("persist: wrong password")
	ErrUsernameTaken   = errors.New("persist: username already taken")
)

// AccountRepo reads and writes accounts. Passwords are stored as
// bcrypt hashes and never leave the database.
type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// Create registers a new account with a hashed password.
func (r *AccountRepo) Create(ctx context.Context, username, password string) (*world.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	var id int32
	err = r.pool.QueryRow(ctx,
		`INSERT INTO accounts (username, password_hash) VALUES ($1, $2)
		 ON CONFLICT (username) DO NOTHING RETURNING id`,
		username, string(hash)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, fmt.Errorf("insert account %q: %w", username, err)
	}
	return &world.Account{ID: id, Username: username, CharacterSlots: 3}, nil
}

// Authenticate verifies the password and returns the account.
func (r *AccountRepo) Authenticate(ctx context.Context, username, password string) (*world.Account, error) {
	var (
		acc  world.Account
		hash string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, character_slots, nx, maple_points
		 FROM accounts WHERE username = $1`,
		username).Scan(&acc.ID, &acc.Username, &hash, &acc.CharacterSlots, &acc.NX, &acc.MaplePoints)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select account %q: %w", username, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrWrongPassword
	}
	return &acc, nil
}

// Get loads an account by id, for migrate-in after central vouched
// for the session.
func (r *AccountRepo) Get(ctx context.Context, id int32) (*world.Account, error) {
	var acc world.Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, character_slots, nx, maple_points
		 FROM accounts WHERE id = $1`,
		id).Scan(&acc.ID, &acc.Username, &acc.CharacterSlots, &acc.NX, &acc.MaplePoints)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select account %d: %w", id, err)
	}
	return &acc, nil
}

// SaveWallet writes the cash balances back.
func (r *AccountRepo) SaveWallet(ctx context.Context, acc *world.Account) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET nx = $2, maple_points = $3 WHERE id = $1`,
		acc.ID, acc.NX, acc.MaplePoints)
	if err != nil {
		return fmt.Errorf("update account %d wallet: %w", acc.ID, err)
	}
	return nil
}
