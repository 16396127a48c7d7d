package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const userColumns = "id, username, email, profile_image, bio"

type SQLiteUserStore struct {
	db *sql.DB
}

func NewSQLiteUserStore(db *sql.DB) *SQLiteUserStore {
	return &SQLiteUserStore{
		db: db,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		user         User
		profileImage sql.NullString
		bio          sql.NullString
	)
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &profileImage, &bio); err != nil {
		return nil, err
	}
	user.ProfileImage = profileImage.String
	user.Bio = bio.String
	return &user, nil
}

func (s *SQLiteUserStore) CreateUser(ctx context.Context, input UserCreateInput) (*User, error) {
	existing, err := s.GetUserByUsername(ctx, input.Username)
	if err != nil {
		return nil, fmt.Errorf("GetUserByUsername: %w", err)
	}
	if existing != nil {
		return nil, ErrConflictedUser
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, email, password) VALUES (@username, @email, @password)",
		sql.Named("username", input.Username),
		sql.Named("email", input.Email),
		sql.Named("password", string(hashed)))
	if err != nil {
		return nil, fmt.Errorf("ExecContext: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("LastInsertId: %w", err)
	}

	return &User{ID: id, Username: input.Username, Email: input.Email}, nil
}

func (s *SQLiteUserStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ? LIMIT 1", id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return user, nil
}

func (s *SQLiteUserStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ? LIMIT 1", username)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return user, nil
}

func (s *SQLiteUserStore) Authenticate(ctx context.Context, username, password string) (*User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, password FROM users WHERE username = ? LIMIT 1", username)

	var (
		id     int64
		stored string
	)
	if err := row.Scan(&id, &stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("scanning password: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}

	return s.GetUserByID(ctx, id)
}

func (s *SQLiteUserStore) UpdateUser(ctx context.Context, id int64, input UserUpdateInput) (*User, error) {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)

	if input.Username != nil {
		other, err := s.GetUserByUsername(ctx, *input.Username)
		if err != nil {
			return nil, fmt.Errorf("GetUserByUsername: %w", err)
		}
		if other != nil && other.ID != id {
			return nil, ErrConflictedUser
		}
		sets = append(sets, "username = @username")
		args = append(args, sql.Named("username", *input.Username))
	}
	if input.Email != nil {
		sets = append(sets, "email = @email")
		args = append(args, sql.Named("email", *input.Email))
	}
	if input.Bio != nil {
		sets = append(sets, "bio = @bio")
		args = append(args, sql.Named("bio", *input.Bio))
	}
	if input.ProfileImage != nil {
		sets = append(sets, "profile_image = @profile_image")
		args = append(args, sql.Named("profile_image", *input.ProfileImage))
	}

	if len(sets) > 0 {
		args = append(args, sql.Named("id", id))
		query := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE id = @id"
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("ExecContext: %w", err)
		}
	}

	user, err := s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *SQLiteUserStore) GetUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY username ASC")
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}
	return users, nil
}
