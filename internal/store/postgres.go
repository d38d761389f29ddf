package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate reports a unique-constraint violation, e.g. inviting the
// same user to a space twice or reusing a username.
var ErrDuplicate = errors.New("already exists")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, secret_api_key)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Username, user.PasswordHash, user.SecretAPIKey)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.getUser(ctx, `WHERE id=$1`, userID)
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.getUser(ctx, `WHERE username=$1`, username)
}

func (s *PostgresStore) GetUserByAPIKey(ctx context.Context, key string) (User, error) {
	return s.getUser(ctx, `WHERE secret_api_key=$1`, key)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (User, error) {
	var user User
	query := `SELECT id, username, password_hash, secret_api_key, created_at FROM users ` + where
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.SecretAPIKey,
		&user.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

const spaceColumns = `id, owner_id, name, description, is_public, featured, objects, grid, grid_values, settings, created_at, updated_at`

func (s *PostgresStore) GetSpace(ctx context.Context, spaceID string) (Space, error) {
	var item Space
	err := s.db.QueryRowContext(ctx, `
		SELECT `+spaceColumns+`
		FROM spaces
		WHERE id=$1
	`, spaceID).Scan(
		&item.ID,
		&item.OwnerID,
		&item.Name,
		&item.Description,
		&item.IsPublic,
		&item.Featured,
		&item.Objects,
		&item.Grid,
		&item.GridValues,
		&item.Settings,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Space{}, err
	}
	return item, nil
}

func (s *PostgresStore) CreateSpace(ctx context.Context, item Space) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spaces (id, owner_id, name, description, is_public, objects, grid, grid_values, settings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.OwnerID, item.Name, item.Description, item.IsPublic,
		item.Objects, item.Grid, item.GridValues, item.Settings)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert space: %w", err)
	}
	return nil
}

// UpdateSpaceFields writes only the columns present in the patch. An
// empty patch is a no-op.
func (s *PostgresStore) UpdateSpaceFields(ctx context.Context, spaceID string, u SpaceUpdate) error {
	sets := make([]string, 0, 8)
	args := []any{spaceID}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Description != nil {
		add("description", *u.Description)
	}
	if u.IsPublic != nil {
		add("is_public", *u.IsPublic)
	}
	if u.Objects != nil {
		add("objects", []byte(u.Objects))
	}
	if u.Grid != nil {
		add("grid", []byte(u.Grid))
	}
	if u.GridValues != nil {
		add("grid_values", []byte(u.GridValues))
	}
	if u.Settings != nil {
		add("settings", []byte(u.Settings))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at=NOW()")

	query := `UPDATE spaces SET ` + strings.Join(sets, ", ") + ` WHERE id=$1`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update space: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update space: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteSpace(ctx context.Context, spaceID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM spaces WHERE id=$1`, spaceID)
	if err != nil {
		return fmt.Errorf("delete space: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete space: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const summaryColumns = `s.id, s.owner_id, u.username, s.name, s.description, s.is_public, s.updated_at`

// ListPublicSpaces pages through public spaces, newest first.
func (s *PostgresStore) ListPublicSpaces(ctx context.Context, limit, offset int) ([]SpaceSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+`
		FROM spaces s
		JOIN users u ON u.id = s.owner_id
		WHERE s.is_public
		ORDER BY s.updated_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list public spaces: %w", err)
	}
	return scanSummaries(rows)
}

// SearchPublicSpaces is the keyword search fallback over name and
// description, used when the search index is unavailable.
func (s *PostgresStore) SearchPublicSpaces(ctx context.Context, keyword string, limit, offset int) ([]SpaceSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+`
		FROM spaces s
		JOIN users u ON u.id = s.owner_id
		WHERE s.is_public
			AND to_tsvector('simple', s.name || ' ' || s.description) @@ plainto_tsquery('simple', $1)
		ORDER BY s.updated_at DESC
		LIMIT $2 OFFSET $3
	`, keyword, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("search public spaces: %w", err)
	}
	return scanSummaries(rows)
}

// GetPublicSpacesByIDs resolves index hits back to rows, preserving the
// given order.
func (s *PostgresStore) GetPublicSpacesByIDs(ctx context.Context, ids []string) ([]SpaceSummary, error) {
	if len(ids) == 0 {
		return []SpaceSummary{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+`
		FROM spaces s
		JOIN users u ON u.id = s.owner_id
		WHERE s.is_public AND s.id IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("get spaces by ids: %w", err)
	}
	items, err := scanSummaries(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]SpaceSummary, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	ordered := make([]SpaceSummary, 0, len(items))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			ordered = append(ordered, item)
		}
	}
	return ordered, nil
}

func (s *PostgresStore) ListFeaturedSpaces(ctx context.Context) ([]SpaceSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+`
		FROM spaces s
		JOIN users u ON u.id = s.owner_id
		WHERE s.is_public AND s.featured
		ORDER BY s.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list featured spaces: %w", err)
	}
	return scanSummaries(rows)
}

// ListSpacesForUser returns the spaces the user owns or has accepted an
// invite to.
func (s *PostgresStore) ListSpacesForUser(ctx context.Context, userID string) ([]SpaceSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+`
		FROM spaces s
		JOIN users u ON u.id = s.owner_id
		WHERE s.owner_id = $1
			OR EXISTS (
				SELECT 1 FROM participants p
				WHERE p.space_id = s.id AND p.user_id = $1 AND p.status = 'accepted'
			)
		ORDER BY s.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list spaces for user: %w", err)
	}
	return scanSummaries(rows)
}

func scanSummaries(rows *sql.Rows) ([]SpaceSummary, error) {
	defer rows.Close()
	items := make([]SpaceSummary, 0)
	for rows.Next() {
		var item SpaceSummary
		if err := rows.Scan(
			&item.ID,
			&item.OwnerID,
			&item.OwnerName,
			&item.Name,
			&item.Description,
			&item.IsPublic,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan space summary: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spaces: %w", err)
	}
	return items, nil
}

// IsMember reports whether the user has accepted an invite to the space.
// Ownership does not count as membership here.
func (s *PostgresStore) IsMember(ctx context.Context, spaceID, userID string) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM participants
			WHERE space_id=$1 AND user_id=$2 AND status='accepted'
		)
	`, spaceID, userID).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return member, nil
}

func (s *PostgresStore) InviteParticipant(ctx context.Context, spaceID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (space_id, user_id, status)
		VALUES ($1, $2, 'invited')
	`, spaceID, userID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("invite participant: %w", err)
	}
	return nil
}

func (s *PostgresStore) AcceptInvite(ctx context.Context, spaceID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE participants SET status='accepted'
		WHERE space_id=$1 AND user_id=$2 AND status='invited'
	`, spaceID, userID)
	if err != nil {
		return fmt.Errorf("accept invite: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("accept invite: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RemoveParticipant covers decline, leave and uninvite.
func (s *PostgresStore) RemoveParticipant(ctx context.Context, spaceID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM participants WHERE space_id=$1 AND user_id=$2
	`, spaceID, userID)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, spaceID string) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.space_id, p.user_id, u.username, p.status, p.invited_at
		FROM participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.space_id=$1
		ORDER BY p.invited_at
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	items := make([]Participant, 0)
	for rows.Next() {
		var item Participant
		if err := rows.Scan(&item.SpaceID, &item.UserID, &item.Username, &item.Status, &item.InvitedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AddFavorite(ctx context.Context, userID, spaceID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO favorites (user_id, space_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, space_id) DO NOTHING
	`, userID, spaceID)
	if err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveFavorite(ctx context.Context, userID, spaceID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM favorites WHERE user_id=$1 AND space_id=$2
	`, userID, spaceID)
	if err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsFavorite(ctx context.Context, userID, spaceID string) (bool, error) {
	var fav bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM favorites WHERE user_id=$1 AND space_id=$2)
	`, userID, spaceID).Scan(&fav)
	if err != nil {
		return false, fmt.Errorf("check favorite: %w", err)
	}
	return fav, nil
}

func (s *PostgresStore) ListFavorites(ctx context.Context, userID string) ([]SpaceSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+`
		FROM favorites f
		JOIN spaces s ON s.id = f.space_id
		JOIN users u ON u.id = s.owner_id
		WHERE f.user_id=$1
		ORDER BY s.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return scanSummaries(rows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
