package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/repository"
)

type GroupStore struct {
	pool *pgxpool.Pool
}

func NewGroupStore(pool *pgxpool.Pool) *GroupStore {
	return &GroupStore{pool: pool}
}

var _ repository.GroupRepository = (*GroupStore)(nil)

// initialMembers adds the creator without touching the caller's slice.
func initialMembers(members []string, createdBy string) []string {
	all := make([]string, 0, len(members)+1)
	all = append(all, members...)
	return models.NormalizeParticipants(append(all, createdBy))
}

// Create inserts the group and its initial members in one transaction.
// The creator is always a member.
func (s *GroupStore) Create(ctx context.Context, name, createdBy string, members []string) (*models.Group, error) {
	members = initialMembers(members, createdBy)

	var g models.Group
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO groups (name, created_by)
			VALUES ($1, $2)
			RETURNING id, name, created_by, created_at`,
			name, createdBy,
		).Scan(&g.ID, &g.Name, &g.CreatedBy, &g.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return repository.ErrConflict
			}
			return fmt.Errorf("insert group: %w", err)
		}

		// unnest turns the handle array into rows so every member is
		// inserted with a single statement.
		_, err = tx.Exec(ctx, `
			INSERT INTO group_members (group_id, user_name)
			SELECT $1, unnest($2::text[])`,
			g.ID, members,
		)
		if err != nil {
			return fmt.Errorf("insert group members: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	g.Members = members
	return &g, nil
}

func (s *GroupStore) Get(ctx context.Context, name string) (*models.Group, error) {
	var g models.Group
	err := s.pool.QueryRow(ctx, `
		SELECT g.id, g.name, g.created_by, g.created_at,
			COALESCE(array_agg(m.user_name ORDER BY m.user_name) FILTER (WHERE m.user_name IS NOT NULL), '{}')
		FROM groups g
		LEFT JOIN group_members m ON m.group_id = g.id
		WHERE g.name = $1
		GROUP BY g.id`,
		name,
	).Scan(&g.ID, &g.Name, &g.CreatedBy, &g.CreatedAt, &g.Members)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return &g, nil
}

func (s *GroupStore) Members(ctx context.Context, name string) ([]string, error) {
	g, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("group %q: %w", name, repository.ErrNotFound)
	}
	return g.Members, nil
}

func (s *GroupStore) AddMember(ctx context.Context, name, userName string) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO group_members (group_id, user_name)
		SELECT id, $2 FROM groups WHERE name = $1
		ON CONFLICT DO NOTHING`,
		name, userName,
	)
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the group is missing or the user is already a member.
		g, err := s.Get(ctx, name)
		if err != nil {
			return err
		}
		if g == nil {
			return fmt.Errorf("group %q: %w", name, repository.ErrNotFound)
		}
	}
	return nil
}

// RemoveMember is a no-op for non-members.
func (s *GroupStore) RemoveMember(ctx context.Context, name, userName string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM group_members
		USING groups
		WHERE groups.id = group_members.group_id AND groups.name = $1 AND group_members.user_name = $2`,
		name, userName,
	)
	if err != nil {
		return fmt.Errorf("remove group member: %w", err)
	}
	return nil
}

func (s *GroupStore) ListForUser(ctx context.Context, userName string) ([]models.Group, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.id, g.name, g.created_by, g.created_at,
			array_agg(all_m.user_name ORDER BY all_m.user_name)
		FROM groups g
		JOIN group_members me ON me.group_id = g.id AND me.user_name = $1
		JOIN group_members all_m ON all_m.group_id = g.id
		GROUP BY g.id
		ORDER BY g.name`,
		userName,
	)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	groups := make([]models.Group, 0)
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedBy, &g.CreatedAt, &g.Members); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}
