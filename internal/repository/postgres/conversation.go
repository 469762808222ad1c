package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/repository"
)

type ConversationStore struct {
	pool *pgxpool.Pool
}

func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{pool: pool}
}

var _ repository.ConversationRepository = (*ConversationStore)(nil)

// The upserts below lock the conversation row until the surrounding
// transaction commits. Concurrent appends to one conversation therefore
// run one at a time, and last_message_at only moves forward.
const (
	upsertPublic = `
		INSERT INTO conversations (kind, last_message_at)
		VALUES ('public', clock_timestamp())
		ON CONFLICT (kind) WHERE kind = 'public'
		DO UPDATE SET
			last_message_at = GREATEST(conversations.last_message_at, clock_timestamp()),
			updated_at = now()
		RETURNING id, last_message_at`

	upsertPrivate = `
		INSERT INTO conversations (kind, participants, last_message_at)
		VALUES ('private', $1, clock_timestamp())
		ON CONFLICT (participants) WHERE kind = 'private'
		DO UPDATE SET
			last_message_at = GREATEST(conversations.last_message_at, clock_timestamp()),
			updated_at = now()
		RETURNING id, last_message_at`

	// participants is only written on insert: it is the membership
	// snapshot at first message and is not refreshed afterwards.
	upsertGroup = `
		INSERT INTO conversations (kind, participants, group_name, last_message_at)
		VALUES ('group', $1, $2, clock_timestamp())
		ON CONFLICT (group_name) WHERE kind = 'group'
		DO UPDATE SET
			last_message_at = GREATEST(conversations.last_message_at, clock_timestamp()),
			updated_at = now()
		RETURNING id, last_message_at`

	messageColumns = `m.id, m.conversation_id, m.kind, m.sender, m.recipient, m.group_name, m.body, m.attachment, m.created_at`
)

func (s *ConversationStore) EnsurePublic(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (kind) VALUES ('public')
		ON CONFLICT (kind) WHERE kind = 'public' DO NOTHING`)
	if err != nil {
		return fmt.Errorf("ensure public conversation: %w", err)
	}
	return nil
}

func (s *ConversationStore) AppendMessage(ctx context.Context, sel models.Selector, msg models.Message) (*models.Message, error) {
	if err := sel.Validate(); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	var query string
	var args []any
	switch sel.Kind {
	case models.KindPublic:
		query = upsertPublic
	case models.KindPrivate:
		query = upsertPrivate
		args = []any{sel.Participants}
	case models.KindGroup:
		query = upsertGroup
		args = []any{sel.Participants, sel.GroupName}
	}

	out := msg
	out.Kind = sel.Kind
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var stamp time.Time
		if err := tx.QueryRow(ctx, query, args...).Scan(&out.ConversationID, &stamp); err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}
		out.CreatedAt = stamp

		err := tx.QueryRow(ctx, `
			INSERT INTO messages (conversation_id, kind, sender, recipient, group_name, body, attachment, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			out.ConversationID, out.Kind, out.Sender, out.Recipient, out.GroupName, out.Text, out.Attachment, out.CreatedAt,
		).Scan(&out.ID)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &out, nil
}

func (s *ConversationStore) FetchPublic(ctx context.Context) ([]models.Message, error) {
	return s.fetch(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.kind = 'public'
		ORDER BY m.created_at, m.id`)
}

func (s *ConversationStore) FetchPrivate(ctx context.Context, a, b string) ([]models.Message, error) {
	sel := models.PrivateSelector(a, b)
	if err := sel.Validate(); err != nil {
		return make([]models.Message, 0), nil
	}
	return s.fetch(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.kind = 'private' AND c.participants = $1
		ORDER BY m.created_at, m.id`, sel.Participants)
}

func (s *ConversationStore) FetchGroup(ctx context.Context, groupName string) ([]models.Message, error) {
	return s.fetch(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.kind = 'group' AND c.group_name = $1
		ORDER BY m.created_at, m.id`, groupName)
}

func (s *ConversationStore) fetch(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func (s *ConversationStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`, id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (s *ConversationStore) DeleteMessage(ctx context.Context, id int64, requester models.Requester) (*models.Message, error) {
	var removed *models.Message
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = $1 FOR UPDATE`, id)
		m, err := scanMessage(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return repository.ErrNotFound
			}
			return fmt.Errorf("lock message: %w", err)
		}
		if !m.CanBeDeletedBy(requester) {
			return repository.ErrUnauthorized
		}
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id); err != nil {
			return fmt.Errorf("remove message: %w", err)
		}
		removed = m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete message %d: %w", id, err)
	}
	return removed, nil
}

// GetConversation reads conversation metadata, nil when nothing has been
// appended yet. Delivery never routes on it; tests use it to inspect the
// stored participant snapshot.
func (s *ConversationStore) GetConversation(ctx context.Context, sel models.Selector) (*models.Conversation, error) {
	const columns = `id, kind, participants, COALESCE(group_name, ''), created_at, updated_at`

	var row pgx.Row
	switch sel.Kind {
	case models.KindPublic:
		row = s.pool.QueryRow(ctx, `SELECT `+columns+` FROM conversations WHERE kind = 'public'`)
	case models.KindPrivate:
		row = s.pool.QueryRow(ctx, `SELECT `+columns+` FROM conversations WHERE kind = 'private' AND participants = $1`,
			models.NormalizeParticipants(sel.Participants))
	case models.KindGroup:
		row = s.pool.QueryRow(ctx, `SELECT `+columns+` FROM conversations WHERE kind = 'group' AND group_name = $1`, sel.GroupName)
	default:
		return nil, fmt.Errorf("get conversation: unknown kind %q", sel.Kind)
	}

	var c models.Conversation
	if err := row.Scan(&c.ID, &c.Kind, &c.Participants, &c.GroupName, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.Kind,
		&m.Sender,
		&m.Recipient,
		&m.GroupName,
		&m.Text,
		&m.Attachment,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
