package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mattn/go-sqlite3"

	"chat-server/errs"
	"chat-server/models"
)

// SQLite is the development and test backend. Documents live in per-entity
// tables with set-valued fields stored as JSON arrays; filters are evaluated
// in Go against the decoded documents, so it trades query pushdown for
// fidelity to the filter semantics of the production backend.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection avoids SQLITE_BUSY under concurrent writes and
	// keeps ":memory:" databases from being one-per-connection.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT NOT NULL,
		display_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		avatar_url TEXT,
		bio TEXT,
		status TEXT NOT NULL DEFAULT 'offline',
		last_seen DATETIME,
		channel_ids TEXT NOT NULL DEFAULT '[]',
		group_ids TEXT NOT NULL DEFAULT '[]',
		blocked_user_ids TEXT NOT NULL DEFAULT '[]',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		description TEXT,
		creator_id TEXT NOT NULL,
		type TEXT NOT NULL,
		member_ids TEXT NOT NULL DEFAULT '[]',
		admin_ids TEXT NOT NULL DEFAULT '[]',
		avatar_url TEXT,
		max_members INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		creator_id TEXT NOT NULL,
		member_ids TEXT NOT NULL DEFAULT '[]',
		admin_ids TEXT NOT NULL DEFAULT '[]',
		avatar_url TEXT,
		max_members INTEGER NOT NULL DEFAULT 0,
		settings TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL,
		sender_username TEXT NOT NULL,
		recipient_id TEXT,
		channel_id TEXT,
		group_id TEXT,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		attachment_ids TEXT NOT NULL DEFAULT '[]',
		timestamp DATETIME NOT NULL,
		edited_at DATETIME,
		edited BOOLEAN NOT NULL DEFAULT FALSE,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		read_by TEXT NOT NULL DEFAULT '[]',
		reply_to_message_id TEXT,
		version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id);
	CREATE INDEX IF NOT EXISTS idx_messages_group ON messages(group_id);
	CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient_id);
	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func encodeSet(set []string) string {
	if set == nil {
		set = []string{}
	}
	data, _ := json.Marshal(set)
	return string(data)
}

func decodeSet(data string) []string {
	var set []string
	if err := json.Unmarshal([]byte(data), &set); err != nil || set == nil {
		return []string{}
	}
	return set
}

func isUniqueViolation(err error) bool {
	if sqliteErr, ok := err.(sqlite3.Error); ok {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// --- Users ---

const userColumns = `id, username, email, display_name, password_hash, avatar_url, bio,
	status, last_seen, channel_ids, group_ids, blocked_user_ids, active,
	created_at, updated_at, version`

func (s *SQLite) scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var u models.User
	var avatarURL, bio sql.NullString
	var lastSeen sql.NullTime
	var channelIDs, groupIDs, blockedIDs string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.PasswordHash,
		&avatarURL, &bio, &u.Status, &lastSeen, &channelIDs, &groupIDs, &blockedIDs,
		&u.Active, &u.CreatedAt, &u.UpdatedAt, &u.Version)
	if err != nil {
		return nil, err
	}
	u.AvatarURL = avatarURL.String
	u.Bio = bio.String
	u.LastSeen = lastSeen.Time
	u.ChannelIDs = decodeSet(channelIDs)
	u.GroupIDs = decodeSet(groupIDs)
	u.BlockedUserIDs = decodeSet(blockedIDs)
	return &u, nil
}

func (s *SQLite) GetUser(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := s.scanUser(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("user", "id", id)
	}
	return u, err
}

func (s *SQLite) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	u, err := s.scanUser(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("user", "username", username)
	}
	return u, err
}

func (s *SQLite) ExistsUserByUsername(ctx context.Context, username string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&n)
	return n > 0, err
}

func (s *SQLite) ExistsUserByEmail(ctx context.Context, email string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE email = ?`, email).Scan(&n)
	return n > 0, err
}

func (s *SQLite) SaveUser(ctx context.Context, u *models.User) error {
	if u.Version == 0 {
		u.Version = 1
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO users (`+userColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.Username, u.Email, u.DisplayName, u.PasswordHash, u.AvatarURL, u.Bio,
			u.Status, u.LastSeen, encodeSet(u.ChannelIDs), encodeSet(u.GroupIDs),
			encodeSet(u.BlockedUserIDs), u.Active, u.CreatedAt, u.UpdatedAt, u.Version)
		if err != nil {
			u.Version = 0
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %v", errs.ErrConflict, err)
			}
		}
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET username = ?, email = ?, display_name = ?, password_hash = ?,
			avatar_url = ?, bio = ?, status = ?, last_seen = ?, channel_ids = ?,
			group_ids = ?, blocked_user_ids = ?, active = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		u.Username, u.Email, u.DisplayName, u.PasswordHash, u.AvatarURL, u.Bio,
		u.Status, u.LastSeen, encodeSet(u.ChannelIDs), encodeSet(u.GroupIDs),
		encodeSet(u.BlockedUserIDs), u.Active, u.UpdatedAt,
		u.ID, u.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	u.Version++
	return nil
}

func (s *SQLite) FindUsers(ctx context.Context, filter Filter) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		if filter.Matches(userField(u)) {
			out = append(out, u)
		}
	}
	return out, rows.Err()
}

func userField(u *models.User) func(string) interface{} {
	return func(name string) interface{} {
		switch name {
		case "_id":
			return u.ID
		case "username":
			return u.Username
		case "email":
			return u.Email
		case "status":
			return string(u.Status)
		case "channelIds":
			return u.ChannelIDs
		case "groupIds":
			return u.GroupIDs
		case "blockedUserIds":
			return u.BlockedUserIDs
		case "active":
			return u.Active
		}
		return nil
	}
}

// --- Channels ---

const channelColumns = `id, name, description, creator_id, type, member_ids, admin_ids,
	avatar_url, max_members, active, created_at, updated_at, version`

func (s *SQLite) scanChannel(row interface{ Scan(...interface{}) error }) (*models.Channel, error) {
	var c models.Channel
	var description, avatarURL sql.NullString
	var memberIDs, adminIDs string
	err := row.Scan(&c.ID, &c.Name, &description, &c.CreatorID, &c.Type, &memberIDs,
		&adminIDs, &avatarURL, &c.MaxMembers, &c.Active, &c.CreatedAt, &c.UpdatedAt, &c.Version)
	if err != nil {
		return nil, err
	}
	c.Description = description.String
	c.AvatarURL = avatarURL.String
	c.MemberIDs = decodeSet(memberIDs)
	c.AdminIDs = decodeSet(adminIDs)
	return &c, nil
}

func (s *SQLite) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	c, err := s.scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("channel", "id", id)
	}
	return c, err
}

func (s *SQLite) GetChannelByName(ctx context.Context, name string) (*models.Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE name = ?`, name)
	c, err := s.scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("channel", "name", name)
	}
	return c, err
}

func (s *SQLite) ExistsChannelByName(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels WHERE name = ?`, name).Scan(&n)
	return n > 0, err
}

func (s *SQLite) SaveChannel(ctx context.Context, c *models.Channel) error {
	if c.Version == 0 {
		c.Version = 1
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO channels (`+channelColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.Description, c.CreatorID, c.Type, encodeSet(c.MemberIDs),
			encodeSet(c.AdminIDs), c.AvatarURL, c.MaxMembers, c.Active,
			c.CreatedAt, c.UpdatedAt, c.Version)
		if err != nil {
			c.Version = 0
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %v", errs.ErrConflict, err)
			}
		}
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE channels SET name = ?, description = ?, type = ?,
			member_ids = ?, admin_ids = ?, avatar_url = ?, max_members = ?, active = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		c.Name, c.Description, c.Type, encodeSet(c.MemberIDs),
		encodeSet(c.AdminIDs), c.AvatarURL, c.MaxMembers, c.Active,
		c.UpdatedAt, c.ID, c.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	c.Version++
	return nil
}

func (s *SQLite) FindChannels(ctx context.Context, filter Filter) ([]*models.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+channelColumns+` FROM channels`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Channel
	for rows.Next() {
		c, err := s.scanChannel(rows)
		if err != nil {
			return nil, err
		}
		if filter.Matches(channelField(c)) {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}

func channelField(c *models.Channel) func(string) interface{} {
	return func(name string) interface{} {
		switch name {
		case "_id":
			return c.ID
		case "name":
			return c.Name
		case "creatorId":
			return c.CreatorID
		case "type":
			return string(c.Type)
		case "memberIds":
			return c.MemberIDs
		case "adminIds":
			return c.AdminIDs
		case "active":
			return c.Active
		}
		return nil
	}
}

// --- Groups ---

const groupColumns = `id, name, description, creator_id, member_ids, admin_ids,
	avatar_url, max_members, settings, active, created_at, updated_at, version`

func (s *SQLite) scanGroup(row interface{ Scan(...interface{}) error }) (*models.Group, error) {
	var g models.Group
	var description, avatarURL sql.NullString
	var memberIDs, adminIDs, settings string
	err := row.Scan(&g.ID, &g.Name, &description, &g.CreatorID, &memberIDs, &adminIDs,
		&avatarURL, &g.MaxMembers, &settings, &g.Active, &g.CreatedAt, &g.UpdatedAt, &g.Version)
	if err != nil {
		return nil, err
	}
	g.Description = description.String
	g.AvatarURL = avatarURL.String
	g.MemberIDs = decodeSet(memberIDs)
	g.AdminIDs = decodeSet(adminIDs)
	if err := json.Unmarshal([]byte(settings), &g.Settings); err != nil {
		g.Settings = models.DefaultGroupSettings()
	}
	return &g, nil
}

func (s *SQLite) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = ?`, id)
	g, err := s.scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("group", "id", id)
	}
	return g, err
}

func (s *SQLite) SaveGroup(ctx context.Context, g *models.Group) error {
	settings, err := json.Marshal(g.Settings)
	if err != nil {
		return err
	}

	if g.Version == 0 {
		g.Version = 1
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO groups (`+groupColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			g.ID, g.Name, g.Description, g.CreatorID, encodeSet(g.MemberIDs),
			encodeSet(g.AdminIDs), g.AvatarURL, g.MaxMembers, string(settings),
			g.Active, g.CreatedAt, g.UpdatedAt, g.Version)
		if err != nil {
			g.Version = 0
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %v", errs.ErrConflict, err)
			}
		}
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE groups SET name = ?, description = ?, member_ids = ?,
			admin_ids = ?, avatar_url = ?, max_members = ?, settings = ?, active = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		g.Name, g.Description, encodeSet(g.MemberIDs), encodeSet(g.AdminIDs),
		g.AvatarURL, g.MaxMembers, string(settings), g.Active,
		g.UpdatedAt, g.ID, g.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	g.Version++
	return nil
}

func (s *SQLite) FindGroups(ctx context.Context, filter Filter) ([]*models.Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+groupColumns+` FROM groups`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Group
	for rows.Next() {
		g, err := s.scanGroup(rows)
		if err != nil {
			return nil, err
		}
		if filter.Matches(groupField(g)) {
			out = append(out, g)
		}
	}
	return out, rows.Err()
}

func groupField(g *models.Group) func(string) interface{} {
	return func(name string) interface{} {
		switch name {
		case "_id":
			return g.ID
		case "name":
			return g.Name
		case "creatorId":
			return g.CreatorID
		case "memberIds":
			return g.MemberIDs
		case "adminIds":
			return g.AdminIDs
		case "active":
			return g.Active
		}
		return nil
	}
}

// --- Messages ---

const messageColumns = `id, sender_id, sender_username, recipient_id, channel_id, group_id,
	type, content, attachment_ids, timestamp, edited_at, edited, deleted, read_by,
	reply_to_message_id, version`

func (s *SQLite) scanMessage(row interface{ Scan(...interface{}) error }) (*models.Message, error) {
	var m models.Message
	var recipientID, channelID, groupID, replyTo sql.NullString
	var editedAt sql.NullTime
	var attachmentIDs, readBy string
	err := row.Scan(&m.ID, &m.SenderID, &m.SenderUsername, &recipientID, &channelID,
		&groupID, &m.Type, &m.Content, &attachmentIDs, &m.Timestamp, &editedAt,
		&m.Edited, &m.Deleted, &readBy, &replyTo, &m.Version)
	if err != nil {
		return nil, err
	}
	m.RecipientID = recipientID.String
	m.ChannelID = channelID.String
	m.GroupID = groupID.String
	m.ReplyToMessageID = replyTo.String
	if editedAt.Valid {
		t := editedAt.Time
		m.EditedAt = &t
	}
	m.AttachmentIDs = decodeSet(attachmentIDs)
	m.ReadBy = decodeSet(readBy)
	return &m, nil
}

func (s *SQLite) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := s.scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("message", "id", id)
	}
	return m, err
}

func (s *SQLite) SaveMessage(ctx context.Context, m *models.Message) error {
	if m.Version == 0 {
		m.Version = 1
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (`+messageColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.SenderID, m.SenderUsername, m.RecipientID, m.ChannelID, m.GroupID,
			m.Type, m.Content, encodeSet(m.AttachmentIDs), m.Timestamp, m.EditedAt,
			m.Edited, m.Deleted, encodeSet(m.ReadBy), m.ReplyToMessageID, m.Version)
		if err != nil {
			m.Version = 0
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %v", errs.ErrConflict, err)
			}
		}
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, attachment_ids = ?, edited_at = ?, edited = ?,
			deleted = ?, read_by = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		m.Content, encodeSet(m.AttachmentIDs), m.EditedAt, m.Edited, m.Deleted,
		encodeSet(m.ReadBy), m.ID, m.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	m.Version++
	return nil
}

func (s *SQLite) FindMessages(ctx context.Context, filter Filter, page Page) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		if filter.Matches(messageField(m)) {
			out = append(out, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if page.NewestFirst {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if page.Offset > 0 {
		if page.Offset >= len(out) {
			return nil, nil
		}
		out = out[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(out) {
		out = out[:page.Limit]
	}
	return out, nil
}

func (s *SQLite) CountMessages(ctx context.Context, filter Filter) (int64, error) {
	msgs, err := s.FindMessages(ctx, filter, Page{})
	if err != nil {
		return 0, err
	}
	return int64(len(msgs)), nil
}

func messageField(m *models.Message) func(string) interface{} {
	return func(name string) interface{} {
		switch name {
		case "_id":
			return m.ID
		case "senderId":
			return m.SenderID
		case "recipientId":
			return m.RecipientID
		case "channelId":
			return m.ChannelID
		case "groupId":
			return m.GroupID
		case "type":
			return string(m.Type)
		case "content":
			return m.Content
		case "timestamp":
			return m.Timestamp
		case "deleted":
			return m.Deleted
		case "readBy":
			return m.ReadBy
		case "replyToMessageId":
			return m.ReplyToMessageID
		}
		return nil
	}
}

var _ Store = (*SQLite)(nil)
