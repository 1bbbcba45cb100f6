package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

type Repository interface {
	CreateVideo(ctx context.Context, video *Video) error
	GetVideo(ctx context.Context, id string) (*Video, error)
	ListVideos(ctx context.Context) ([]*Video, error)
	ListVideosByStatus(ctx context.Context, status string) ([]*Video, error)
	UpdateStatus(ctx context.Context, id, status, errorMsg string) error
	SetDuration(ctx context.Context, id string, duration float64) error
	SetIndexHandle(ctx context.Context, id, handle string, searchAvailable bool) error
	DeleteVideo(ctx context.Context, id string) error

	AppendFrames(ctx context.Context, videoID string, frames []*Frame) error
	ListFramesByVideo(ctx context.Context, videoID string) ([]*Frame, error)
	CountFrames(ctx context.Context, videoID string) (int, error)
	FrameByTimestamp(ctx context.Context, videoID string, ts float64) (*Frame, error)
	SetFrameDescriptions(ctx context.Context, videoID string, descriptions map[string]string) error
	DeleteFrames(ctx context.Context, videoID string) error

	ReplaceThumbnail(ctx context.Context, thumb *Thumbnail) error
	GetThumbnail(ctx context.Context, videoID string) (*Thumbnail, error)
	DeleteThumbnail(ctx context.Context, videoID string) error

	AddChatMessage(ctx context.Context, msg *ChatMessage) error
	ListChatMessages(ctx context.Context, videoID string, limit int) ([]*ChatMessage, error)
	ClearChatMessages(ctx context.Context, videoID string) error

	ListFrameRows(ctx context.Context) ([]*Frame, error)
	ListThumbnailRows(ctx context.Context) ([]*Thumbnail, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateVideo(ctx context.Context, v *Video) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO videos (id, filename, path, duration, status, error, index_handle, search_available, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.Filename, v.Path, v.Duration, v.Status, nullString(v.Error), nullString(v.IndexHandle),
		boolToInt(v.SearchAvailable), v.CreatedAt.Format(time.RFC3339), v.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetVideo(ctx context.Context, id string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, filename, path, duration, status, error, index_handle, search_available, created_at, updated_at
		FROM videos WHERE id = ?
	`, id)
	return scanVideoRow(row)
}

func (r *SQLiteRepository) ListVideos(ctx context.Context) ([]*Video, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, filename, path, duration, status, error, index_handle, search_available, created_at, updated_at
		FROM videos ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVideos(rows)
}

func (r *SQLiteRepository) ListVideosByStatus(ctx context.Context, status string) ([]*Video, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, filename, path, duration, status, error, index_handle, search_available, created_at, updated_at
		FROM videos WHERE status = ? ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVideos(rows)
}

// UpdateStatus advances a video through the state machine. The current
// status is read and validated inside the same transaction so a racing
// writer cannot slip an illegal transition through.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id, status, errorMsg string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM videos WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return &NotFoundError{VideoID: id}
	}
	if err != nil {
		return err
	}

	if !CanTransition(current, status) {
		return &IllegalTransitionError{VideoID: id, From: current, To: status}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE videos SET status = ?, error = ?, updated_at = datetime('now') WHERE id = ?
	`, status, nullString(errorMsg), id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *SQLiteRepository) SetDuration(ctx context.Context, id string, duration float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE videos SET duration = ?, updated_at = datetime('now') WHERE id = ?
	`, duration, id)
	return err
}

func (r *SQLiteRepository) SetIndexHandle(ctx context.Context, id, handle string, searchAvailable bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE videos SET index_handle = ?, search_available = ?, updated_at = datetime('now') WHERE id = ?
	`, nullString(handle), boolToInt(searchAvailable), id)
	return err
}

func (r *SQLiteRepository) DeleteVideo(ctx context.Context, id string) error {
	// Frames, thumbnails and chat messages cascade via foreign keys.
	_, err := r.db.ExecContext(ctx, "DELETE FROM videos WHERE id = ?", id)
	return err
}

// AppendFrames writes a batch of frames in a single transaction.
// The batch is all-or-nothing.
func (r *SQLiteRepository) AppendFrames(ctx context.Context, videoID string, frames []*Frame) error {
	if len(frames) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO frames (id, video_id, seq, ts_offset, path, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range frames {
		_, err := stmt.ExecContext(ctx, f.ID, videoID, f.Seq, f.Timestamp, f.Path,
			nullString(f.Description), f.CreatedAt.Format(time.RFC3339))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SetFrameDescriptions updates frame descriptions in one transaction,
// keyed by frame id.
func (r *SQLiteRepository) SetFrameDescriptions(ctx context.Context, videoID string, descriptions map[string]string) error {
	if len(descriptions) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE frames SET description = ? WHERE id = ? AND video_id = ?
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, desc := range descriptions {
		if _, err := stmt.ExecContext(ctx, nullString(desc), id, videoID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepository) ListFramesByVideo(ctx context.Context, videoID string) ([]*Frame, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, video_id, seq, ts_offset, path, description, created_at
		FROM frames WHERE video_id = ? ORDER BY seq ASC
	`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFrames(rows)
}

func (r *SQLiteRepository) CountFrames(ctx context.Context, videoID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM frames WHERE video_id = ?", videoID).Scan(&count)
	return count, err
}

// FrameByTimestamp returns the latest frame at or before ts, falling
// back to the earliest frame for timestamps before the first sample.
func (r *SQLiteRepository) FrameByTimestamp(ctx context.Context, videoID string, ts float64) (*Frame, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, video_id, seq, ts_offset, path, description, created_at
		FROM frames WHERE video_id = ? AND ts_offset <= ?
		ORDER BY ts_offset DESC LIMIT 1
	`, videoID, ts)

	frame, err := scanFrameRow(row)
	if err != nil {
		return nil, err
	}
	if frame != nil {
		return frame, nil
	}

	row = r.db.QueryRowContext(ctx, `
		SELECT id, video_id, seq, ts_offset, path, description, created_at
		FROM frames WHERE video_id = ? ORDER BY seq ASC LIMIT 1
	`, videoID)
	return scanFrameRow(row)
}

func (r *SQLiteRepository) DeleteFrames(ctx context.Context, videoID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM frames WHERE video_id = ?", videoID)
	return err
}

func (r *SQLiteRepository) ReplaceThumbnail(ctx context.Context, t *Thumbnail) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO thumbnails (video_id, path, created_at) VALUES (?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET path = excluded.path, created_at = excluded.created_at
	`, t.VideoID, t.Path, t.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetThumbnail(ctx context.Context, videoID string) (*Thumbnail, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT video_id, path, created_at FROM thumbnails WHERE video_id = ?
	`, videoID)

	var t Thumbnail
	var createdAt string
	err := row.Scan(&t.VideoID, &t.Path, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &t, nil
}

func (r *SQLiteRepository) DeleteThumbnail(ctx context.Context, videoID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM thumbnails WHERE video_id = ?", videoID)
	return err
}

func (r *SQLiteRepository) AddChatMessage(ctx context.Context, m *ChatMessage) error {
	citations, err := json.Marshal(m.Citations)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, video_id, message, response, citations, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.VideoID, m.Message, m.Response, string(citations), m.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) ListChatMessages(ctx context.Context, videoID string, limit int) ([]*ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, video_id, message, response, citations, created_at
		FROM chat_messages WHERE video_id = ? ORDER BY created_at ASC LIMIT ?
	`, videoID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*ChatMessage
	for rows.Next() {
		var m ChatMessage
		var citations sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.VideoID, &m.Message, &m.Response, &citations, &createdAt); err != nil {
			return nil, err
		}
		if citations.Valid && citations.String != "" {
			if err := json.Unmarshal([]byte(citations.String), &m.Citations); err != nil {
				return nil, err
			}
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

func (r *SQLiteRepository) ClearChatMessages(ctx context.Context, videoID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM chat_messages WHERE video_id = ?", videoID)
	return err
}

// ListFrameRows returns every frame row in the database. Used by the
// reconciliation sweep.
func (r *SQLiteRepository) ListFrameRows(ctx context.Context) ([]*Frame, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, video_id, seq, ts_offset, path, description, created_at
		FROM frames ORDER BY video_id, seq
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFrames(rows)
}

// ListThumbnailRows returns every thumbnail row in the database. Used by
// the reconciliation sweep.
func (r *SQLiteRepository) ListThumbnailRows(ctx context.Context) ([]*Thumbnail, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT video_id, path, created_at FROM thumbnails ORDER BY video_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var thumbs []*Thumbnail
	for rows.Next() {
		var t Thumbnail
		var createdAt string
		if err := rows.Scan(&t.VideoID, &t.Path, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		thumbs = append(thumbs, &t)
	}
	return thumbs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*Video, error) {
	var v Video
	var errMsg, indexHandle sql.NullString
	var searchAvailable int
	var createdAt, updatedAt string

	err := row.Scan(&v.ID, &v.Filename, &v.Path, &v.Duration, &v.Status, &errMsg,
		&indexHandle, &searchAvailable, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	v.Error = errMsg.String
	v.IndexHandle = indexHandle.String
	v.SearchAvailable = searchAvailable == 1
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	v.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &v, nil
}

func scanVideoRow(row *sql.Row) (*Video, error) {
	v, err := scanVideo(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func scanVideos(rows *sql.Rows) ([]*Video, error) {
	var videos []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func scanFrame(row rowScanner) (*Frame, error) {
	var f Frame
	var description sql.NullString
	var createdAt string

	err := row.Scan(&f.ID, &f.VideoID, &f.Seq, &f.Timestamp, &f.Path, &description, &createdAt)
	if err != nil {
		return nil, err
	}

	f.Description = description.String
	f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &f, nil
}

func scanFrameRow(row *sql.Row) (*Frame, error) {
	f, err := scanFrame(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

func scanFrames(rows *sql.Rows) ([]*Frame, error) {
	var frames []*Frame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
