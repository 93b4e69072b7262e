package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/Laynholt/ymd2/internal/catalog"
	apperrors "github.com/Laynholt/ymd2/internal/errors"
	"github.com/Laynholt/ymd2/internal/naming"
)

// ErrNotFound is returned by Find when no record matches the key
var ErrNotFound = stderrors.New("history record not found")

// Record is one row of a playlist history table
type Record struct {
	TrackID     int64
	ArtistID    string
	AlbumID     string
	TrackName   string
	ArtistName  string
	AlbumName   string
	Genre       string
	TrackNumber int
	DiskNumber  int
	Year        int
	ReleaseDate string
	BitRate     int
	Codec       string
	IsFavorite  bool
	IsExplicit  bool
	IsPopular   bool
}

// Key identifies a track either by id or by (title, artists)
type Key struct {
	TrackID    int64
	TrackName  string
	ArtistName string
}

// KeyFor builds the lookup key of a track
func KeyFor(track *catalog.Track) Key {
	return Key{
		TrackID:    track.ID,
		TrackName:  track.FullTitle(),
		ArtistName: track.ArtistNames(),
	}
}

// NewRecord builds the history row for a track transferred with the given encoding
func NewRecord(track *catalog.Track, encoding catalog.Encoding, favorite bool) *Record {
	record := &Record{
		TrackID: track.ID,
		ArtistID: strings.Join(lo.Map(track.Artists, func(a catalog.Artist, _ int) string {
			return strconv.FormatInt(a.ID, 10)
		}), ", "),
		AlbumID: strings.Join(lo.Map(track.Albums, func(a catalog.Album, _ int) string {
			return strconv.FormatInt(a.ID, 10)
		}), ", "),
		TrackName:  track.FullTitle(),
		ArtistName: track.ArtistNames(),
		AlbumName:  track.AlbumNames(),
		BitRate:    encoding.BitrateKbps,
		Codec:      encoding.Codec,
		IsFavorite: favorite,
		IsExplicit: track.IsExplicit(),
		IsPopular:  track.IsPopular(),
	}

	if album := track.PrimaryAlbum(); album != nil {
		record.Genre = album.Genre
		record.TrackNumber = album.TrackPosition.Index
		record.DiskNumber = album.TrackPosition.Volume
		record.Year = album.Year
		record.ReleaseDate = album.ReleaseDate
	}

	return record
}

const recordColumns = `track_id, artist_id, album_id, track_name, artist_name, album_name, genre,
	track_number, disk_number, year, release_data, bit_rate, codec, is_favorite, is_explicit, is_popular`

const tableSchema = `
CREATE TABLE IF NOT EXISTS %s (
    track_id INTEGER NOT NULL,
    artist_id TEXT NOT NULL,
    album_id TEXT,
    track_name TEXT NOT NULL,
    artist_name TEXT NOT NULL,
    album_name TEXT,
    genre TEXT,
    track_number INTEGER NOT NULL,
    disk_number INTEGER NOT NULL,
    year INTEGER,
    release_data TEXT,
    bit_rate INTEGER NOT NULL,
    codec TEXT NOT NULL,
    is_favorite INTEGER NOT NULL,
    is_explicit INTEGER NOT NULL DEFAULT 0,
    is_popular INTEGER NOT NULL DEFAULT 0
)`

// HistoryStore keeps one table per playlist recording processed tracks.
// All operations are serialized on a single pooled connection.
type HistoryStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewHistoryStore creates a new HistoryStore
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// OpenHistory opens (creating if needed) the history database at path
func OpenHistory(path string) (*HistoryStore, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, err
	}
	return NewHistoryStore(db), nil
}

// Close closes the underlying database
func (hs *HistoryStore) Close() error {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.db.Close()
}

// Ping checks that the database is reachable
func (hs *HistoryStore) Ping(ctx context.Context) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.db.PingContext(ctx)
}

// TableName returns the history table name of a playlist title
func TableName(title string) string {
	return naming.TableName(title)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// EnsureTable creates the playlist table if it does not exist yet
func (hs *HistoryStore) EnsureTable(ctx context.Context, title string) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	table := TableName(title)

	tx, err := hs.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(tableSchema, quoteIdent(table))); err != nil {
		return apperrors.NewDatabaseError("failed to create table "+table, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO playlist_tables (table_name, title) VALUES (?, ?)",
		table, title,
	); err != nil {
		return apperrors.NewDatabaseError("failed to register table "+table, err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("failed to commit table "+table, err)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Find returns the first record matching the key by id or by (name, artists)
func (hs *HistoryStore) Find(ctx context.Context, title string, key Key) (*Record, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return find(ctx, hs.db, title, key)
}

func find(ctx context.Context, q queryer, title string, key Key) (*Record, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE track_id = ? OR (track_name = ? AND artist_name = ?) LIMIT 1",
		recordColumns, quoteIdent(TableName(title)),
	)

	record, err := scanRecord(q.QueryRowContext(ctx, query, key.TrackID, key.TrackName, key.ArtistName))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to query history", err)
	}
	return record, nil
}

// Exists reports whether a record matching the key is present
func (hs *HistoryStore) Exists(ctx context.Context, title string, key Key) (bool, error) {
	_, err := hs.Find(ctx, title, key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Insert adds a record in a single transaction
func (hs *HistoryStore) Insert(ctx context.Context, title string, record *Record) error {
	_, err := hs.insert(ctx, title, record, false)
	return err
}

// InsertIfAbsent adds the record unless one matching it by id or by
// (name, artists) is already there. The lookup and the insert share one
// transaction. It reports whether a row was added.
func (hs *HistoryStore) InsertIfAbsent(ctx context.Context, title string, record *Record) (bool, error) {
	return hs.insert(ctx, title, record, true)
}

func (hs *HistoryStore) insert(ctx context.Context, title string, record *Record, unlessPresent bool) (bool, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	tx, err := hs.db.BeginTx(ctx, nil)
	if err != nil {
		return false, apperrors.NewDatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if unlessPresent {
		key := Key{TrackID: record.TrackID, TrackName: record.TrackName, ArtistName: record.ArtistName}
		_, err := find(ctx, tx, title, key)
		if err == nil {
			return false, nil
		}
		if err != ErrNotFound {
			return false, err
		}
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		quoteIdent(TableName(title)), recordColumns,
	)

	_, err = tx.ExecContext(ctx, query,
		record.TrackID,
		record.ArtistID,
		record.AlbumID,
		record.TrackName,
		record.ArtistName,
		record.AlbumName,
		record.Genre,
		record.TrackNumber,
		record.DiskNumber,
		record.Year,
		record.ReleaseDate,
		record.BitRate,
		record.Codec,
		record.IsFavorite,
		record.IsExplicit,
		record.IsPopular,
	)
	if err != nil {
		return false, apperrors.NewDatabaseError("failed to insert history record", err)
	}

	if err := tx.Commit(); err != nil {
		return false, apperrors.NewDatabaseError("failed to commit history record", err)
	}
	return true, nil
}

// SetFavorite updates only the favorite flag of a track. It returns
// ErrNotFound when the table holds no row for the track.
func (hs *HistoryStore) SetFavorite(ctx context.Context, title string, trackID int64, favorite bool) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	query := fmt.Sprintf("UPDATE %s SET is_favorite = ? WHERE track_id = ?", quoteIdent(TableName(title)))

	result, err := hs.db.ExecContext(ctx, query, favorite, trackID)
	if err != nil {
		return apperrors.NewDatabaseError("failed to update favorite flag", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError("failed to get affected rows", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// Count returns the number of records in a playlist table
func (hs *HistoryStore) Count(ctx context.Context, title string) (int, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(TableName(title)))
	if err := hs.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, apperrors.NewDatabaseError("failed to count history records", err)
	}
	return count, nil
}

// List returns every record of a playlist table in insertion order
func (hs *HistoryStore) List(ctx context.Context, title string) ([]*Record, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", recordColumns, quoteIdent(TableName(title)))
	rows, err := hs.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to list history records", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("failed to scan history record", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// Tables returns the registered playlist table names
func (hs *HistoryStore) Tables(ctx context.Context) ([]string, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	rows, err := hs.db.QueryContext(ctx, "SELECT table_name FROM playlist_tables ORDER BY table_name")
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to list playlist tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}

	return tables, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		record    Record
		albumID   sql.NullString
		albumName sql.NullString
		genre     sql.NullString
		year      sql.NullInt64
		release   sql.NullString
	)

	err := s.Scan(
		&record.TrackID,
		&record.ArtistID,
		&albumID,
		&record.TrackName,
		&record.ArtistName,
		&albumName,
		&genre,
		&record.TrackNumber,
		&record.DiskNumber,
		&year,
		&release,
		&record.BitRate,
		&record.Codec,
		&record.IsFavorite,
		&record.IsExplicit,
		&record.IsPopular,
	)
	if err != nil {
		return nil, err
	}

	record.AlbumID = albumID.String
	record.AlbumName = albumName.String
	record.Genre = genre.String
	record.Year = int(year.Int64)
	record.ReleaseDate = release.String

	return &record, nil
}
