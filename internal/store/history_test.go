package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Laynholt/ymd2/internal/catalog"
	apperrors "github.com/Laynholt/ymd2/internal/errors"
)

func setupTestDB(t *testing.T) (*HistoryStore, func()) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "history.db")

	hs, err := OpenHistory(dbPath)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	cleanup := func() {
		hs.Close()
	}

	return hs, cleanup
}

func testTrack() *catalog.Track {
	return &catalog.Track{
		ID:      42,
		Title:   "Song",
		Version: "Remix",
		Artists: []catalog.Artist{{ID: 1, Name: "Alpha"}, {ID: 2, Name: "Beta"}},
		Albums: []catalog.Album{{
			ID:            9,
			Title:         "Record",
			Genre:         "rock",
			Year:          2001,
			ReleaseDate:   "2001-05-01T00:00:00+03:00",
			TrackPosition: catalog.TrackPosition{Volume: 1, Index: 4},
			Bests:         []int64{42},
		}},
		Available:      true,
		ContentWarning: "explicit",
	}
}

func TestNewRecord(t *testing.T) {
	record := NewRecord(testTrack(), catalog.Encoding{Codec: "mp3", BitrateKbps: 320}, true)

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"artist ids", record.ArtistID, "1, 2"},
		{"album ids", record.AlbumID, "9"},
		{"track name", record.TrackName, "Song (Remix)"},
		{"artist name", record.ArtistName, "Alpha, Beta"},
		{"album name", record.AlbumName, "Record"},
		{"genre", record.Genre, "rock"},
		{"track number", record.TrackNumber, 4},
		{"disk number", record.DiskNumber, 1},
		{"year", record.Year, 2001},
		{"bit rate", record.BitRate, 320},
		{"codec", record.Codec, "mp3"},
		{"favorite", record.IsFavorite, true},
		{"explicit", record.IsExplicit, true},
		{"popular", record.IsPopular, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, tt.got)
			}
		})
	}
}

func TestHistoryStore_InsertAndFind(t *testing.T) {
	hs, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := hs.EnsureTable(ctx, "Playlist Name"); err != nil {
		t.Fatalf("Failed to ensure table: %v", err)
	}
	// Idempotent
	if err := hs.EnsureTable(ctx, "Playlist Name"); err != nil {
		t.Fatalf("Failed to ensure table twice: %v", err)
	}

	track := testTrack()
	if _, err := hs.Find(ctx, "Playlist Name", KeyFor(track)); err != ErrNotFound {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	record := NewRecord(track, catalog.Encoding{Codec: "flac", BitrateKbps: 1411}, false)
	if err := hs.Insert(ctx, "Playlist Name", record); err != nil {
		t.Fatalf("Failed to insert record: %v", err)
	}

	found, err := hs.Find(ctx, "Playlist Name", KeyFor(track))
	if err != nil {
		t.Fatalf("Failed to find record: %v", err)
	}
	if *found != *record {
		t.Errorf("Expected %+v, got %+v", record, found)
	}

	// Same title and artists under a different id still match
	byName := Key{TrackID: 7, TrackName: "Song (Remix)", ArtistName: "Alpha, Beta"}
	exists, err := hs.Exists(ctx, "Playlist Name", byName)
	if err != nil {
		t.Fatalf("Failed to check existence: %v", err)
	}
	if !exists {
		t.Error("Expected record to match by name and artists")
	}

	// Title alone is not enough
	exists, err = hs.Exists(ctx, "Playlist Name", Key{TrackID: 7, TrackName: "Song (Remix)", ArtistName: "Other"})
	if err != nil {
		t.Fatalf("Failed to check existence: %v", err)
	}
	if exists {
		t.Error("Expected no match for different artists")
	}
}

func TestHistoryStore_InsertIfAbsent(t *testing.T) {
	hs, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := hs.EnsureTable(ctx, "Mix"); err != nil {
		t.Fatalf("Failed to ensure table: %v", err)
	}

	record := NewRecord(testTrack(), catalog.Encoding{Codec: "mp3", BitrateKbps: 320}, false)

	var wg sync.WaitGroup
	inserted := make(chan bool, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := hs.InsertIfAbsent(ctx, "Mix", record)
			if err != nil {
				t.Errorf("Failed to insert record: %v", err)
			}
			inserted <- ok
		}()
	}
	wg.Wait()
	close(inserted)

	added := 0
	for ok := range inserted {
		if ok {
			added++
		}
	}
	if added != 1 {
		t.Errorf("Expected exactly one insert to add a row, got %d", added)
	}

	// A different id with the same name and artists is the same track
	renumbered := *record
	renumbered.TrackID = 7
	if ok, err := hs.InsertIfAbsent(ctx, "Mix", &renumbered); err != nil || ok {
		t.Errorf("Expected match by name and artists, got inserted=%v err=%v", ok, err)
	}

	if count, err := hs.Count(ctx, "Mix"); err != nil || count != 1 {
		t.Errorf("Expected 1 record, got %d (err %v)", count, err)
	}
}

func TestHistoryStore_DatabaseErrors(t *testing.T) {
	hs, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	record := NewRecord(testTrack(), catalog.Encoding{Codec: "mp3", BitrateKbps: 320}, false)

	// No table was ensured for this playlist
	_, findErr := hs.Find(ctx, "Missing", KeyFor(testTrack()))
	tests := []struct {
		name string
		err  error
	}{
		{"find", findErr},
		{"insert", hs.Insert(ctx, "Missing", record)},
		{"set favorite", hs.SetFavorite(ctx, "Missing", 42, true)},
	}

	for _, tt := range tests {
		if tt.err == ErrNotFound {
			t.Errorf("%s: expected a database error, got ErrNotFound", tt.name)
		}
		if got := apperrors.GetErrorType(tt.err); got != apperrors.ErrTypeDatabase {
			t.Errorf("%s: expected error type %s, got %s (%v)", tt.name, apperrors.ErrTypeDatabase, got, tt.err)
		}
	}
}

func TestHistoryStore_SetFavorite(t *testing.T) {
	hs, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := hs.EnsureTable(ctx, "Mix"); err != nil {
		t.Fatalf("Failed to ensure table: %v", err)
	}

	if err := hs.SetFavorite(ctx, "Mix", 42, true); err != ErrNotFound {
		t.Fatalf("Expected ErrNotFound for missing track, got %v", err)
	}

	track := testTrack()
	record := NewRecord(track, catalog.Encoding{Codec: "mp3", BitrateKbps: 192}, false)
	if err := hs.Insert(ctx, "Mix", record); err != nil {
		t.Fatalf("Failed to insert record: %v", err)
	}

	if err := hs.SetFavorite(ctx, "Mix", 42, true); err != nil {
		t.Fatalf("Failed to set favorite: %v", err)
	}

	found, err := hs.Find(ctx, "Mix", KeyFor(track))
	if err != nil {
		t.Fatalf("Failed to find record: %v", err)
	}
	if !found.IsFavorite {
		t.Error("Expected is_favorite to be set")
	}
	if found.BitRate != 192 || found.Codec != "mp3" {
		t.Errorf("Expected other columns untouched, got %+v", found)
	}
}

func TestHistoryStore_CountListTables(t *testing.T) {
	hs, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	titles := []string{"First: list", "Second"}
	for _, title := range titles {
		if err := hs.EnsureTable(ctx, title); err != nil {
			t.Fatalf("Failed to ensure table %q: %v", title, err)
		}
	}

	for i := int64(1); i <= 3; i++ {
		track := testTrack()
		track.ID = i
		track.Title = "Song"
		track.Version = ""
		track.Artists = []catalog.Artist{{ID: i, Name: "Artist"}}
		track.Artists[0].Name += string(rune('A' + i))
		if err := hs.Insert(ctx, "Second", NewRecord(track, catalog.Encoding{Codec: "mp3", BitrateKbps: 128}, false)); err != nil {
			t.Fatalf("Failed to insert record %d: %v", i, err)
		}
	}

	count, err := hs.Count(ctx, "Second")
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 records, got %d", count)
	}

	records, err := hs.List(ctx, "Second")
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	for i, record := range records {
		if record.TrackID != int64(i+1) {
			t.Errorf("Expected track id %d at position %d, got %d", i+1, i, record.TrackID)
		}
	}

	tables, err := hs.Tables(ctx)
	if err != nil {
		t.Fatalf("Failed to list tables: %v", err)
	}
	want := []string{"table_First_list", "table_Second"}
	if len(tables) != len(want) {
		t.Fatalf("Expected tables %v, got %v", want, tables)
	}
	for i := range want {
		if tables[i] != want[i] {
			t.Errorf("Expected table %s, got %s", want[i], tables[i])
		}
	}
}

func TestRunMigrations_RegistersLegacyTables(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.db")

	// A database written without the registry
	raw, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if _, err := raw.Exec(`CREATE TABLE table_Old_list (track_id INTEGER NOT NULL)`); err != nil {
		t.Fatalf("Failed to create legacy table: %v", err)
	}
	raw.Close()

	hs, err := OpenHistory(dbPath)
	if err != nil {
		t.Fatalf("Failed to open history: %v", err)
	}
	defer hs.Close()

	tables, err := hs.Tables(context.Background())
	if err != nil {
		t.Fatalf("Failed to list tables: %v", err)
	}
	if len(tables) != 1 || tables[0] != "table_Old_list" {
		t.Errorf("Expected legacy table to be registered, got %v", tables)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	for range 2 {
		hs, err := OpenHistory(dbPath)
		if err != nil {
			t.Fatalf("Failed to open history: %v", err)
		}
		hs.Close()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var steps int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&steps); err != nil {
		t.Fatalf("Failed to count applied steps: %v", err)
	}
	if steps != len(schemaSteps) {
		t.Errorf("Expected %d applied steps, got %d", len(schemaSteps), steps)
	}
}
