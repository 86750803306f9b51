// Package rooms implements password protected rooms: creation, persisted
// metadata, password checks and resolution of a room id to its folder.
//
// A Registry is an in-memory cache of the room metadata stored in the
// backend; it can be rebuilt from the backend at any time with Load.
package rooms

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"file-exchanger/internal/storage"
)

// Config tunes room creation and verification.
type Config struct {
	MinPasswordLength int // in characters
	IDBytes           int // random bytes per id; the id is twice as many hex digits
	BcryptCost        int
	MaxCreateAttempts int

	LockoutAttempts int // 0 disables the lockout
	LockoutDuration time.Duration
	LockoutWindow   time.Duration
}

// DefaultConfig returns 128-bit ids, bcrypt digests and a five strike lockout.
func DefaultConfig() Config {
	return Config{
		MinPasswordLength: 4,
		IDBytes:           16,
		BcryptCost:        10,
		MaxCreateAttempts: 16,
		LockoutAttempts:   5,
		LockoutDuration:   15 * time.Minute,
		LockoutWindow:     10 * time.Minute,
	}
}

func (c Config) sanitize() Config {
	def := DefaultConfig()
	if c.MinPasswordLength <= 0 {
		c.MinPasswordLength = def.MinPasswordLength
	}
	if c.IDBytes <= 0 {
		c.IDBytes = def.IDBytes
	}
	if c.BcryptCost <= 0 {
		c.BcryptCost = def.BcryptCost
	}
	if c.MaxCreateAttempts <= 0 {
		c.MaxCreateAttempts = def.MaxCreateAttempts
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = def.LockoutDuration
	}
	if c.LockoutWindow <= 0 {
		c.LockoutWindow = def.LockoutWindow
	}
	return c
}

// Room is one password protected partition.
type Room struct {
	ID           string
	PasswordHash string
	Files        *storage.Folder
}

// Verify reports whether password matches the stored digest. It never
// changes the room.
func (r *Room) Verify(password string) bool {
	return verifyPassword(password, r.PasswordHash)
}

// Summary is the public view of a room used by listings.
type Summary struct {
	RoomID    string `json:"room_id"`
	FileCount int    `json:"file_count"`
}

// metadata is the content of the per-room .room_info file.
type metadata struct {
	RoomID       string `json:"room_id"`
	PasswordHash string `json:"password_hash"`
	Created      bool   `json:"created"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// Registry owns the rooms of one backend.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	backend storage.Backend
	cfg     Config
	lockout *Lockout

	randRead func([]byte) (int, error)
}

// NewRegistry returns an empty registry over backend. Call Load to pick up
// rooms persisted by earlier runs.
func NewRegistry(backend storage.Backend, cfg Config) *Registry {
	cfg = cfg.sanitize()
	return &Registry{
		rooms:    make(map[string]*Room),
		backend:  backend,
		cfg:      cfg,
		lockout:  NewLockout(cfg.LockoutAttempts, cfg.LockoutDuration, cfg.LockoutWindow),
		randRead: rand.Read,
	}
}

// Close releases background resources.
func (g *Registry) Close() {
	g.lockout.Close()
}

// NormalizeID trims and upper-cases a client supplied room id.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// validID accepts the ids this package generates as well as legacy ones;
// anything else cannot name a folder.
func validID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

// Create makes a new room guarded by password. The metadata is persisted
// before the room becomes visible in memory.
func (g *Registry) Create(ctx context.Context, password string) (*Room, error) {
	if utf8.RuneCountInString(password) < g.cfg.MinPasswordLength {
		return nil, fmt.Errorf("%w: minimum %d characters", ErrPasswordTooShort, g.cfg.MinPasswordLength)
	}
	// bcrypt only looks at the first 72 bytes.
	if len(password) > maxPasswordBytes {
		return nil, ErrPasswordTooLong
	}

	hash, err := hashPassword(password, g.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := g.newIDLocked(ctx)
	if err != nil {
		return nil, err
	}

	meta := metadata{
		RoomID:       id,
		PasswordHash: hash,
		Created:      true,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := g.writeMetadata(ctx, meta); err != nil {
		return nil, err
	}

	room := g.newRoom(meta)
	g.rooms[id] = room
	return room, nil
}

// newIDLocked draws ids until one is neither resident nor present in the
// backend. The caller holds g.mu.
func (g *Registry) newIDLocked(ctx context.Context) (string, error) {
	buf := make([]byte, g.cfg.IDBytes)
	for i := 0; i < g.cfg.MaxCreateAttempts; i++ {
		if _, err := g.randRead(buf); err != nil {
			return "", fmt.Errorf("generate room id: %w", err)
		}
		id := strings.ToUpper(hex.EncodeToString(buf))
		if _, taken := g.rooms[id]; taken {
			continue
		}
		exists, err := g.backend.FolderExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("check room folder: %w", err)
		}
		if exists {
			continue
		}
		return id, nil
	}
	return "", ErrIDSpaceExhausted
}

// Join checks password for room id and makes the room resident. client
// identifies the caller for the lockout, usually its IP address.
func (g *Registry) Join(ctx context.Context, id, password, client string) (*Room, error) {
	return g.Authorize(ctx, id, password, client)
}

// Authorize resolves id and verifies password. Every protected file
// operation goes through here; there are no sessions.
//
// Failures are counted per room and client: a client that keeps guessing
// gets ErrLocked, everybody else still gets in with the right password.
func (g *Registry) Authorize(ctx context.Context, id, password, client string) (*Room, error) {
	room, resident, err := g.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	key := lockKey(room.ID, client)
	if locked, until := g.lockout.Locked(key); locked {
		return nil, fmt.Errorf("%w: room %s locked for %s until %s", ErrLocked, room.ID, client, until.UTC().Format(time.RFC3339))
	}
	if !room.Verify(password) {
		if locked, _ := g.lockout.Fail(key); locked {
			log.Printf("service=rooms msg=%q room=%s client=%s", "client_locked", room.ID, client)
		}
		return nil, ErrWrongPassword
	}
	g.lockout.Succeed(key)

	if !resident {
		room = g.admit(room)
	}
	return room, nil
}

// lookup finds a room in memory or, failing that, in the backend. Rooms
// read from the backend are not registered; see admit.
func (g *Registry) lookup(ctx context.Context, id string) (*Room, bool, error) {
	id = NormalizeID(id)
	if id == "" {
		return nil, false, ErrMissingRoomID
	}
	if !validID(id) {
		return nil, false, ErrRoomNotFound
	}

	g.mu.RLock()
	room, ok := g.rooms[id]
	g.mu.RUnlock()
	if ok {
		return room, true, nil
	}

	exists, err := g.backend.FolderExists(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("check room folder: %w", err)
	}
	if !exists {
		return nil, false, ErrRoomNotFound
	}
	meta, err := g.readMetadata(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return g.newRoom(meta), false, nil
}

func lockKey(roomID, client string) string {
	return roomID + "|" + client
}

// admit registers room unless another request did so first, and returns
// the registered instance.
func (g *Registry) admit(room *Room) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.rooms[room.ID]; ok {
		return existing
	}
	g.rooms[room.ID] = room
	return room
}

// Load registers every room persisted in the backend and returns how many
// were added. Folders with broken metadata are logged and skipped.
func (g *Registry) Load(ctx context.Context) (int, error) {
	folders, err := g.backend.Folders(ctx)
	if err != nil {
		return 0, fmt.Errorf("list room folders: %w", err)
	}

	loaded := 0
	for _, folder := range folders {
		if !validID(folder) {
			continue
		}
		meta, err := g.readMetadata(ctx, folder)
		if err != nil {
			log.Printf("service=rooms msg=%q folder=%s err=%v", "skip_room", folder, err)
			continue
		}
		g.mu.Lock()
		if _, ok := g.rooms[meta.RoomID]; !ok {
			g.rooms[meta.RoomID] = g.newRoom(meta)
			loaded++
		}
		g.mu.Unlock()
	}
	return loaded, nil
}

// List returns the resident rooms with their file counts, ordered by id.
func (g *Registry) List(ctx context.Context) []Summary {
	g.mu.RLock()
	snapshot := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		snapshot = append(snapshot, room)
	}
	g.mu.RUnlock()

	out := make([]Summary, 0, len(snapshot))
	for _, room := range snapshot {
		n, err := room.Files.Count(ctx)
		if err != nil {
			log.Printf("service=rooms msg=%q room=%s err=%v", "count_files_failed", room.ID, err)
		}
		out = append(out, Summary{RoomID: room.ID, FileCount: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// Len returns the number of resident rooms.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

func (g *Registry) newRoom(meta metadata) *Room {
	return &Room{
		ID:           meta.RoomID,
		PasswordHash: meta.PasswordHash,
		Files:        storage.NewFolder(g.backend, meta.RoomID),
	}
}

func (g *Registry) writeMetadata(ctx context.Context, meta metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if _, err := g.backend.Put(ctx, meta.RoomID, storage.MetadataName, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("persist room %s: %w", meta.RoomID, err)
	}
	return nil
}

func (g *Registry) readMetadata(ctx context.Context, folder string) (metadata, error) {
	rc, _, err := g.backend.Open(ctx, folder, storage.MetadataName)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return metadata{}, fmt.Errorf("room %s: %w", folder, ErrCorruptRoom)
		}
		return metadata{}, fmt.Errorf("read room %s: %w", folder, err)
	}
	defer func() { _ = rc.Close() }()

	var meta metadata
	if err := json.NewDecoder(io.LimitReader(rc, 64<<10)).Decode(&meta); err != nil {
		return metadata{}, fmt.Errorf("room %s: %v: %w", folder, err, ErrCorruptRoom)
	}
	if NormalizeID(meta.RoomID) != folder || meta.PasswordHash == "" {
		return metadata{}, fmt.Errorf("room %s: metadata does not match folder: %w", folder, ErrCorruptRoom)
	}
	meta.RoomID = folder
	return meta, nil
}
