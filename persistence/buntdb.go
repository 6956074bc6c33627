package persistence

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/types"
	"github.com/tidwall/buntdb"
)

const memoryDSN = ":memory:"

// BuntDBPersist keeps rooms and sessions in an embedded BuntDB file. Write transactions are serialized by
// BuntDB, which gives the same single-record atomicity as the SQL backends. The file is protected by an
// exclusive file lock because BuntDB does not support several processes.
type BuntDBPersist struct {
	db   *buntdb.DB
	lock *flock.Flock
}

var _ Persister = (*BuntDBPersist)(nil)

func NewBuntPersister(cfg *config.Config) (*BuntDBPersist, error) {
	fileName := cfg.PersistenceConfig.DSN
	if fileName == "" {
		return nil, fmt.Errorf("no buntdb file configured")
	}
	var lock *flock.Flock
	if fileName != memoryDSN {
		lockPath := cfg.PersistenceConfig.FlockPath
		if lockPath == "" {
			lockPath = fileName + ".lock"
		}
		lock = flock.New(lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", lockPath, err)
		}
		if !locked {
			return nil, fmt.Errorf("%s is in use by another process", fileName)
		}
	}
	db, err := buntdb.Open(fileName)
	if err != nil {
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, err
	}
	return &BuntDBPersist{db: db, lock: lock}, nil
}

// key parts are base64 encoded so that names cannot contain ':' or glob characters
func keyPart(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func roomKey(roomName string) string { return "room:" + keyPart(roomName) }

func sessionKey(id string) string { return "session:" + id }

func roomSessionKey(roomName, id string) string { return "roomsession:" + keyPart(roomName) + ":" + id }

func openSessionKey(roomName, id string) string { return "opensession:" + keyPart(roomName) + ":" + id }

func participantKey(sessionID, id string) string { return "participant:" + sessionID + ":" + id }

func openParticipantKey(sessionID, identity string) string {
	return "openparticipant:" + sessionID + ":" + keyPart(identity)
}

func getJSON(tx *buntdb.Tx, key string, v interface{}) error {
	raw, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

func setJSON(tx *buntdb.Tx, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _, err = tx.Set(key, string(raw), nil)
	return err
}

func keysWithPrefix(tx *buntdb.Tx, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := tx.AscendKeys(prefix+"*", func(key, _ string) bool {
		keys = append(keys, key)
		return true
	})
	return keys, err
}

func (p *BuntDBPersist) updateRoom(roomName string, f func(room *types.Room) bool) (bool, error) {
	changed := false
	err := p.db.Update(func(tx *buntdb.Tx) error {
		room := &types.Room{}
		if err := getJSON(tx, roomKey(roomName), room); err != nil {
			return err
		}
		if !f(room) {
			return nil
		}
		changed = true
		return setJSON(tx, roomKey(roomName), room)
	})
	return changed, err
}

func (p *BuntDBPersist) CreateRoom(_ context.Context, room *types.Room) (bool, error) {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	created := false
	err := p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Get(roomKey(room.RoomName))
		if err == nil {
			return nil
		}
		if !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		created = true
		return setJSON(tx, roomKey(room.RoomName), room)
	})
	return created, err
}

func (p *BuntDBPersist) GetRoom(_ context.Context, roomName string) (*types.Room, error) {
	room := &types.Room{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, roomKey(roomName), room)
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (p *BuntDBPersist) GetRooms(_ context.Context) ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.AscendKeys("room:*", func(_, value string) bool {
			room := &types.Room{}
			if decodeErr = json.Unmarshal([]byte(value), room); decodeErr != nil {
				return false
			}
			rooms = append(rooms, room)
			return true
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].RoomName < rooms[j].RoomName })
	return rooms, err
}

func (p *BuntDBPersist) SetHost(_ context.Context, roomName string, hostID *string) error {
	_, err := p.updateRoom(roomName, func(room *types.Room) bool {
		room.CurrentHostID = hostID
		return true
	})
	return err
}

func (p *BuntDBPersist) ClaimHost(_ context.Context, roomName, hostID string) (bool, error) {
	claimed, err := p.updateRoom(roomName, func(room *types.Room) bool {
		if room.CurrentHostID != nil {
			return false
		}
		room.CurrentHostID = &hostID
		return true
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return claimed, err
}

func (p *BuntDBPersist) MarkEmpty(_ context.Context, roomName string, since time.Time) error {
	_, err := p.updateRoom(roomName, func(room *types.Room) bool {
		if room.EmptySince != nil {
			return false
		}
		s := since.UTC()
		room.EmptySince = &s
		return true
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (p *BuntDBPersist) MarkActive(_ context.Context, roomName string, at time.Time) error {
	_, err := p.updateRoom(roomName, func(room *types.Room) bool {
		a := at.UTC()
		room.EmptySince = nil
		room.LastActiveAt = &a
		return true
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (p *BuntDBPersist) DeleteRoom(_ context.Context, roomName string) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(roomKey(roomName))
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil
	}
	return err
}

func (p *BuntDBPersist) CreateSession(_ context.Context, session *types.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		if err := setJSON(tx, sessionKey(session.ID), session); err != nil {
			return err
		}
		if _, _, err := tx.Set(roomSessionKey(session.RoomName, session.ID), "", nil); err != nil {
			return err
		}
		if session.IsOpen() {
			_, _, err := tx.Set(openSessionKey(session.RoomName, session.ID), "", nil)
			return err
		}
		return nil
	})
}

func (p *BuntDBPersist) sessionsByIndex(tx *buntdb.Tx, prefix string) ([]*types.Session, error) {
	keys, err := keysWithPrefix(tx, prefix)
	if err != nil {
		return nil, err
	}
	sessions := make([]*types.Session, 0, len(keys))
	for _, key := range keys {
		id := key[strings.LastIndex(key, ":")+1:]
		session := &types.Session{}
		if err := getJSON(tx, sessionKey(id), session); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartedAt.Before(sessions[j].StartedAt) })
	return sessions, nil
}

func (p *BuntDBPersist) LatestOpenSession(_ context.Context, roomName string) (*types.Session, error) {
	var latest *types.Session
	err := p.db.View(func(tx *buntdb.Tx) error {
		sessions, err := p.sessionsByIndex(tx, "opensession:"+keyPart(roomName)+":")
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			return ErrNotFound
		}
		latest = sessions[len(sessions)-1]
		return nil
	})
	return latest, err
}

func (p *BuntDBPersist) CloseSession(_ context.Context, sessionID string, at time.Time) (bool, error) {
	closed := false
	err := p.db.Update(func(tx *buntdb.Tx) error {
		session := &types.Session{}
		if err := getJSON(tx, sessionKey(sessionID), session); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if !session.IsOpen() {
			return nil
		}
		a := at.UTC()
		session.EndedAt = &a
		if err := setJSON(tx, sessionKey(sessionID), session); err != nil {
			return err
		}
		if _, err := tx.Delete(openSessionKey(session.RoomName, sessionID)); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		closed = true
		return nil
	})
	return closed, err
}

func (p *BuntDBPersist) GetSessions(_ context.Context, roomName string) ([]*types.Session, error) {
	var sessions []*types.Session
	err := p.db.View(func(tx *buntdb.Tx) error {
		var err error
		sessions, err = p.sessionsByIndex(tx, "roomsession:"+keyPart(roomName)+":")
		return err
	})
	return sessions, err
}

func (p *BuntDBPersist) OpenParticipant(_ context.Context, participant *types.SessionParticipant) (bool, error) {
	created := false
	err := p.db.Update(func(tx *buntdb.Tx) error {
		openKey := openParticipantKey(participant.SessionID, participant.Identity)
		if _, err := tx.Get(openKey); err == nil {
			return nil
		} else if !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		if participant.ID == "" {
			participant.ID = uuid.NewString()
		}
		if err := setJSON(tx, participantKey(participant.SessionID, participant.ID), participant); err != nil {
			return err
		}
		if _, _, err := tx.Set(openKey, participant.ID, nil); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func (p *BuntDBPersist) CloseParticipant(_ context.Context, sessionID, identity string, at time.Time) (bool, error) {
	closed := false
	err := p.db.Update(func(tx *buntdb.Tx) error {
		openKey := openParticipantKey(sessionID, identity)
		id, err := tx.Get(openKey)
		if err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return nil
			}
			return err
		}
		participant := &types.SessionParticipant{}
		if err := getJSON(tx, participantKey(sessionID, id), participant); err != nil {
			return err
		}
		a := at.UTC()
		participant.LeftAt = &a
		if err := setJSON(tx, participantKey(sessionID, id), participant); err != nil {
			return err
		}
		if _, err := tx.Delete(openKey); err != nil {
			return err
		}
		closed = true
		return nil
	})
	return closed, err
}

func (p *BuntDBPersist) GetParticipants(_ context.Context, sessionID string) ([]*types.SessionParticipant, error) {
	participants := make([]*types.SessionParticipant, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.AscendKeys("participant:"+sessionID+":*", func(_, value string) bool {
			participant := &types.SessionParticipant{}
			if decodeErr = json.Unmarshal([]byte(value), participant); decodeErr != nil {
				return false
			}
			participants = append(participants, participant)
			return true
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	sort.Slice(participants, func(i, j int) bool {
		if participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].Identity < participants[j].Identity
		}
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})
	return participants, err
}

func (p *BuntDBPersist) Close() error {
	err := p.db.Close()
	if p.lock != nil {
		if unlockErr := p.lock.Unlock(); unlockErr != nil {
			globals.AppLogger.Error("could not release buntdb lock", "error", unlockErr)
		}
	}
	return err
}
