package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "gridwire:room:"

// Redis implements Store on a shared redis deployment. Cells, presence, and
// selections live in per-room hashes; each lock is its own key so redis TTL
// expiry clears abandoned locks; fan-out rides redis pub/sub channels.
type Redis struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedis wraps an already-connected client.
func NewRedis(client *redis.Client, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{client: client, log: log}
}

func (r *Redis) SetCell(ctx context.Context, roomID string, pos CellPos, value string) error {
	key := cellsKey(roomID)
	if value == "" {
		// An empty value clears the cell so snapshots stay sparse.
		if err := r.client.HDel(ctx, key, cellField(pos)).Err(); err != nil {
			return fmt.Errorf("clear cell %s %v: %w", roomID, pos, err)
		}
		return nil
	}
	if err := r.client.HSet(ctx, key, cellField(pos), value).Err(); err != nil {
		return fmt.Errorf("set cell %s %v: %w", roomID, pos, err)
	}
	return nil
}

func (r *Redis) Cells(ctx context.Context, roomID string) ([]Cell, error) {
	raw, err := r.client.HGetAll(ctx, cellsKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load cells %s: %w", roomID, err)
	}
	cells := make([]Cell, 0, len(raw))
	for field, value := range raw {
		pos, err := parseCellField(field)
		if err != nil {
			r.log.Warn("skipping malformed cell field", zap.String("room_id", roomID), zap.String("field", field))
			continue
		}
		cells = append(cells, Cell{Pos: pos, Value: value})
	}
	sortCells(cells)
	return cells, nil
}

func (r *Redis) AcquireLock(ctx context.Context, roomID string, pos CellPos, userID string, ttl time.Duration) (bool, error) {
	// SET NX with TTL is the atomic "set only if absent or expired"
	// primitive; redis evicts the key when the TTL lapses.
	ok, err := r.client.SetNX(ctx, lockKey(roomID, pos), userID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s %v: %w", roomID, pos, err)
	}
	return ok, nil
}

func (r *Redis) ReleaseLock(ctx context.Context, roomID string, pos CellPos) error {
	if err := r.client.Del(ctx, lockKey(roomID, pos)).Err(); err != nil {
		return fmt.Errorf("release lock %s %v: %w", roomID, pos, err)
	}
	return nil
}

func (r *Redis) Locks(ctx context.Context, roomID string) ([]Lock, error) {
	var locks []Lock
	iter := r.client.Scan(ctx, 0, lockScanPattern(roomID), 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		pos, err := parseLockKey(roomID, key)
		if err != nil {
			r.log.Warn("skipping malformed lock key", zap.String("key", key))
			continue
		}
		owner, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			// Expired between scan and read.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read lock %s: %w", key, err)
		}
		locks = append(locks, Lock{Pos: pos, Owner: owner})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan locks %s: %w", roomID, err)
	}
	sortLocks(locks)
	return locks, nil
}

func (r *Redis) UpsertPresence(ctx context.Context, roomID string, p Presence) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	if err := r.client.HSet(ctx, presenceKey(roomID), p.UserID, data).Err(); err != nil {
		return fmt.Errorf("upsert presence %s/%s: %w", roomID, p.UserID, err)
	}
	return nil
}

func (r *Redis) RemovePresence(ctx context.Context, roomID, userID string) error {
	if err := r.client.HDel(ctx, presenceKey(roomID), userID).Err(); err != nil {
		return fmt.Errorf("remove presence %s/%s: %w", roomID, userID, err)
	}
	return nil
}

func (r *Redis) ListPresence(ctx context.Context, roomID string) ([]Presence, error) {
	raw, err := r.client.HGetAll(ctx, presenceKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list presence %s: %w", roomID, err)
	}
	out := make([]Presence, 0, len(raw))
	for userID, data := range raw {
		var p Presence
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			r.log.Warn("skipping malformed presence entry", zap.String("room_id", roomID), zap.String("user_id", userID))
			continue
		}
		out = append(out, p)
	}
	sortPresence(out)
	return out, nil
}

func (r *Redis) UpsertSelection(ctx context.Context, roomID string, sel Selection) error {
	data, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("marshal selection: %w", err)
	}
	if err := r.client.HSet(ctx, selectionKey(roomID), sel.UserID, data).Err(); err != nil {
		return fmt.Errorf("upsert selection %s/%s: %w", roomID, sel.UserID, err)
	}
	return nil
}

func (r *Redis) RemoveSelection(ctx context.Context, roomID, userID string) error {
	if err := r.client.HDel(ctx, selectionKey(roomID), userID).Err(); err != nil {
		return fmt.Errorf("remove selection %s/%s: %w", roomID, userID, err)
	}
	return nil
}

func (r *Redis) ListSelections(ctx context.Context, roomID string) ([]Selection, error) {
	raw, err := r.client.HGetAll(ctx, selectionKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list selections %s: %w", roomID, err)
	}
	out := make([]Selection, 0, len(raw))
	for userID, data := range raw {
		var sel Selection
		if err := json.Unmarshal([]byte(data), &sel); err != nil {
			r.log.Warn("skipping malformed selection entry", zap.String("room_id", roomID), zap.String("user_id", userID))
			continue
		}
		out = append(out, sel)
	}
	sortSelections(out)
	return out, nil
}

func (r *Redis) Publish(ctx context.Context, roomID string, payload []byte) error {
	if err := r.client.Publish(ctx, roomChannel(roomID), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", roomID, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context) (<-chan Event, error) {
	// One wildcard subscription covers every room; rooms are never
	// individually subscribed or unsubscribed.
	pubsub := r.client.PSubscribe(ctx, roomChannelPattern())
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe rooms: %w", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				roomID, err := roomFromChannel(msg.Channel)
				if err != nil {
					r.log.Warn("dropping event on unexpected channel", zap.String("channel", msg.Channel))
					continue
				}
				select {
				case out <- Event{RoomID: roomID, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func cellsKey(roomID string) string {
	return keyPrefix + roomID + ":cells"
}

func presenceKey(roomID string) string {
	return keyPrefix + roomID + ":presence"
}

func selectionKey(roomID string) string {
	return keyPrefix + roomID + ":selections"
}

func lockKey(roomID string, pos CellPos) string {
	return fmt.Sprintf("%s%s:lock:%d:%d", keyPrefix, roomID, pos.Row, pos.Col)
}

func lockScanPattern(roomID string) string {
	return keyPrefix + roomID + ":lock:*"
}

func parseLockKey(roomID, key string) (CellPos, error) {
	prefix := keyPrefix + roomID + ":lock:"
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return CellPos{}, fmt.Errorf("lock key %q does not match room %s", key, roomID)
	}
	return parseCellField(rest)
}

func cellField(pos CellPos) string {
	return strconv.Itoa(pos.Row) + ":" + strconv.Itoa(pos.Col)
}

func parseCellField(field string) (CellPos, error) {
	rowStr, colStr, ok := strings.Cut(field, ":")
	if !ok {
		return CellPos{}, fmt.Errorf("cell field %q missing separator", field)
	}
	row, err := strconv.Atoi(rowStr)
	if err != nil {
		return CellPos{}, fmt.Errorf("cell field %q row: %w", field, err)
	}
	col, err := strconv.Atoi(colStr)
	if err != nil {
		return CellPos{}, fmt.Errorf("cell field %q col: %w", field, err)
	}
	return CellPos{Row: row, Col: col}, nil
}

func roomChannel(roomID string) string {
	return keyPrefix + roomID + ":events"
}

func roomChannelPattern() string {
	return keyPrefix + "*:events"
}

func roomFromChannel(channel string) (string, error) {
	rest, ok := strings.CutPrefix(channel, keyPrefix)
	if !ok {
		return "", fmt.Errorf("channel %q missing prefix", channel)
	}
	roomID, ok := strings.CutSuffix(rest, ":events")
	if !ok || roomID == "" {
		return "", fmt.Errorf("channel %q missing events suffix", channel)
	}
	return roomID, nil
}
