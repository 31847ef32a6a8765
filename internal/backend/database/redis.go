package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "vehiclewatch:"
	redisCamerasKey = redisKeyPrefix + "cameras"
	redisSeqKey     = redisKeyPrefix + "seq"
)

// RedisDatabase keeps each image as a JSON document and indexes it in a
// per-camera sorted set scored by its wall clock capture time.
type RedisDatabase struct {
	client   *redis.Client
	location *time.Location
}

type redisRecord struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Camera     string      `json:"camera"`
	Path       string      `json:"path"`
	Datetime   string      `json:"datetime"`
	Detections []Detection `json:"detections"`
	Seq        int64       `json:"seq"`
}

func NewRedisDatabase(connectionString string, location *time.Location) (DatabaseService, error) {
	if !strings.Contains(connectionString, "://") {
		connectionString = "redis://" + connectionString
	}
	options, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis connection string: %w", err)
	}
	if location == nil {
		location = time.Local
	}
	return &RedisDatabase{
		client:   redis.NewClient(options),
		location: location,
	}, nil
}

func imageKey(id string) string {
	return redisKeyPrefix + "image:" + id
}

func cameraKey(camera string) string {
	return redisKeyPrefix + "camera:" + camera
}

// indexMember sorts equal capture times by insertion order.
func indexMember(seq int64, id string) string {
	return fmt.Sprintf("%016d|%s", seq, id)
}

func memberID(member string) string {
	_, id, _ := strings.Cut(member, "|")
	return id
}

func (r *RedisDatabase) score(t time.Time) float64 {
	w := t.In(r.location)
	return float64(time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), 0, time.UTC).Unix())
}

func (r *RedisDatabase) scoreString(t time.Time) string {
	return strconv.FormatFloat(r.score(t), 'f', 0, 64)
}

func (r *RedisDatabase) CreateDatabase(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	return nil
}

func (r *RedisDatabase) DoesDatabaseExist(ctx context.Context) bool {
	return r.client.Ping(ctx).Err() == nil
}

func (r *RedisDatabase) Close() error {
	return r.client.Close()
}

func (r *RedisDatabase) InsertImage(ctx context.Context, image *Image) (string, error) {
	id, err := generateID()
	if err != nil {
		return "", fmt.Errorf("failed to generate image id: %w", err)
	}
	seq, err := r.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return "", fmt.Errorf("failed to allocate sequence: %w", err)
	}

	record := r.toRecord(image, id, seq)
	if err := r.write(ctx, record, nil); err != nil {
		return "", fmt.Errorf("failed to insert image: %w", err)
	}

	image.ID = id
	return id, nil
}

func (r *RedisDatabase) SaveImage(ctx context.Context, image *Image) error {
	if image.ID == "" {
		return fmt.Errorf("failed to save image: missing id")
	}

	previous, err := r.getRecord(ctx, image.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to save image %s: %w", image.ID, err)
	}

	var seq int64
	if previous != nil {
		seq = previous.Seq
	} else {
		seq, err = r.client.Incr(ctx, redisSeqKey).Result()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}
	}

	if err := r.write(ctx, r.toRecord(image, image.ID, seq), previous); err != nil {
		return fmt.Errorf("failed to save image %s: %w", image.ID, err)
	}
	return nil
}

// write stores the document and its index entries in one MULTI/EXEC block.
func (r *RedisDatabase) write(ctx context.Context, record *redisRecord, previous *redisRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	datetime, err := time.ParseInLocation(DatetimeLayout, record.Datetime, r.location)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != nil && previous.Camera != record.Camera {
			pipe.ZRem(ctx, cameraKey(previous.Camera), indexMember(previous.Seq, previous.ID))
		}
		pipe.Set(ctx, imageKey(record.ID), payload, 0)
		pipe.ZAdd(ctx, cameraKey(record.Camera), redis.Z{
			Score:  r.score(datetime),
			Member: indexMember(record.Seq, record.ID),
		})
		pipe.SAdd(ctx, redisCamerasKey, record.Camera)
		return nil
	})
	return err
}

func (r *RedisDatabase) GetImageByID(ctx context.Context, id string) (*Image, error) {
	record, err := r.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.fromRecord(record)
}

func (r *RedisDatabase) getRecord(ctx context.Context, id string) (*redisRecord, error) {
	data, err := r.client.Get(ctx, imageKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get image %s: %w", id, err)
	}
	var record redisRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", id, err)
	}
	return &record, nil
}

func (r *RedisDatabase) FindByCameraAndDatetime(ctx context.Context, camera string, datetime time.Time) ([]*Image, error) {
	score := r.scoreString(datetime)
	return r.rangeByScore(ctx, camera, score, score)
}

func (r *RedisDatabase) DistinctCamerasInRange(ctx context.Context, from, to time.Time) ([]string, error) {
	cameras, err := r.client.SMembers(ctx, redisCamerasKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}

	lo, hi := r.scoreString(from), r.scoreString(to)
	active := []string{}
	for _, camera := range cameras {
		count, err := r.client.ZCount(ctx, cameraKey(camera), lo, hi).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to count images of camera %s: %w", camera, err)
		}
		if count > 0 {
			active = append(active, camera)
		}
	}
	sort.Strings(active)
	return active, nil
}

func (r *RedisDatabase) FilterByCameraAndDate(ctx context.Context, camera string, date time.Time) ([]*Image, error) {
	start, end := dayBounds(date, r.location)
	return r.rangeByScore(ctx, camera, r.scoreString(start), r.scoreString(end))
}

func (r *RedisDatabase) LatestByCamera(ctx context.Context, camera string) (*Image, error) {
	members, err := r.client.ZRevRange(ctx, cameraKey(camera), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query latest image of camera %s: %w", camera, err)
	}
	if len(members) == 0 {
		return nil, ErrNotFound
	}
	return r.GetImageByID(ctx, memberID(members[0]))
}

func (r *RedisDatabase) rangeByScore(ctx context.Context, camera, lo, hi string) ([]*Image, error) {
	members, err := r.client.ZRangeByScore(ctx, cameraKey(camera), &redis.ZRangeBy{Min: lo, Max: hi}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query images of camera %s: %w", camera, err)
	}

	images := []*Image{}
	if len(members) == 0 {
		return images, nil
	}

	keys := make([]string, len(members))
	for i, member := range members {
		keys[i] = imageKey(memberID(member))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load images of camera %s: %w", camera, err)
	}

	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			// index entry without document
			continue
		}
		var record redisRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, fmt.Errorf("failed to decode image %s: %w", memberID(members[i]), err)
		}
		image, err := r.fromRecord(&record)
		if err != nil {
			return nil, err
		}
		images = append(images, image)
	}
	return images, nil
}

func (r *RedisDatabase) toRecord(image *Image, id string, seq int64) *redisRecord {
	detections := image.Detections
	if detections == nil {
		detections = []Detection{}
	}
	return &redisRecord{
		ID:         id,
		Name:       image.Name,
		Camera:     image.Camera,
		Path:       image.Path,
		Datetime:   image.Datetime.In(r.location).Format(DatetimeLayout),
		Detections: detections,
		Seq:        seq,
	}
}

func (r *RedisDatabase) fromRecord(record *redisRecord) (*Image, error) {
	datetime, err := time.ParseInLocation(DatetimeLayout, record.Datetime, r.location)
	if err != nil {
		return nil, fmt.Errorf("failed to parse datetime of image %s: %w", record.ID, err)
	}
	detections := record.Detections
	if detections == nil {
		detections = []Detection{}
	}
	return &Image{
		ID:         record.ID,
		Name:       record.Name,
		Camera:     record.Camera,
		Path:       record.Path,
		Datetime:   datetime,
		Detections: detections,
	}, nil
}
