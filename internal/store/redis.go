package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"journey-detector/internal/journey"
)

// appendOnce pushes ARGV[2] onto the archive list only the first time the
// journey id ARGV[1] is seen.
var appendOnce = redis.NewScript(`
if redis.call('SADD', KEYS[2], ARGV[1]) == 1 then
  redis.call('RPUSH', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// Redis keeps the current slot in a string key and the archive in a list.
type Redis struct {
	client   *redis.Client
	deviceID string
}

func NewRedis(client *redis.Client, deviceID string) *Redis {
	return &Redis{client: client, deviceID: deviceID}
}

func (r *Redis) key(suffix string) string {
	return "journey:" + r.deviceID + ":" + suffix
}

func (r *Redis) SaveOpenJourney(ctx context.Context, j *journey.Journey) error {
	b, err := Encode(j)
	if err != nil {
		return err
	}
	return Wrap(opSave, r.client.Set(ctx, r.key("current"), b, 0).Err())
}

func (r *Redis) ClearOpenJourney(ctx context.Context) error {
	return Wrap(opClear, r.client.Del(ctx, r.key("current")).Err())
}

func (r *Redis) LoadOpenJourney(ctx context.Context) (*journey.Journey, error) {
	b, err := r.client.Get(ctx, r.key("current")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, Wrap(opLoad, err)
	}
	return Decode(b)
}

func (r *Redis) AppendToArchive(ctx context.Context, j *journey.Journey) error {
	b, err := Encode(j)
	if err != nil {
		return err
	}
	keys := []string{r.key("archive"), r.key("archived_ids")}
	return Wrap(opAppend, appendOnce.Run(ctx, r.client, keys, j.ID, b).Err())
}

func (r *Redis) LoadArchive(ctx context.Context) ([]*journey.Journey, error) {
	blobs, err := r.client.LRange(ctx, r.key("archive"), 0, -1).Result()
	if err != nil {
		return nil, Wrap(opLoadArchive, err)
	}
	out := make([]*journey.Journey, 0, len(blobs))
	for _, b := range blobs {
		j, err := Decode([]byte(b))
		if err != nil {
			return nil, Wrap(opLoadArchive, err)
		}
		out = append(out, j)
	}
	return out, nil
}
