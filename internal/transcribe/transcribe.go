// Package transcribe hands transcription jobs for newly attached media to a
// durable queue. The transcription worker itself lives outside this service.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Job identifies the media object to transcribe and where the result goes.
type Job struct {
	ContentID    string `json:"content_id"`
	ContentKind  string `json:"content_kind"`
	MediaFolder  string `json:"media_folder"`
	MediaName    string `json:"media_name"`
	OutputFolder string `json:"output_folder"`
}

func NewJob(contentID, kind, mediaFolder, mediaName string) Job {
	return Job{
		ContentID:    contentID,
		ContentKind:  kind,
		MediaFolder:  mediaFolder,
		MediaName:    mediaName,
		OutputFolder: OutputFolder(mediaFolder),
	}
}

// OutputFolder is the folder transcripts of mediaFolder are written to.
func OutputFolder(mediaFolder string) string {
	return path.Join("transcriptions", mediaFolder)
}

type Requester interface {
	Request(ctx context.Context, job Job) error
}

// LogRequester only records the job. Used when no queue is configured.
type LogRequester struct {
	Log zerolog.Logger
}

func (l LogRequester) Request(_ context.Context, job Job) error {
	l.Log.Info().
		Str("content_id", job.ContentID).
		Str("content_kind", job.ContentKind).
		Str("media", path.Join(job.MediaFolder, job.MediaName)).
		Str("output_folder", job.OutputFolder).
		Msg("transcription requested")
	return nil
}

type listPusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisQueue pushes jobs as JSON onto a Redis list consumed by the worker.
type RedisQueue struct {
	Client listPusher
	Key    string
}

func (q RedisQueue) Request(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.Client.LPush(ctx, q.Key, data).Err(); err != nil {
		return fmt.Errorf("enqueue transcription for %s: %w", job.ContentID, err)
	}
	return nil
}
