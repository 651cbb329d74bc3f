package media

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentTypeAndExtension(t *testing.T) {
	tests := []struct {
		kind, contentType, ext string
	}{
		{KindImage, "image/jpeg", "jpg"},
		{KindVoice, "audio/ogg", "ogg"},
		{KindAudio, "audio/ogg", "ogg"},
		{KindDocument, "application/pdf", "pdf"},
		{KindVideo, "video/mp4", "mp4"},
		{"sticker", "application/octet-stream", "bin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.contentType, ContentType(tt.kind), tt.kind)
		assert.Equal(t, tt.ext, Extension(tt.kind), tt.kind)
	}
}

func TestKey(t *testing.T) {
	at := time.Unix(1700000000, 0)
	assert.Equal(t, "media/conv-1/1700000000.jpg", Key("conv-1", KindImage, at))
	assert.Equal(t, "media/.._x/1700000000.ogg", Key("../x", KindVoice, at))
	assert.Equal(t, "media/_/1700000000.bin", Key("..", "", at))
}

func TestAnalyze(t *testing.T) {
	a := Analyze(KindImage, "s3://b/k")
	assert.True(t, a.HasMedia)
	assert.Equal(t, []string{KindImage}, a.MediaTypes)
	assert.Equal(t, []string{ProcessorVisual}, a.ProcessingRequired)
	assert.Equal(t, "s3://b/k", a.Locator)

	assert.Equal(t, []string{ProcessorVoice}, Analyze(KindVoice, "x").ProcessingRequired)
	assert.Equal(t, []string{ProcessorDocument}, Analyze(KindDocument, "x").ProcessingRequired)
	assert.Equal(t, []string{ProcessorVisual}, Analyze(KindVideo, "x").ProcessingRequired)

	notStored := Analyze(KindVoice, "")
	assert.True(t, notStored.HasMedia)
	assert.Equal(t, []string{KindVoice}, notStored.MediaTypes)
	assert.Equal(t, []string{ProcessorVoice}, notStored.ProcessingRequired)
	assert.Empty(t, notStored.Locator)

	text := Analyze("text", "")
	assert.False(t, text.HasMedia)
	assert.NotNil(t, text.MediaTypes)
	assert.Empty(t, text.MediaTypes)
	assert.Empty(t, text.ProcessingRequired)
}

func TestLocalStore_Save(t *testing.T) {
	dir := t.TempDir()
	ls, err := NewLocalStore(dir)
	require.NoError(t, err)
	ls.now = func() time.Time { return time.Unix(1700000000, 0) }

	loc, err := ls.Save(context.Background(), []byte{1, 2, 3}, KindDocument, "conv-9")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(loc, "file://"))
	assert.True(t, strings.HasSuffix(loc, "media/conv-9/1700000000.pdf"))

	data, err := os.ReadFile(strings.TrimPrefix(loc, "file://"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestLocalStore_CancelledContext(t *testing.T) {
	ls, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ls.Save(ctx, []byte("x"), KindImage, "c")
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_Save(t *testing.T) {
	client := &fakeS3{}
	s := NewS3Store(client, "urbanhub-media")
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	loc, err := s.Save(context.Background(), []byte("OggS"), KindVoice, "conv-2")
	require.NoError(t, err)
	assert.Equal(t, "s3://urbanhub-media/media/conv-2/1700000000.ogg", loc)
	assert.Equal(t, "urbanhub-media", *client.in.Bucket)
	assert.Equal(t, "media/conv-2/1700000000.ogg", *client.in.Key)
	assert.Equal(t, "audio/ogg", *client.in.ContentType)
	assert.Equal(t, []byte("OggS"), client.body)
}

func TestS3Store_Error(t *testing.T) {
	s := NewS3Store(&fakeS3{err: errors.New("access denied")}, "b")
	_, err := s.Save(context.Background(), []byte("x"), KindImage, "c")
	assert.ErrorContains(t, err, "access denied")
}

type fakeDownloader struct {
	calls int
}

func (f *fakeDownloader) DownloadMedia(ctx context.Context, id string) ([]byte, string, error) {
	f.calls++
	return []byte("bytes-" + id), "image/jpeg", nil
}

func TestFetcher(t *testing.T) {
	d := &fakeDownloader{}
	f := NewFetcher(d)

	data, err := f.Fetch(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes-m1"), data)

	data, err = f.Fetch(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Equal(t, 1, d.calls)

	data, err = NewFetcher(nil).Fetch(context.Background(), "m1")
	require.NoError(t, err)
	assert.Nil(t, data)
}
