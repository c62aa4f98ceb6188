package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const evidenceBucket = "evidence"

type Client struct {
	client *minio.Client
}

func NewMinioClient(endpoint, accessKey, secretKey string) (*Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Client{client: client}, nil
}

// DownloadFramesFromURL fetches every object under a bucket folder URL, in
// listing order. Used by sessions whose video source is a stored frame
// folder.
func (c *Client) DownloadFramesFromURL(ctx context.Context, folderURL string) ([][]byte, error) {
	u, err := url.Parse(folderURL)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("folder URL %s has no bucket/folder path", folderURL)
	}
	bucket, folder := parts[0], parts[1]

	objectCh := c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    folder,
		Recursive: true,
	})

	var frames [][]byte
	for object := range objectCh {
		if object.Err != nil {
			return nil, object.Err
		}
		if strings.HasSuffix(object.Key, "/") {
			continue
		}

		obj, err := c.client.GetObject(ctx, bucket, object.Key, minio.GetObjectOptions{})
		if err != nil {
			return nil, err
		}

		buf := new(bytes.Buffer)
		_, err = io.Copy(buf, obj)
		obj.Close()
		if err != nil {
			return nil, err
		}

		frames = append(frames, buf.Bytes())
	}

	return frames, nil
}

// UploadRecording stores the finalized incident video and returns its URL.
func (c *Client) UploadRecording(ctx context.Context, incidentID string, video []byte) (string, error) {
	objectPath := fmt.Sprintf("%s/recording.mjpeg", incidentID)

	_, err := c.client.PutObject(
		ctx,
		evidenceBucket,
		objectPath,
		bytes.NewReader(video),
		int64(len(video)),
		minio.PutObjectOptions{
			ContentType: "video/x-motion-jpeg",
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to upload recording: %w", err)
	}
	return c.objectURL(objectPath), nil
}

// UploadThumbnail stores the first-frame snapshot taken when the incident
// was created.
func (c *Client) UploadThumbnail(ctx context.Context, incidentID string, jpeg []byte) (string, error) {
	objectPath := fmt.Sprintf("%s/thumbnail.jpg", incidentID)

	_, err := c.client.PutObject(
		ctx,
		evidenceBucket,
		objectPath,
		bytes.NewReader(jpeg),
		int64(len(jpeg)),
		minio.PutObjectOptions{
			ContentType: "image/jpeg",
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to upload thumbnail: %w", err)
	}
	return c.objectURL(objectPath), nil
}

func (c *Client) objectURL(objectPath string) string {
	return fmt.Sprintf("http://%s/%s/%s", c.client.EndpointURL().Host, evidenceBucket, objectPath)
}
