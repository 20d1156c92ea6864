package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/ratedesk/internal/domain"
)

func TestObjectName(t *testing.T) {
	a := ObjectName("Logo.PNG")
	b := ObjectName("Logo.PNG")

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, ".png"), a)
	assert.Len(t, strings.Split(a, "/"), 4)

	assert.False(t, strings.Contains(ObjectName(`C:\docs\..\terms.pdf`), ".."))
	assert.NotContains(t, path.Base(ObjectName("terms")), ".")
}

func TestPublicBase(t *testing.T) {
	assert.Equal(t, "http://minio:9000", PublicBase(domain.StorageConfig{Endpoint: "minio:9000"}))
	assert.Equal(t, "https://files.example.com", PublicBase(domain.StorageConfig{Endpoint: "https://files.example.com/", Secure: true}))
	assert.Equal(t, "https://cdn.example.com", PublicBase(domain.StorageConfig{Endpoint: "minio:9000", PublicURL: "https://cdn.example.com/"}))
}

func TestObjectURL(t *testing.T) {
	got := ObjectURL("http://minio:9000", "uploads", "2026/10/15/a b.pdf")
	assert.Equal(t, "http://minio:9000/uploads/2026/10/15/a%20b.pdf", got)
}

// TestMinioUploader needs a MinIO server; set RATEDESK_TEST_MINIO to its endpoint.
func TestMinioUploader(t *testing.T) {
	endpoint := os.Getenv("RATEDESK_TEST_MINIO")
	if endpoint == "" {
		t.Skip("RATEDESK_TEST_MINIO not set")
	}

	ctx := context.Background()
	u, err := NewMinioUploader(ctx, domain.StorageConfig{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "ratedesk-test",
	})
	require.NoError(t, err)

	body := []byte("%PDF-1.4 terms")
	res, err := u.Upload(ctx, "terms.pdf", "application/pdf", int64(len(body)), bytes.NewReader(body))
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "terms.pdf", res.Files[0].OriginalName)

	resp, err := http.Get(res.Files[0].URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		got, _ := io.ReadAll(resp.Body)
		assert.Equal(t, body, got)
	}

	_, err = u.Upload(ctx, "", "", 0, bytes.NewReader(nil))
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}
