package contextstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"

	"github.com/wehubfusion/redwire/internal/xjson"
	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
)

// AzBlobOptions configures the Azure Blob context store.
type AzBlobOptions struct {
	ConnectionString string `json:"connectionString"`
	Container        string `json:"container"`
	Prefix           string `json:"prefix"`
}

// AzBlobStore keeps each scope as one JSON object blob named
// `<prefix><scope>.json`. Writes are read-modify-write under a per-store lock,
// so a single runtime must own the container prefix.
type AzBlobStore struct {
	client    *azblob.Client
	container string
	prefix    string
	logger    *zap.Logger

	mu            sync.Mutex
	containerInit bool
}

// NewAzBlobStore creates the store from a standard storage connection string.
// Plain http endpoints such as Azurite are allowed.
func NewAzBlobStore(opts AzBlobOptions, logger *zap.Logger) (*AzBlobStore, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts.ConnectionString == "" {
		return nil, rwerrors.BadArguments("connection string is required")
	}
	if opts.Container == "" {
		return nil, rwerrors.BadArguments("container name is required")
	}

	params := parseConnectionString(opts.ConnectionString)
	accountName := params["AccountName"]
	accountKey := params["AccountKey"]
	serviceURL := params["BlobEndpoint"]
	if accountName == "" || accountKey == "" {
		return nil, rwerrors.BadArguments("account name and key are required in the connection string")
	}
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	var clientOpts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &AzBlobStore{
		client:    client,
		container: opts.Container,
		prefix:    opts.Prefix,
		logger:    logger,
	}, nil
}

func (s *AzBlobStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureContainer(ctx)
}

func (s *AzBlobStore) Close(context.Context) error { return nil }

func (s *AzBlobStore) blobName(scope string) string {
	return s.prefix + scope + ".json"
}

func (s *AzBlobStore) Get(ctx context.Context, scope, key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load(ctx, scope)
	if err != nil {
		return nil, err
	}
	v, ok := values[key]
	if !ok {
		return nil, rwerrors.NotFound("context key %q in scope %q", key, scope)
	}
	return v, nil
}

func (s *AzBlobStore) Keys(ctx context.Context, scope string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load(ctx, scope)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *AzBlobStore) Set(ctx context.Context, scope, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load(ctx, scope)
	if err != nil {
		return err
	}
	values[key] = value
	return s.save(ctx, scope, values)
}

func (s *AzBlobStore) Delete(ctx context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load(ctx, scope)
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.save(ctx, scope, values)
}

func (s *AzBlobStore) Clean(ctx context.Context, activeScopes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := activeSet(activeScopes)
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(s.prefix),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list context blobs: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			scope := strings.TrimSuffix(strings.TrimPrefix(*item.Name, s.prefix), ".json")
			if _, ok := active[scope]; ok {
				continue
			}
			if _, err := s.client.DeleteBlob(ctx, s.container, *item.Name, nil); err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
				return fmt.Errorf("failed to delete context blob %s: %w", *item.Name, err)
			}
		}
	}
	return nil
}

func (s *AzBlobStore) load(ctx context.Context, scope string) (map[string]any, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, s.blobName(scope), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return make(map[string]any), nil
		}
		return nil, fmt.Errorf("failed to download context blob: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read context blob: %w", err)
	}
	values := make(map[string]any)
	if err := xjson.Unmarshal(data, &values); err != nil {
		return nil, rwerrors.InvalidData("corrupt context blob %s: %v", s.blobName(scope), err)
	}
	return values, nil
}

func (s *AzBlobStore) save(ctx context.Context, scope string, values map[string]any) error {
	data, err := encodeValue(values)
	if err != nil {
		return err
	}
	_, err = s.client.UploadBuffer(ctx, s.container, s.blobName(scope), data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr("application/json"),
		},
	})
	if err != nil {
		s.logger.Error("Failed to upload context blob",
			zap.String("scope", scope),
			zap.Int("size", len(data)),
			zap.Error(err))
		return fmt.Errorf("blob upload failed: %w", err)
	}
	return nil
}

func (s *AzBlobStore) ensureContainer(ctx context.Context) error {
	if s.containerInit {
		return nil
	}
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(bloberror.ContainerAlreadyExists) {
			s.containerInit = true
			return nil
		}
		return fmt.Errorf("failed to ensure container: %w", err)
	}
	s.containerInit = true
	return nil
}

func parseConnectionString(connectionString string) map[string]string {
	parts := strings.Split(connectionString, ";")
	params := make(map[string]string, len(parts))
	for _, part := range parts {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || key == "" {
			continue
		}
		params[key] = value
	}
	return params
}
